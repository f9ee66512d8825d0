package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/pinchy/internal/agent"
	"github.com/nextlevelbuilder/pinchy/internal/config"
	"github.com/nextlevelbuilder/pinchy/internal/store"
)

type countingRunner struct {
	runs     atomic.Int64
	lastMsg  atomic.Value
	returned error
}

func (c *countingRunner) RunTurn(ctx context.Context, msg agent.IncomingMessage) (agent.TurnResult, error) {
	c.runs.Add(1)
	c.lastMsg.Store(msg)
	return agent.TurnResult{Reply: "ok"}, c.returned
}

func TestMergedJobsRuntimeWinsByName(t *testing.T) {
	configured := []config.CronJobConfig{
		{Name: "daily", Schedule: "0 0 9 * * *", Message: "from config"},
		{Name: "weekly", Schedule: "0 0 9 * * 1", Message: "weekly"},
	}
	persisted := []store.CronJob{
		{Name: "daily", Schedule: "0 30 9 * * *", Message: "from runtime"},
		{Name: "extra", Schedule: "0 0 12 * * *", Message: "extra"},
	}

	merged := mergedJobs(configured, persisted)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged jobs, got %d: %+v", len(merged), merged)
	}
	byName := make(map[string]store.CronJob)
	for _, j := range merged {
		byName[j.Name] = j
	}
	if byName["daily"].Message != "from runtime" {
		t.Fatalf("runtime entry should win for daily, got %+v", byName["daily"])
	}
	if byName["weekly"].Message != "weekly" || byName["extra"].Message != "extra" {
		t.Fatalf("merge lost entries: %+v", merged)
	}
}

func TestHeartbeatIntervalEnvOverride(t *testing.T) {
	t.Setenv("PINCHY_HEARTBEAT_SECS", "1")
	secs := uint64(600)
	got := heartbeatInterval(config.AgentConfig{HeartbeatSecs: &secs})
	if got != time.Second {
		t.Fatalf("expected 1s override, got %v", got)
	}
}

func TestHeartbeatIntervalDisabledWhenUnset(t *testing.T) {
	t.Setenv("PINCHY_HEARTBEAT_SECS", "")
	if got := heartbeatInterval(config.AgentConfig{}); got != 0 {
		t.Fatalf("expected 0 for unset heartbeat, got %v", got)
	}
}

func TestHeartbeatSnapshotReportsMissedAfterTwoIntervals(t *testing.T) {
	state := &HeartbeatState{AgentID: "a", IntervalSecs: 10}
	now := time.Now().Unix()
	state.LastTick = now - 25 // more than 2x interval ago

	view := state.snapshot(now)
	if view.Health != HealthMissed {
		t.Fatalf("expected MISSED, got %q", view.Health)
	}

	state.LastTick = now - 5
	view = state.snapshot(now)
	if view.Health != HealthOK {
		t.Fatalf("expected OK, got %q", view.Health)
	}
}

func TestHeartbeatSnapshotReportsError(t *testing.T) {
	state := &HeartbeatState{AgentID: "a", IntervalSecs: 10}
	state.lastErr = "provider down"
	view := state.snapshot(time.Now().Unix())
	if view.Health != "ERROR: provider down" {
		t.Fatalf("got %q", view.Health)
	}
}

func TestFireHeartbeatWritesStatusAndEvent(t *testing.T) {
	workspace := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspace, "HEARTBEAT.md"), []byte("check your tasks"), 0o644); err != nil {
		t.Fatal(err)
	}

	runner := &countingRunner{}
	secs := uint64(1)
	binding := AgentBinding{
		Config:    config.AgentConfig{ID: "hb", HeartbeatSecs: &secs},
		Workspace: workspace,
		Runner:    runner,
	}

	s := NewScheduler(nil, DefaultLanes(), DefaultQueueConfig())
	state := &HeartbeatState{AgentID: "hb", IntervalSecs: 1}
	s.fireHeartbeat(context.Background(), binding, state)

	if runner.runs.Load() != 1 {
		t.Fatalf("expected 1 run, got %d", runner.runs.Load())
	}
	msg := runner.lastMsg.Load().(agent.IncomingMessage)
	if msg.Channel != "heartbeat" || msg.Content != "check your tasks" {
		t.Fatalf("unexpected message %+v", msg)
	}

	okData, err := os.ReadFile(filepath.Join(workspace, "HEARTBEAT_OK"))
	if err != nil {
		t.Fatal(err)
	}
	ts, err := strconv.ParseInt(string(okData), 10, 64)
	if err != nil || ts <= 0 {
		t.Fatalf("HEARTBEAT_OK should hold a positive unix timestamp, got %q", okData)
	}

	statusData, err := os.ReadFile(filepath.Join(workspace, "heartbeat_status.json"))
	if err != nil {
		t.Fatal(err)
	}
	var view HeartbeatStatusView
	if err := json.Unmarshal(statusData, &view); err != nil {
		t.Fatal(err)
	}
	if view.Health != HealthOK || view.IntervalSecs != 1 {
		t.Fatalf("unexpected status %+v", view)
	}
	if view.NextTick <= view.LastTick {
		t.Fatalf("next_tick %d should be after last_tick %d", view.NextTick, view.LastTick)
	}

	events, err := os.ReadDir(filepath.Join(workspace, "cron_events"))
	if err != nil || len(events) == 0 {
		t.Fatalf("expected a cron_events entry, err=%v", err)
	}
}

func TestFireHeartbeatSkipsWithoutHeartbeatFile(t *testing.T) {
	workspace := t.TempDir()
	runner := &countingRunner{}
	secs := uint64(1)
	binding := AgentBinding{
		Config:    config.AgentConfig{ID: "hb", HeartbeatSecs: &secs},
		Workspace: workspace,
		Runner:    runner,
	}

	s := NewScheduler(nil, DefaultLanes(), DefaultQueueConfig())
	state := &HeartbeatState{AgentID: "hb", IntervalSecs: 1}
	s.fireHeartbeat(context.Background(), binding, state)

	if runner.runs.Load() != 0 {
		t.Fatalf("tick without HEARTBEAT.md should not run a turn, got %d", runner.runs.Load())
	}
}

func TestHeartbeatTicksEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("timing-dependent")
	}
	workspace := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspace, "HEARTBEAT.md"), []byte("tick"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PINCHY_HEARTBEAT_SECS", "1")

	runner := &countingRunner{}
	s := NewScheduler(nil, []Lane{LaneHeartbeat}, DefaultQueueConfig())
	s.Bind(AgentBinding{
		Config:    config.AgentConfig{ID: "hb"},
		Workspace: workspace,
		Runner:    runner,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	time.Sleep(2500 * time.Millisecond)

	if runner.runs.Load() < 1 {
		t.Fatal("expected at least one heartbeat tick")
	}
	if _, err := os.Stat(filepath.Join(workspace, "HEARTBEAT_OK")); err != nil {
		t.Fatalf("HEARTBEAT_OK missing: %v", err)
	}
	view, ok := s.HeartbeatStatus("hb")
	if !ok {
		t.Fatal("no heartbeat status for agent")
	}
	if view.Health != HealthOK {
		t.Fatalf("expected OK health, got %q", view.Health)
	}
}

func TestCronTickFiresDueJob(t *testing.T) {
	workspace := t.TempDir()
	runner := &countingRunner{}
	binding := AgentBinding{
		Config: config.AgentConfig{
			ID:       "cr",
			CronJobs: []config.CronJobConfig{{Name: "every-second", Schedule: "* * * * * *", Message: "go"}},
		},
		Workspace: workspace,
		Runner:    runner,
	}

	s := NewScheduler(nil, []Lane{LaneCron}, DefaultQueueConfig())
	lastFired := make(map[string]int64)
	now := time.Now()
	s.tickCron(context.Background(), binding, now, lastFired)

	if runner.runs.Load() != 1 {
		t.Fatalf("expected 1 cron run, got %d", runner.runs.Load())
	}
	msg := runner.lastMsg.Load().(agent.IncomingMessage)
	if msg.Channel != "cron" || msg.Content != "go" {
		t.Fatalf("unexpected message %+v", msg)
	}

	// Same second again: deduped.
	s.tickCron(context.Background(), binding, now, lastFired)
	if runner.runs.Load() != 1 {
		t.Fatalf("same-second refire should be deduped, got %d", runner.runs.Load())
	}
}
