// Package scheduler runs the recurring background work every agent
// carries alongside its on-demand turns: a heartbeat tick and a set of
// cron jobs, each run by its own goroutine. Every fire is an ordinary
// RunTurn call on the agent turn loop, the same path a live chat turn
// takes.
package scheduler

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/pinchy/internal/agent"
	"github.com/nextlevelbuilder/pinchy/internal/config"
	"github.com/nextlevelbuilder/pinchy/internal/store"
)

// Lane names one kind of scheduled work. Start spawns the heartbeat and
// cron loops only for the lanes the Scheduler was built with.
type Lane string

const (
	LaneHeartbeat Lane = "heartbeat"
	LaneCron      Lane = "cron"
)

// DefaultLanes returns the lanes a Scheduler runs by default.
func DefaultLanes() []Lane { return []Lane{LaneHeartbeat, LaneCron} }

// QueueConfig carries per-lane queue depths. The Scheduler stores it but
// does not consult it: each loop runs its fires one at a time, and a
// time.Ticker keeps at most one pending tick while a fire is running,
// dropping the rest.
type QueueConfig struct {
	HeartbeatQueueDepth int
	CronQueueDepth      int
}

// DefaultQueueConfig returns a heartbeat depth of 1 and a cron depth of 4;
// these values are not enforced (see QueueConfig).
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{HeartbeatQueueDepth: 1, CronQueueDepth: 4}
}

// TurnRunner is the subset of *agent.Loop the scheduler needs: turning an
// IncomingMessage into a TurnResult. A separate interface (rather than a
// concrete *agent.Loop field) keeps the scheduler testable without a full
// agent wiring.
type TurnRunner interface {
	RunTurn(ctx context.Context, msg agent.IncomingMessage) (agent.TurnResult, error)
}

// AgentBinding is everything the scheduler needs for one agent: its
// config (for HeartbeatSecs/CronJobs), its workspace root (to read
// HEARTBEAT.md and write HEARTBEAT_OK/cron_events), and the runner that
// actually executes its turns.
type AgentBinding struct {
	Config    config.AgentConfig
	Workspace string
	Runner    TurnRunner
}

// Scheduler owns one background goroutine pair (heartbeat + cron) per
// bound agent.
type Scheduler struct {
	cron  store.CronStore
	lanes []Lane
	queue QueueConfig

	mu       sync.Mutex
	bindings map[string]AgentBinding
	cancels  []context.CancelFunc
	wg       sync.WaitGroup
	started  bool

	statusMu sync.Mutex
	status   map[string]*HeartbeatState
}

// NewScheduler constructs a Scheduler persisting cron runtime state via
// cronStore, restricted to lanes with the given queue bounds.
func NewScheduler(cronStore store.CronStore, lanes []Lane, queue QueueConfig) *Scheduler {
	return &Scheduler{
		cron:     cronStore,
		lanes:    lanes,
		queue:    queue,
		bindings: make(map[string]AgentBinding),
		status:   make(map[string]*HeartbeatState),
	}
}

// Bind registers (or replaces) the binding for one agent. Must be called
// before Start for that agent's tasks to be spawned.
func (s *Scheduler) Bind(b AgentBinding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[b.Config.ID] = b
}

// Start spawns the heartbeat and cron tasks for every bound agent.
// Idempotent: calling Start twice without an intervening Stop is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	hasLane := func(l Lane) bool {
		for _, x := range s.lanes {
			if x == l {
				return true
			}
		}
		return false
	}

	for _, b := range s.bindings {
		b := b
		if hasLane(LaneHeartbeat) {
			interval := heartbeatInterval(b.Config)
			if interval > 0 {
				taskCtx, cancel := context.WithCancel(ctx)
				s.cancels = append(s.cancels, cancel)
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					s.runHeartbeatLoop(taskCtx, b, interval)
				}()
			}
		}
		if hasLane(LaneCron) {
			taskCtx, cancel := context.WithCancel(ctx)
			s.cancels = append(s.cancels, cancel)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.runCronLoop(taskCtx, b)
			}()
		}
	}
	return nil
}

// Stop cancels every spawned task and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.started = false
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	s.wg.Wait()
}

// heartbeatInterval resolves the agent's configured heartbeat interval,
// with PINCHY_HEARTBEAT_SECS overriding it (for tests that can't wait on
// production-scale intervals).
func heartbeatInterval(cfg config.AgentConfig) time.Duration {
	if override := os.Getenv("PINCHY_HEARTBEAT_SECS"); override != "" {
		if secs, err := parseUint(override); err == nil && secs >= 1 {
			return time.Duration(secs) * time.Second
		}
	}
	if cfg.HeartbeatSecs == nil || *cfg.HeartbeatSecs < 1 {
		return 0
	}
	return time.Duration(*cfg.HeartbeatSecs) * time.Second
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

// gronxMatcher matches a 6-field extended cron expression (seconds
// minutes hours day-of-month month day-of-week) against a reference time.
var gronxMatcher = gronx.New()
