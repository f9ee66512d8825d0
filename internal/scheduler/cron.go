package scheduler

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/pinchy/internal/agent"
	"github.com/nextlevelbuilder/pinchy/internal/config"
	"github.com/nextlevelbuilder/pinchy/internal/store"
)

// mergedJobs merges the config-declared cron job set with the
// runtime-persisted one: an entry in the runtime set wins over a
// config entry with the same Name, otherwise both contribute.
func mergedJobs(configured []config.CronJobConfig, persisted []store.CronJob) []store.CronJob {
	byName := make(map[string]store.CronJob, len(configured)+len(persisted))
	var order []string
	for _, c := range configured {
		byName[c.Name] = store.CronJob{Name: c.Name, Schedule: c.Schedule, Message: c.Message}
		order = append(order, c.Name)
	}
	for _, p := range persisted {
		if _, existed := byName[p.Name]; !existed {
			order = append(order, p.Name)
		}
		byName[p.Name] = p
	}
	out := make([]store.CronJob, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

func (s *Scheduler) runCronLoop(ctx context.Context, b AgentBinding) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastFired := make(map[string]int64)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tickCron(ctx, b, now, lastFired)
		}
	}
}

func (s *Scheduler) tickCron(ctx context.Context, b AgentBinding, now time.Time, lastFired map[string]int64) {
	var persisted []store.CronJob
	if s.cron != nil {
		persisted, _ = s.cron.LoadJobs(ctx, b.Config.ID)
	}
	jobs := mergedJobs(b.Config.CronJobs, persisted)

	for _, job := range jobs {
		due, err := gronxMatcher.IsDue(job.Schedule, now)
		if err != nil || !due {
			continue
		}
		nowUnix := now.Unix()
		if lastFired[job.Name] == nowUnix {
			continue // already fired this exact second
		}
		lastFired[job.Name] = nowUnix
		s.fireCronJob(ctx, b, job, nowUnix)
	}
}

func (s *Scheduler) fireCronJob(ctx context.Context, b AgentBinding, job store.CronJob, now int64) {
	message := job.Message
	if message == "" {
		message = job.Name
	}

	_, runErr := b.Runner.RunTurn(ctx, agent.IncomingMessage{
		AgentID: b.Config.ID, Author: "system", Content: message,
		Channel: "cron", Timestamp: now,
	})

	if s.cron != nil {
		result := store.CronJobResult{Name: job.Name, RanAt: now, OK: runErr == nil}
		if runErr != nil {
			result.Error = runErr.Error()
		}
		_ = s.cron.RecordResult(ctx, b.Config.ID, result)
	}

	emitCronEvent(b.Workspace, "cron:"+job.Name, b.Config.ID, runErr)
}
