// Package store defines the storage-backend interfaces the runtime is
// written against (SessionStore, MemoryStore, CronStore), plus two
// concrete backends: file (wraps internal/sessions and internal/memory
// directly) and pg (Postgres, for deployments sharing one workspace's
// metadata across multiple processes).
package store

import (
	"context"

	"github.com/nextlevelbuilder/pinchy/internal/memory"
	"github.com/nextlevelbuilder/pinchy/internal/sessions"
)

// SessionStore is the session-persistence contract the turn loop and the
// gateway's session/receipt RPCs are written against. Its shape mirrors
// internal/sessions.Store exactly, so that type satisfies this interface
// directly; the pg backend gives it a second, Postgres-backed
// implementation for multi-process deployments.
type SessionStore interface {
	Append(id string, exchange sessions.Exchange) error
	AppendReceipt(id string, r sessions.Receipt) error
	LoadHistory(id string, limit int) ([]sessions.Exchange, error)
	LoadReceipts(id string, limit int) ([]sessions.Receipt, error)

	SetCurrent(id string) error
	LoadCurrent() (string, bool)
	ClearCurrent() error

	AppendIndexEntry(entry sessions.IndexEntry) error
	NewSession(agentID, channel string, now int64) (string, error)
	ResolveSessionID(explicit, agentID, channel string, now int64) (id string, isNew bool, err error)

	List() ([]sessions.Info, error)
}

var _ SessionStore = (*sessions.Store)(nil)

// MemoryStore is the long-term-memory persistence contract the turn loop's
// prompt assembly is written against; the save_memory/recall_memory/
// forget_memory tools take *memory.Store directly. internal/memory.Store
// satisfies it directly.
type MemoryStore interface {
	Save(key, value string, tags []string) error
	Forget(key string) (bool, error)
	Search(query, tag string, limit int) ([]memory.ScoredEntry, error)
	PromptBlock(maxChars int) (string, error)
}

var _ MemoryStore = (*memory.Store)(nil)

// CronJob is one scheduled job, merged from config (internal/config's
// CronJobConfig) and the runtime-persisted cron_jobs.json, by name.
type CronJob struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"` // 6-field extended cron
	Message  string `json:"message,omitempty"`
}

// CronJobResult records the outcome of one cron job fire, passed by the
// scheduler to CronStore.RecordResult. Heartbeat ticks are not recorded
// here; they go to heartbeat_status.json and cron_events/.
type CronJobResult struct {
	Name  string `json:"name"`
	RanAt int64  `json:"ran_at"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// CronStore persists the runtime-created half of the cron job set (the
// other half lives in config.yaml's AgentConfig.CronJobs) plus a trail of
// recent run results, keyed by agent.
type CronStore interface {
	LoadJobs(ctx context.Context, agentID string) ([]CronJob, error)
	SaveJobs(ctx context.Context, agentID string, jobs []CronJob) error
	RecordResult(ctx context.Context, agentID string, result CronJobResult) error
}
