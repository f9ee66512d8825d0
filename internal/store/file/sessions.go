// Package file provides the default, single-process storage backend:
// SessionStore and MemoryStore implementations that are thin constructors
// over internal/sessions.Store and internal/memory.Store, plus a
// filesystem-backed CronStore persisting cron_jobs.json per agent.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nextlevelbuilder/pinchy/internal/memory"
	"github.com/nextlevelbuilder/pinchy/internal/sessions"
	"github.com/nextlevelbuilder/pinchy/internal/store"
)

// NewSessionStore returns store.SessionStore backed by JSONL files under
// workspace, with the cross-agent index under home.
func NewSessionStore(workspace, home string) store.SessionStore {
	return sessions.New(workspace, home)
}

// NewMemoryStore opens store.MemoryStore backed by the SQLite database
// at path.
func NewMemoryStore(path string) (store.MemoryStore, error) {
	return memory.Open(path)
}

// CronStore persists one cron_jobs.json file per agent workspace
// (<agentsRoot>/<agent_id>/workspace/cron_jobs.json), plus an append-only
// cron_results.jsonl trail of recent fire results alongside it.
type CronStore struct {
	mu         sync.Mutex
	agentsRoot string
}

func NewCronStore(agentsRoot string) *CronStore {
	return &CronStore{agentsRoot: agentsRoot}
}

func (c *CronStore) workspaceDir(agentID string) string {
	return filepath.Join(c.agentsRoot, agentID, "workspace")
}

func (c *CronStore) jobsPath(agentID string) string {
	return filepath.Join(c.workspaceDir(agentID), "cron_jobs.json")
}

func (c *CronStore) resultsPath(agentID string) string {
	return filepath.Join(c.workspaceDir(agentID), "cron_results.jsonl")
}

// LoadJobs reads the runtime-persisted cron job set for agentID. A missing
// file is not an error; it returns an empty slice, letting callers merge
// purely against the config-declared set.
func (c *CronStore) LoadJobs(_ context.Context, agentID string) ([]store.CronJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.jobsPath(agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cron jobs: %w", err)
	}
	var jobs []store.CronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parse cron jobs: %w", err)
	}
	return jobs, nil
}

// SaveJobs writes the full runtime cron job set for agentID, via
// write-temp + rename so a crash mid-write never corrupts the file.
func (c *CronStore) SaveJobs(_ context.Context, agentID string, jobs []store.CronJob) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.workspaceDir(agentID), 0o755); err != nil {
		return fmt.Errorf("create agent workspace: %w", err)
	}
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cron jobs: %w", err)
	}
	path := c.jobsPath(agentID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cron jobs temp: %w", err)
	}
	return os.Rename(tmp, path)
}

// RecordResult appends one cron job fire outcome to agentID's results
// trail.
func (c *CronStore) RecordResult(_ context.Context, agentID string, result store.CronJobResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.workspaceDir(agentID), 0o755); err != nil {
		return fmt.Errorf("create agent workspace: %w", err)
	}
	line, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal cron result: %w", err)
	}
	f, err := os.OpenFile(c.resultsPath(agentID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open cron results: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

var _ store.CronStore = (*CronStore)(nil)
