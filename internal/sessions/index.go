package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

func (s *Store) globalIndexPath() string {
	return filepath.Join(s.home, "sessions", "index.jsonl")
}

// AppendIndexEntry appends one advisory record to the global, cross-agent
// session index at <home>/sessions/index.jsonl.
func (s *Store) AppendIndexEntry(entry IndexEntry) error {
	dir := filepath.Dir(s.globalIndexPath())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create global index dir: %w", err)
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal index entry: %w", err)
	}
	return appendLine(s.globalIndexPath(), line)
}

// NewSession mints a UUID v4 session id, sets it as CURRENT_SESSION, and
// appends a creation record to the global index — the "auto-create on
// first turn" / "/new" path.
func (s *Store) NewSession(agentID, channel string, now int64) (string, error) {
	id := uuid.NewString()
	if err := s.SetCurrent(id); err != nil {
		return "", err
	}
	if err := s.AppendIndexEntry(IndexEntry{
		SessionID: id,
		AgentID:   agentID,
		Channel:   channel,
		CreatedAt: now,
	}); err != nil {
		return "", err
	}
	return id, nil
}

// ResolveSessionID resolves the active session id: use explicit when given,
// else CURRENT_SESSION, else mint a new one.
func (s *Store) ResolveSessionID(explicit, agentID, channel string, now int64) (id string, isNew bool, err error) {
	if explicit != "" {
		return explicit, false, nil
	}
	if cur, ok := s.LoadCurrent(); ok {
		return cur, false, nil
	}
	id, err = s.NewSession(agentID, channel, now)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// List enumerates session ids present under sessions/ for this workspace,
// with basic stats, for the gateway's session-listing RPC.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	var out []Info
	seen := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		id := ""
		switch {
		case len(name) > len(".receipts.jsonl") && name[len(name)-len(".receipts.jsonl"):] == ".receipts.jsonl":
			continue // counted via the main .jsonl entry
		case len(name) > len(".meta.json") && name[len(name)-len(".meta.json"):] == ".meta.json":
			continue
		case len(name) > len(".jsonl") && name[len(name)-len(".jsonl"):] == ".jsonl":
			id = name[:len(name)-len(".jsonl")]
		default:
			continue
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		info, statErr := e.Info()
		var updated int64
		if statErr == nil {
			updated = info.ModTime().Unix()
		}
		history, _ := s.LoadHistory(id, 0)
		out = append(out, Info{Key: id, MessageCount: len(history), Updated: updated})
	}
	return out, nil
}

// Info summarizes one session for listing purposes.
type Info struct {
	Key          string `json:"key"`
	MessageCount int    `json:"message_count"`
	Updated      int64  `json:"updated"`
}
