// Package sessions persists per-session conversation exchanges as
// append-only JSONL files, tracks the current session per workspace, and
// maintains a global cross-agent index.
package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Exchange is one JSONL line in a session file.
type Exchange struct {
	Timestamp int64           `json:"timestamp"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Receipt is one JSONL line in a session's .receipts.jsonl sibling file.
type Receipt struct {
	Timestamp     int64  `json:"timestamp"`
	CallID        string `json:"call_id"`
	Name          string `json:"name"`
	ArgsPreview   string `json:"args_preview"`
	ResultSummary string `json:"result_summary"`
	DurationMS    int64  `json:"duration_ms"`
	OK            bool   `json:"ok"`
}

// IndexEntry is one line in <home>/sessions/index.jsonl.
type IndexEntry struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	Channel   string `json:"channel"`
	CreatedAt int64  `json:"created_at"`
}

// Store manages session files under a single workspace directory, plus the
// cross-agent global index under home.
type Store struct {
	workspace string
	home      string
	leases    *leaseTable
}

// New creates a Store rooted at workspace, with the global index written
// under home (<home>/sessions/index.jsonl).
func New(workspace, home string) *Store {
	return &Store{workspace: workspace, home: home, leases: newLeaseTable()}
}

func (s *Store) sessionsDir() string { return filepath.Join(s.workspace, "sessions") }

func (s *Store) jsonlPath(id string) string {
	return filepath.Join(s.sessionsDir(), sanitizeID(id)+".jsonl")
}

func (s *Store) receiptsPath(id string) string {
	return filepath.Join(s.sessionsDir(), sanitizeID(id)+".receipts.jsonl")
}

// sanitizeID strips path separators from an id before it is used to build
// a filename, defense against a crafted session id escaping sessions/.
func sanitizeID(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, "\\", "_")
	id = strings.ReplaceAll(id, "..", "_")
	return id
}

// Append serializes exchange as one JSONL line and appends it to the
// session's file, creating the file and sessions/ directory as needed.
// Callers are expected to hold the session's lease (Lease) for the
// duration of the turn that calls Append — that is what actually
// guarantees the total append-time ordering callers rely on; Append
// itself does not re-acquire it; a second lock attempt in the same
// goroutine that already holds the turn's lease would deadlock.
func (s *Store) Append(id string, exchange Exchange) error {
	if err := os.MkdirAll(s.sessionsDir(), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	line, err := json.Marshal(exchange)
	if err != nil {
		return fmt.Errorf("marshal exchange: %w", err)
	}
	return appendLine(s.jsonlPath(id), line)
}

// AppendReceipt records one tool-invocation receipt for a session.
func (s *Store) AppendReceipt(id string, r Receipt) error {
	if err := os.MkdirAll(s.sessionsDir(), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	return appendLine(s.receiptsPath(id), line)
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Sync()
}

// LoadHistory returns the last limit parseable Exchanges, in append order.
// Unparseable lines are skipped rather than failing the whole read. A
// missing session file returns an empty slice, not an error.
func (s *Store) LoadHistory(id string, limit int) ([]Exchange, error) {
	return loadJSONLTail[Exchange](s.jsonlPath(id), limit)
}

// LoadReceipts returns the last limit parseable Receipts for a session.
func (s *Store) LoadReceipts(id string, limit int) ([]Receipt, error) {
	return loadJSONLTail[Receipt](s.receiptsPath(id), limit)
}

func loadJSONLTail[T any](path string, limit int) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var all []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(line, &item); err != nil {
			continue // best-effort: skip corrupt lines
		}
		all = append(all, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}
