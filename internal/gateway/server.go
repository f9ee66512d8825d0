// Package gateway exposes the runtime over HTTP and WebSocket: reading
// and writing config, listing and patching agents, reading sessions and
// receipts, reading heartbeat status, and a small slash-command
// registry. Handlers are thin — they validate input and call into
// internal/config, internal/store, and internal/scheduler; none of the
// domain logic lives here.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/pinchy/internal/bus"
	"github.com/nextlevelbuilder/pinchy/internal/config"
	"github.com/nextlevelbuilder/pinchy/internal/scheduler"
	"github.com/nextlevelbuilder/pinchy/internal/sessions"
	"github.com/nextlevelbuilder/pinchy/internal/store"
	"github.com/nextlevelbuilder/pinchy/pkg/protocol"
)

// pathSegment is the strict whitelist every path parameter (agent id,
// session id, skill id) is checked against before it touches a file path
// or store key.
var pathSegment = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// SlashCommand is one registered `/name` handler.
type SlashCommand struct {
	Name    string
	Summary string
	Run     func(ctx context.Context, s *Server, agentID, arg string) (string, error)
}

// Server is the gateway's HTTP/WebSocket surface.
type Server struct {
	ConfigPath string
	Cfg        *config.Config
	cfgMu      sync.RWMutex

	Stores    *store.Stores
	Scheduler *scheduler.Scheduler
	Bus       *bus.MessageBus

	slashCommands map[string]SlashCommand

	upgrader websocket.Upgrader
	wsMu     sync.Mutex
	wsConns  map[*websocket.Conn]struct{}
}

// NewServer builds a Server and registers the built-in slash commands.
func NewServer(configPath string, cfg *config.Config, stores *store.Stores, sched *scheduler.Scheduler, msgBus *bus.MessageBus) *Server {
	s := &Server{
		ConfigPath:    configPath,
		Cfg:           cfg,
		Stores:        stores,
		Scheduler:     sched,
		Bus:           msgBus,
		slashCommands: make(map[string]SlashCommand),
		upgrader:      websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		wsConns:       make(map[*websocket.Conn]struct{}),
	}
	s.registerDefaultSlashCommands()
	return s
}

// SetConfig swaps in a freshly loaded config, used by the config-file
// watcher so a hand-edited config.yaml is picked up without a restart.
func (s *Server) SetConfig(cfg *config.Config) {
	s.cfgMu.Lock()
	s.Cfg = cfg
	s.cfgMu.Unlock()
}

func validSegment(s string) bool { return s != "" && pathSegment.MatchString(s) }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Routes returns the configured mux, wiring every handler this package
// exposes under the external HTTP surface.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("PUT /api/config", s.handlePutConfig)

	mux.HandleFunc("GET /api/skills", s.handleListSkills)

	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("PUT /api/agents/{id}", s.handlePutAgent)

	mux.HandleFunc("GET /api/heartbeat/status", s.handleHeartbeatStatusAll)
	mux.HandleFunc("GET /api/heartbeat/status/{id}", s.handleHeartbeatStatusOne)

	mux.HandleFunc("GET /api/agents/{id}/receipts", s.handleReceipts)
	mux.HandleFunc("GET /api/agents/{id}/receipts/{session}", s.handleReceipts)

	mux.HandleFunc("GET /api/slash-commands", s.handleListSlashCommands)

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /", s.handleIndex)

	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var serverStart = time.Now()

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.cfgMu.RLock()
	agentCount := len(s.Cfg.Agents)
	s.cfgMu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"version":     "dev",
		"uptime_secs": int64(time.Since(serverStart).Seconds()),
		"agents":      agentCount,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	writeJSON(w, http.StatusOK, s.Cfg)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var next config.Config
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid config body: %v", err))
		return
	}
	if err := config.Save(s.ConfigPath, &next); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.cfgMu.Lock()
	s.Cfg = &next
	s.cfgMu.Unlock()
	writeJSON(w, http.StatusOK, &next)
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	var names []string
	for i := range s.Cfg.Agents {
		dir := filepath.Join(config.WorkspacePath(&s.Cfg.Agents[i]), "skills")
		names = append(names, listSkillDirs(dir)...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"skills": dedupe(names)})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	writeJSON(w, http.StatusOK, s.Cfg.Agents)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !validSegment(id) {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	a := s.Cfg.ResolveAgent(id)
	if a == nil {
		writeError(w, http.StatusNotFound, "unknown agent: "+id)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type agentPatch struct {
	EnabledSkills *[]string `json:"enabled_skills,omitempty"`
}

func (s *Server) handlePutAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !validSegment(id) {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	var patch agentPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid patch body: %v", err))
		return
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	a := s.Cfg.ResolveAgent(id)
	if a == nil {
		writeError(w, http.StatusNotFound, "unknown agent: "+id)
		return
	}

	if patch.EnabledSkills != nil {
		known := dedupe(listSkillDirs(filepath.Join(config.WorkspacePath(a), "skills")))
		knownSet := make(map[string]bool, len(known))
		for _, k := range known {
			knownSet[k] = true
		}
		for _, skillID := range *patch.EnabledSkills {
			if !knownSet[skillID] {
				writeError(w, http.StatusBadRequest, "unknown skill: "+skillID)
				return
			}
		}
		a.EnabledSkills = *patch.EnabledSkills
	}

	if err := config.Save(s.ConfigPath, s.Cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleHeartbeatStatusAll(w http.ResponseWriter, r *http.Request) {
	if s.Scheduler == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.Scheduler.AllHeartbeatStatus())
}

func (s *Server) handleHeartbeatStatusOne(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !validSegment(id) {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	if s.Scheduler == nil {
		writeError(w, http.StatusNotFound, "no scheduler running")
		return
	}
	view, ok := s.Scheduler.HeartbeatStatus(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no heartbeat for agent: "+id)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	sessionID := r.PathValue("session")
	if !validSegment(agentID) || (sessionID != "" && !validSegment(sessionID)) {
		writeError(w, http.StatusBadRequest, "invalid path segment")
		return
	}
	if s.Stores == nil || s.Stores.Sessions == nil {
		writeError(w, http.StatusNotFound, "no session store configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	if sessionID == "" {
		sessions, err := s.Stores.Sessions.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sessions)
		return
	}

	receipts, err := s.Stores.Sessions.LoadReceipts(sessionID, limit)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session not found: %s", sessionID))
		return
	}
	if receipts == nil {
		// No receipts file: distinguish "session with no tool calls yet"
		// from "no such session at all".
		history, herr := s.Stores.Sessions.LoadHistory(sessionID, 1)
		if herr != nil || history == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("session not found: %s", sessionID))
			return
		}
		receipts = []sessions.Receipt{}
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (s *Server) handleListSlashCommands(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name    string `json:"name"`
		Summary string `json:"summary"`
	}
	var out []entry
	for _, c := range s.slashCommands {
		out = append(out, entry{Name: c.Name, Summary: c.Summary})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<!doctype html><html><body><h1>pinchy</h1></body></html>")
}

// handleWebSocket upgrades the connection and keeps it open indefinitely,
// broadcasting bus events as JSON and forwarding received text frames as
// inbound bus commands.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.wsMu.Lock()
	s.wsConns[conn] = struct{}{}
	s.wsMu.Unlock()

	subID := fmt.Sprintf("ws-%p", conn)
	var writeMu sync.Mutex
	if s.Bus != nil {
		s.Bus.Subscribe(subID, func(ev bus.Event) {
			data, err := json.Marshal(ev)
			if err != nil {
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.WriteMessage(websocket.TextMessage, data)
		})
	}

	defer func() {
		if s.Bus != nil {
			s.Bus.Unsubscribe(subID)
		}
		s.wsMu.Lock()
		delete(s.wsConns, conn)
		s.wsMu.Unlock()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if s.Bus != nil {
			s.Bus.PublishInbound(bus.InboundMessage{Channel: "ws", Content: string(msg)})
		}
	}
}

func listSkillDirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}

func (s *Server) registerDefaultSlashCommands() {
	s.slashCommands[protocol.CommandNew] = SlashCommand{
		Name:    protocol.CommandNew,
		Summary: "start a new session for this agent",
		Run: func(ctx context.Context, s *Server, agentID, arg string) (string, error) {
			if s.Stores == nil || s.Stores.Sessions == nil {
				return "", fmt.Errorf("no session store configured")
			}
			id, err := s.Stores.Sessions.NewSession(agentID, "slash", time.Now().Unix())
			if err != nil {
				return "", err
			}
			return "started session " + id, nil
		},
	}
}

// RunSlashCommand dispatches name against the registry. The leading "/"
// is optional: name is normalized to carry exactly one before lookup.
func (s *Server) RunSlashCommand(ctx context.Context, name, agentID, arg string) (string, error) {
	name = "/" + strings.TrimPrefix(name, "/")
	cmd, ok := s.slashCommands[name]
	if !ok {
		return "", fmt.Errorf("unknown slash command: %s", name)
	}
	return cmd.Run(ctx, s, agentID, arg)
}
