package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/pinchy/internal/bus"
	"github.com/nextlevelbuilder/pinchy/internal/config"
	"github.com/nextlevelbuilder/pinchy/internal/sessions"
	"github.com/nextlevelbuilder/pinchy/internal/store"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	home := t.TempDir()
	root := filepath.Join(home, "agents", "alpha")
	cfg := &config.Config{
		Agents: []config.AgentConfig{{ID: "alpha", Root: root}},
	}
	workspace := filepath.Join(root, "workspace")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatal(err)
	}

	stores := &store.Stores{Sessions: sessions.New(workspace, home)}
	srv := NewServer(filepath.Join(home, "config.yaml"), cfg, stores, nil, bus.New())
	return srv, workspace
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, "GET", "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Fatalf("got %+v", body)
	}
}

func TestHealthEndpointCountsAgents(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, "GET", "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["agents"].(float64) != 1 {
		t.Fatalf("got %+v", body)
	}
}

func TestListAgents(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, "GET", "/api/agents", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "alpha") {
		t.Fatalf("body %s", rec.Body.String())
	}
}

func TestGetAgentUnknownReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, "GET", "/api/agents/nobody", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestPutAgentRejectsUnknownSkill(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, "PUT", "/api/agents/alpha", `{"enabled_skills":["ghost"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "unknown skill: ghost") {
		t.Fatalf("body %s", rec.Body.String())
	}
}

func TestPutAgentAcceptsKnownSkill(t *testing.T) {
	srv, workspace := newTestServer(t)
	skillDir := filepath.Join(workspace, "skills", "notes")
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, srv, "PUT", "/api/agents/alpha", `{"enabled_skills":["notes"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	a := srv.Cfg.ResolveAgent("alpha")
	if len(a.EnabledSkills) != 1 || a.EnabledSkills[0] != "notes" {
		t.Fatalf("skills not applied: %+v", a.EnabledSkills)
	}
}

func TestGetAgentRejectsInvalidPathSegment(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, "GET", "/api/agents/..%2Fescape", "")
	if rec.Code != http.StatusBadRequest && rec.Code != http.StatusNotFound {
		t.Fatalf("expected rejection, got %d", rec.Code)
	}
}

func TestSlashCommandNewCreatesSession(t *testing.T) {
	srv, workspace := newTestServer(t)
	out, err := srv.RunSlashCommand(context.Background(), "/new", "alpha", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "started session ") {
		t.Fatalf("got %q", out)
	}

	id := strings.TrimPrefix(out, "started session ")
	cur, err := os.ReadFile(filepath.Join(workspace, "CURRENT_SESSION"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(cur)) != id {
		t.Fatalf("CURRENT_SESSION %q != %q", cur, id)
	}
}

func TestSlashCommandUnknownFails(t *testing.T) {
	srv, _ := newTestServer(t)
	if _, err := srv.RunSlashCommand(context.Background(), "/nope", "alpha", ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestListSlashCommands(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, "GET", "/api/slash-commands", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/new") {
		t.Fatalf("body %s", rec.Body.String())
	}
}

func TestReceiptsUnknownSessionReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, "GET", "/api/agents/alpha/receipts/does-not-exist", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestReceiptsListSessions(t *testing.T) {
	srv, workspace := newTestServer(t)
	sessStore := sessions.New(workspace, filepath.Dir(workspace))
	if err := sessStore.Append("abc", sessions.Exchange{Timestamp: 1, Role: "user", Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, srv, "GET", "/api/agents/alpha/receipts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "abc") {
		t.Fatalf("body %s", rec.Body.String())
	}
}