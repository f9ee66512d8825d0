package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/pinchy/internal/sessions"
)

// NewSessionTool is new_session: starts a fresh conversation thread
// for the calling agent and makes it the CURRENT session.
type NewSessionTool struct {
	store   *sessions.Store
	agentID string
}

func NewNewSessionTool(store *sessions.Store, agentID string) *NewSessionTool {
	return &NewSessionTool{store: store, agentID: agentID}
}

func (t *NewSessionTool) Name() string { return "new_session" }
func (t *NewSessionTool) Description() string {
	return "Start a new, empty conversation session and make it current."
}
func (t *NewSessionTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"channel": map[string]interface{}{"type": "string", "description": "Originating channel for the new session"},
		},
	}
}

func (t *NewSessionTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.store == nil {
		return ErrorResult("session store not available")
	}
	channel, _ := args["channel"].(string)
	if channel == "" {
		channel = ToolChannelFromCtx(ctx)
	}
	id, err := t.store.NewSession(t.agentID, channel, time.Now().Unix())
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to create session: %v", err))
	}
	return SilentResult(fmt.Sprintf("Started new session %s", id))
}
