package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// contextFilenames are the workspace-root files folded into every agent's
// system prompt, in this order, when present.
var contextFilenames = []string{"AGENT.md", "USER.md"}

// Load reads the workspace's bootstrap context files (AGENT.md, USER.md),
// skipping any that don't exist. Read errors other than "not found" are
// returned so a misconfigured workspace fails loudly rather than silently
// running with a partial prompt.
func Load(workspace string) ([]ContextFile, error) {
	var out []ContextFile
	for _, name := range contextFilenames {
		path := filepath.Join(workspace, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, ContextFile{Path: path, Content: string(data)})
	}
	return out, nil
}

// LoadHeartbeat reads the workspace's HEARTBEAT.md, used as the injected
// message for heartbeat turns. A missing file is not an error; it returns
// an empty string and the scheduler skips the tick.
func LoadHeartbeat(workspace string) (string, error) {
	data, err := os.ReadFile(filepath.Join(workspace, "HEARTBEAT.md"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read HEARTBEAT.md: %w", err)
	}
	return string(data), nil
}

// skillDir mirrors internal/tools' agent-scoped skill directory layout:
// <workspace>/skills/<name>/SKILL.md.
func skillDir(workspace, name string) string {
	return filepath.Join(workspace, "skills", name)
}

// LoadSkills reads the SKILL.md body for each enabled skill id, in order,
// skipping any that are missing on disk (a skill enabled in config but
// never created yet). Front matter is not parsed here — callers get the
// raw body, which is what gets concatenated under a heading in the
// system prompt.
func LoadSkills(workspace string, enabledSkills []string) ([]ContextFile, error) {
	var out []ContextFile
	for _, id := range enabledSkills {
		path := filepath.Join(skillDir(workspace, id), "SKILL.md")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read skill %q: %w", id, err)
		}
		body := string(data)
		if parts := strings.SplitN(body, "---", 3); len(parts) == 3 {
			body = strings.TrimSpace(parts[2])
		}
		out = append(out, ContextFile{Path: id, Content: body})
	}
	return out, nil
}
