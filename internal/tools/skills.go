package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Skill is a persisted instructional-context bundle: a SKILL.md with
// YAML front-matter plus freeform markdown instructions, written by
// create_skill and re-registered into the Registry by SyncSkills so
// the agent can recall it across sessions.
type Skill struct {
	Name         string
	Description  string
	Instructions string
	Scope        string // "agent" or "global"
	Dir          string
}

var skillNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func skillDir(workspace, globalHome, name, scope string) string {
	if scope == "global" {
		return filepath.Join(globalHome, "skills", "global", name)
	}
	return filepath.Join(workspace, "skills", name)
}

func writeSkillFile(dir string, s Skill) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	md := fmt.Sprintf("---\nname: %s\nversion: \"0.1\"\ndescription: %q\nscope: %s\n---\n\n%s\n",
		s.Name, s.Description, s.Scope, s.Instructions)
	return os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(md), 0o644)
}

// loadSkillFile parses a SKILL.md written by writeSkillFile. Tolerant
// of hand-edited front matter; missing fields are left blank.
func loadSkillFile(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}
	text := string(data)
	parts := strings.SplitN(text, "---", 3)
	var s Skill
	s.Dir = filepath.Dir(path)
	if len(parts) == 3 {
		for _, line := range strings.Split(parts[1], "\n") {
			line = strings.TrimSpace(line)
			if k, v, ok := strings.Cut(line, ":"); ok {
				v = strings.Trim(strings.TrimSpace(v), `"`)
				switch strings.TrimSpace(k) {
				case "name":
					s.Name = v
				case "description":
					s.Description = v
				case "scope":
					s.Scope = v
				}
			}
		}
		s.Instructions = strings.TrimSpace(parts[2])
	} else {
		s.Instructions = strings.TrimSpace(text)
	}
	return s, nil
}

// skillAsTool wraps a Skill so it can sit in the Registry alongside
// built-ins: calling it returns the skill's instructions as context
// rather than performing an action.
type skillAsTool struct{ s Skill }

func (t skillAsTool) Name() string        { return t.s.Name }
func (t skillAsTool) Description() string { return t.s.Description }
func (t skillAsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t skillAsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return SilentResult(t.s.Instructions)
}

// CreateSkillTool is create_skill.
type CreateSkillTool struct {
	globalHome string
}

func NewCreateSkillTool(globalHome string) *CreateSkillTool {
	return &CreateSkillTool{globalHome: globalHome}
}

func (t *CreateSkillTool) Name() string { return "create_skill" }
func (t *CreateSkillTool) Description() string {
	return "Create a new skill (instructional context) that persists across sessions."
}
func (t *CreateSkillTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name":         map[string]interface{}{"type": "string", "description": "Unique skill identifier (alphanumeric, hyphens, underscores)"},
			"description":  map[string]interface{}{"type": "string", "description": "Short description of what this skill provides"},
			"instructions": map[string]interface{}{"type": "string", "description": "Markdown instructions injected into the agent's prompt when this skill is active"},
			"scope":        map[string]interface{}{"type": "string", "enum": []string{"agent", "global"}, "description": "Scope: 'agent' (default) or 'global'"},
		},
		"required": []string{"name", "description", "instructions"},
	}
}

func (t *CreateSkillTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	name, _ := args["name"].(string)
	if name == "" || !skillNamePattern.MatchString(name) {
		return ErrorResult("skill name must be non-empty and contain only alphanumeric, hyphens, or underscores")
	}
	description, _ := args["description"].(string)
	instructions, _ := args["instructions"].(string)
	if description == "" || instructions == "" {
		return ErrorResult("create_skill requires 'description' and 'instructions'")
	}
	scope, _ := args["scope"].(string)
	if scope == "" {
		scope = "agent"
	}

	workspace := ToolWorkspaceFromCtx(ctx)
	dir := skillDir(workspace, t.globalHome, name, scope)
	if _, err := os.Stat(filepath.Join(dir, "SKILL.md")); err == nil {
		return ErrorResult(fmt.Sprintf("skill %q already exists at %s", name, dir))
	}

	s := Skill{Name: name, Description: description, Instructions: instructions, Scope: scope, Dir: dir}
	if err := writeSkillFile(dir, s); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write skill: %v", err))
	}

	return SilentResult(fmt.Sprintf("Created skill %q at %s", name, dir))
}

// ListSkillsTool is list_skills.
type ListSkillsTool struct {
	registry *Registry
}

func NewListSkillsTool(registry *Registry) *ListSkillsTool {
	return &ListSkillsTool{registry: registry}
}

func (t *ListSkillsTool) Name() string        { return "list_skills" }
func (t *ListSkillsTool) Description() string { return "List all available skills (instructional context bundles)." }
func (t *ListSkillsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *ListSkillsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	t.registry.mu.RLock()
	skills := make([]*Skill, 0, len(t.registry.skills))
	for _, s := range t.registry.skills {
		skills = append(skills, s)
	}
	t.registry.mu.RUnlock()

	if len(skills) == 0 {
		return SilentResult("(no skills registered)")
	}
	var b strings.Builder
	for _, s := range skills {
		fmt.Fprintf(&b, "- %s (%s): %s\n", s.Name, s.Scope, s.Description)
	}
	return SilentResult(b.String())
}

// SyncSkills scans agentSkillsDir and globalHome/skills/global for
// SKILL.md files and re-registers each as a Tool, skipping names
// already present (the registry's first-registration-wins rule
// applies identically to skill-sourced tools). Safe to call multiple
// times.
func (r *Registry) SyncSkills(agentSkillsDir, globalHome string) error {
	dirs := []string{
		agentSkillsDir,
		filepath.Join(globalHome, "skills", "global"),
	}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue // missing skills dir is not an error
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name(), "SKILL.md")
			if _, err := os.Stat(path); err != nil {
				continue
			}
			s, err := loadSkillFile(path)
			if err != nil || s.Name == "" {
				continue
			}
			r.mu.Lock()
			r.skills[s.Name] = &s
			r.mu.Unlock()
			r.RegisterTool(skillAsTool{s: s})
		}
	}
	return nil
}
