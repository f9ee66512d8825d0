// Package bootstrap loads the workspace context files (AGENT.md, USER.md,
// and similar) merged into an agent's system prompt, plus HEARTBEAT.md and
// enabled skills. Files are only read when present; nothing is seeded.
package bootstrap

// ContextFile is one workspace-level file folded into an agent's system
// prompt. Path is the file's full path for Load results and the skill id
// for LoadSkills results.
type ContextFile struct {
	Path    string
	Content string
}
