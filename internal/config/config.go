// Package config defines the runtime's configuration tree and its
// load/save/watch lifecycle. The on-disk format is YAML (config.yaml);
// env vars of the form PINCHY_* override individual fields after load.
package config

// ModelConfig names one provider endpoint an agent can be pointed at.
type ModelConfig struct {
	ID                  string `yaml:"id"`
	Provider            string `yaml:"provider"`
	Model               string `yaml:"model,omitempty"`
	Endpoint            string `yaml:"endpoint,omitempty"`
	APIVersion          string `yaml:"api_version,omitempty"`
	APIKey              string `yaml:"api_key,omitempty"`
	EmbeddingDeployment string `yaml:"embedding_deployment,omitempty"`
}

// CronJobConfig is a config-declared scheduled job; runtime-created jobs
// persisted to cron_jobs.json with the same Name win over these at merge
// time (internal/scheduler).
type CronJobConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"`
	Message  string `yaml:"message,omitempty"`
}

// AgentConfig describes one long-lived agent identity.
type AgentConfig struct {
	ID                 string          `yaml:"id"`
	Root               string          `yaml:"root"`
	Model              string          `yaml:"model,omitempty"`
	FallbackModels     []string        `yaml:"fallback_models,omitempty"`
	HeartbeatSecs      *uint64         `yaml:"heartbeat_secs,omitempty"`
	CronJobs           []CronJobConfig `yaml:"cron_jobs,omitempty"`
	MaxToolIterations  *int            `yaml:"max_tool_iterations,omitempty"`
	EnabledSkills      []string        `yaml:"enabled_skills,omitempty"`
	ExtraExecCommands  []string        `yaml:"extra_exec_commands,omitempty"`
	WebhookSecret      string          `yaml:"webhook_secret,omitempty"`
	MCPServers         []string        `yaml:"mcp_servers,omitempty"`
	ToolPolicy         *ToolPolicySpec `yaml:"tool_policy,omitempty"`
	Vision             *VisionConfig   `yaml:"vision,omitempty"`
	ImageGen           *ImageGenConfig `yaml:"image_gen,omitempty"`
}

// ToolPolicySpec is one layer of the tool-access policy pipeline (global,
// per-provider, or per-agent): a named profile plus allow/deny/also-allow
// lists, each of which may reference "group:<name>" tool groups.
type ToolPolicySpec struct {
	Profile    string                    `yaml:"profile,omitempty"`
	Allow      []string                  `yaml:"allow,omitempty"`
	Deny       []string                  `yaml:"deny,omitempty"`
	AlsoAllow  []string                  `yaml:"also_allow,omitempty"`
	ByProvider map[string]ToolPolicySpec `yaml:"by_provider,omitempty"`
}

// ToolsConfig is the global tools: policy block in config.yaml.
type ToolsConfig struct {
	ToolPolicySpec `yaml:",inline"`
}

// VisionConfig overrides which provider/model read_image uses for a
// given agent, taking priority over the hardcoded vision provider list.
type VisionConfig struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// ImageGenConfig overrides which provider/model create_image uses for a
// given agent.
type ImageGenConfig struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// MCPServerConfig declares one external MCP server to source tools from
// (connected by internal/mcp's Manager, which registers its tools).
type MCPServerConfig struct {
	Name       string            `yaml:"name"`
	Transport  string            `yaml:"transport"` // "stdio" | "sse" | "streamable-http"
	Command    string            `yaml:"command,omitempty"`
	Args       []string          `yaml:"args,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	URL        string            `yaml:"url,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	ToolPrefix string            `yaml:"tool_prefix,omitempty"`
	TimeoutSec int               `yaml:"timeout_sec,omitempty"`
	AllowTools []string          `yaml:"allow_tools,omitempty"`
	DenyTools  []string          `yaml:"deny_tools,omitempty"`
	Disabled   bool              `yaml:"disabled,omitempty"`
}

// IsEnabled reports whether this server should be connected to at startup.
func (c *MCPServerConfig) IsEnabled() bool {
	return c != nil && !c.Disabled
}

// DatabaseConfig configures the optional Postgres-backed store
// (internal/store/pg), kept alongside the default file/SQLite backend for
// deployments that want session/memory/cron metadata shared across
// multiple runtime processes.
type DatabaseConfig struct {
	PostgresDSN string `yaml:"-"` // secret: env-only, never persisted to config.yaml
}

// Config is the top-level config.yaml document.
type Config struct {
	Models                []ModelConfig     `yaml:"models"`
	Channels              map[string]any    `yaml:"channels,omitempty"`
	Agents                []AgentConfig     `yaml:"agents"`
	Secrets               map[string]string `yaml:"secrets,omitempty"`
	Routing               map[string]any    `yaml:"routing,omitempty"`
	Skills                map[string]any    `yaml:"skills,omitempty"`
	MCPServers            []MCPServerConfig `yaml:"mcp_servers,omitempty"`
	Tools                 ToolsConfig       `yaml:"tools,omitempty"`
	SessionExpiryDays     *int              `yaml:"session_expiry_days,omitempty"`
	CronSessionExpiryDays *int              `yaml:"cron_session_expiry_days,omitempty"`
	CronEventsMaxKeep     *int              `yaml:"cron_events_max_keep,omitempty"`
	Database              DatabaseConfig    `yaml:"-"`
}

// ResolveAgent returns the AgentConfig with the given id, or nil.
func (c *Config) ResolveAgent(agentID string) *AgentConfig {
	for i := range c.Agents {
		if c.Agents[i].ID == agentID {
			return &c.Agents[i]
		}
	}
	return nil
}

// ResolveModel returns the ModelConfig with the given id, or nil.
func (c *Config) ResolveModel(modelID string) *ModelConfig {
	for i := range c.Models {
		if c.Models[i].ID == modelID {
			return &c.Models[i]
		}
	}
	return nil
}

// Default returns a minimal, valid configuration used when no config.yaml
// exists yet.
func Default() *Config {
	return &Config{
		Models: []ModelConfig{},
		Agents: []AgentConfig{},
	}
}
