package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ExpandHome expands a leading "~" to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Load reads and parses config.yaml at path. A missing file returns
// Default() rather than an error — first-run bootstrap is not a config
// error.
func Load(path string) (*Config, error) {
	path = ExpandHome(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			ApplyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config.yaml: %w", err)
	}
	ApplyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes cfg to path as YAML with 0600 permissions, first copying any
// existing file to a timestamped backup alongside it — "config.yaml.bak.<unix>" —
// per the gateway's config PUT contract.
func Save(path string, cfg *Config) error {
	path = ExpandHome(path)
	if _, err := os.Stat(path); err == nil {
		backup := fmt.Sprintf("%s.bak.%d", path, time.Now().Unix())
		old, rerr := os.ReadFile(path)
		if rerr == nil {
			_ = os.WriteFile(backup, old, 0o600)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	return nil
}

// Hash returns a SHA-256 hex digest of cfg's canonical YAML encoding, so
// two configs can be compared for change. The gateway's PUT /api/config
// does not consult it.
func (c *Config) Hash() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ApplyEnvOverrides overlays PINCHY_*-prefixed environment variables onto
// cfg. Only a small, explicit set of fields are overridable. The Postgres
// DSN comes only from the environment and is never written to config.yaml.
// A model's API key comes from config.yaml's api_key or, when that is
// empty, from <PROVIDER>_API_KEY; Save writes whatever APIKey then holds.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PINCHY_POSTGRES_DSN"); v != "" {
		cfg.Database.PostgresDSN = v
	}
	if v := os.Getenv("PINCHY_SESSION_EXPIRY_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionExpiryDays = &n
		}
	}
	if v := os.Getenv("PINCHY_CRON_EVENTS_MAX_KEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CronEventsMaxKeep = &n
		}
	}
	for i := range cfg.Models {
		m := &cfg.Models[i]
		if m.APIKey == "" {
			envKey := strings.ToUpper(m.Provider) + "_API_KEY"
			if v := os.Getenv(envKey); v != "" {
				m.APIKey = v
			}
		}
	}
}

// WorkspacePath returns the workspace directory for an agent, expanding
// "~" in the agent's configured root.
func WorkspacePath(agent *AgentConfig) string {
	return filepath.Join(ExpandHome(agent.Root), "workspace")
}

// Watch starts an fsnotify watch on path and invokes onChange whenever the
// file is written or renamed into place (editors commonly replace files via
// rename-on-save). The returned function stops the watch.
func Watch(path string, onChange func()) (stop func(), err error) {
	path = ExpandHome(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					onChange()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
