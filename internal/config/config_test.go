package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil || cfg.Agents == nil {
		t.Fatalf("expected default config, got %+v", cfg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := Default()
	cfg.Models = append(cfg.Models, ModelConfig{ID: "m1", Provider: "openai", Model: "gpt-4o"})
	cfg.Agents = append(cfg.Agents, AgentConfig{ID: "a1", Root: dir})

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded.Models) != 1 || loaded.Models[0].ID != "m1" {
		t.Fatalf("got %+v", loaded.Models)
	}
	if loaded.ResolveAgent("a1") == nil {
		t.Fatal("expected agent a1 to resolve")
	}
}

func TestSaveCreatesTimestampedBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := Default()
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	cfg.Agents = append(cfg.Agents, AgentConfig{ID: "a1", Root: dir})
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".yaml" && filepath.Base(e.Name()) != "config.yaml" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a backup file to be created")
	}
}

func TestHashChangesWithContent(t *testing.T) {
	cfg := Default()
	h1, err := cfg.Hash()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Agents = append(cfg.Agents, AgentConfig{ID: "a1"})
	h2, err := cfg.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Fatal("expected hash to change after content change")
	}
}

func TestApplyEnvOverridesAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg := Default()
	cfg.Models = append(cfg.Models, ModelConfig{ID: "m1", Provider: "openai"})
	ApplyEnvOverrides(cfg)
	if cfg.Models[0].APIKey != "sk-test" {
		t.Fatalf("got %q", cfg.Models[0].APIKey)
	}
}
