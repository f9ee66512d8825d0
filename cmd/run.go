package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/pinchy/internal/agent"
	"github.com/nextlevelbuilder/pinchy/internal/bus"
	"github.com/nextlevelbuilder/pinchy/internal/config"
	"github.com/nextlevelbuilder/pinchy/internal/contextmgr"
	"github.com/nextlevelbuilder/pinchy/internal/gateway"
	mcpbridge "github.com/nextlevelbuilder/pinchy/internal/mcp"
	"github.com/nextlevelbuilder/pinchy/internal/memory"
	"github.com/nextlevelbuilder/pinchy/internal/providers"
	"github.com/nextlevelbuilder/pinchy/internal/scheduler"
	"github.com/nextlevelbuilder/pinchy/internal/sessions"
	"github.com/nextlevelbuilder/pinchy/internal/store"
	"github.com/nextlevelbuilder/pinchy/internal/store/file"
	"github.com/nextlevelbuilder/pinchy/internal/store/pg"
	"github.com/nextlevelbuilder/pinchy/internal/tools"
	"github.com/nextlevelbuilder/pinchy/internal/tracing"
	"github.com/nextlevelbuilder/pinchy/pkg/protocol"
)

// defaultBudget bounds each turn's prompt. Prune fires first, then LLM
// compaction, then hard truncation.
var defaultBudget = contextmgr.Budget{
	MaxTokens:        24000,
	PruneThreshold:   16000,
	CompactThreshold: 20000,
}

const defaultMaxRetries = 3

// agentRuntime bundles everything built for one configured agent.
type agentRuntime struct {
	cfg       config.AgentConfig
	workspace string
	loop      *agent.Loop
	memory    *memory.Store
	mcp       *mcpbridge.Manager
}

func runRuntime() {
	setupLogging()

	home := resolveHome()
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = append(cfg.Agents, config.AgentConfig{ID: "default"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgBus := bus.New()

	// Optional OTLP trace export; without it the collector is a no-op.
	var traceSink tracing.Sink
	if ep := os.Getenv("PINCHY_OTLP_ENDPOINT"); ep != "" {
		sink, serr := tracing.NewOTelSink(ctx, ep, os.Getenv("PINCHY_OTLP_TRANSPORT"))
		if serr != nil {
			slog.Warn("otlp trace export unavailable", "error", serr)
		} else {
			traceSink = sink
			defer sink.Shutdown(context.Background())
			slog.Info("otlp trace export enabled", "endpoint", ep)
		}
	}
	traceCollector := tracing.NewCollector(traceSink)

	// Postgres-backed sessions/cron when a DSN is configured; file-backed
	// otherwise. Memory always stays in the per-workspace SQLite store,
	// where FTS5 and the embedding cache live.
	var sharedStores *store.Stores
	if cfg.Database.PostgresDSN != "" {
		sharedStores, err = pg.NewStores(cfg.Database.PostgresDSN)
		if err != nil {
			slog.Error("failed to open postgres stores", "error", err)
			os.Exit(1)
		}
		slog.Info("postgres store backend enabled")
	}

	agentsRoot := filepath.Join(home, "agents")
	cronStore := pickCronStore(sharedStores, agentsRoot)

	runtimes := make(map[string]*agentRuntime, len(cfg.Agents))
	var firstRuntime *agentRuntime
	var gatewayStores *store.Stores

	for i := range cfg.Agents {
		agentCfg := cfg.Agents[i]
		if agentCfg.Root == "" {
			agentCfg.Root = filepath.Join(agentsRoot, agentCfg.ID)
		}
		rt, err := buildAgentRuntime(ctx, cfg, agentCfg, home, sharedStores, msgBus, traceCollector)
		if err != nil {
			slog.Error("failed to build agent", "agent", agentCfg.ID, "error", err)
			os.Exit(1)
		}
		defer rt.close()
		runtimes[agentCfg.ID] = rt
		if firstRuntime == nil {
			firstRuntime = rt
			gatewayStores = &store.Stores{
				Sessions: rt.loop.Sessions,
				Memory:   rt.loop.Memory,
				Cron:     cronStore,
			}
		}
		slog.Info("agent ready", "agent", agentCfg.ID, "workspace", rt.workspace,
			"tools", len(rt.loop.Tools.List()))
	}

	// Scheduler: heartbeat + cron tasks per agent.
	sched := scheduler.NewScheduler(cronStore, scheduler.DefaultLanes(), scheduler.DefaultQueueConfig())
	for _, rt := range runtimes {
		sched.Bind(scheduler.AgentBinding{Config: rt.cfg, Workspace: rt.workspace, Runner: rt.loop})
	}
	if err := sched.Start(ctx); err != nil {
		slog.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	// Gateway HTTP/WS surface.
	server := gateway.NewServer(cfgPath, cfg, gatewayStores, sched, msgBus)
	stopWatch, err := config.Watch(cfgPath, func() {
		next, lerr := config.Load(cfgPath)
		if lerr != nil {
			slog.Warn("config reload skipped", "error", lerr)
			return
		}
		server.SetConfig(next)
		slog.Info("config reloaded")
	})
	if err != nil {
		slog.Warn("config watch unavailable", "error", err)
	} else {
		defer stopWatch()
	}

	// Inbound pump: gateway/WS messages become agent turns.
	go consumeInbound(ctx, msgBus, runtimes, firstRuntime)

	addr := os.Getenv("PINCHY_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8890"
	}
	httpServer := &http.Server{Addr: addr, Handler: server.Routes()}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		msgBus.Broadcast(bus.Event{Name: protocol.EventShutdown})
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
	}()

	slog.Info("pinchy gateway starting", "version", Version,
		"protocol", protocol.ProtocolVersion, "addr", addr, "agents", len(runtimes))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if os.Getenv("PINCHY_LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func pickCronStore(shared *store.Stores, agentsRoot string) store.CronStore {
	if shared != nil && shared.Cron != nil {
		return shared.Cron
	}
	return file.NewCronStore(agentsRoot)
}

// buildAgentRuntime wires one agent: its provider chain, workspace
// stores, tool registry, and turn loop.
func buildAgentRuntime(ctx context.Context, cfg *config.Config, agentCfg config.AgentConfig, home string, sharedStores *store.Stores, msgBus *bus.MessageBus, traceCollector *tracing.Collector) (*agentRuntime, error) {
	workspace := config.WorkspacePath(&agentCfg)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, err
	}

	manager := buildProviderManager(cfg, agentCfg)
	providers.SetGlobalManager(manager)

	sessStore := sessions.New(workspace, home)
	var loopSessions store.SessionStore = sessStore
	if sharedStores != nil && sharedStores.Sessions != nil {
		loopSessions = sharedStores.Sessions
	}

	memStore, err := memory.Open(filepath.Join(workspace, "memory.db"))
	if err != nil {
		return nil, err
	}
	if err := memStore.MigrateFromJSONL(workspace); err != nil {
		slog.Warn("legacy memory import failed", "agent", agentCfg.ID, "error", err)
	}

	registry := buildToolRegistry(cfg, agentCfg, workspace, home, sessStore, memStore)

	var mcpMgr *mcpbridge.Manager
	if mcpConfigs := selectMCPServers(cfg, agentCfg); len(mcpConfigs) > 0 {
		mcpMgr = mcpbridge.NewManager(registry, mcpbridge.WithConfigs(mcpConfigs))
		if err := mcpMgr.Start(ctx); err != nil {
			slog.Warn("mcp startup errors", "agent", agentCfg.ID, "error", err)
		}
	}

	loop := agent.NewLoop(agentCfg, workspace, loopSessions, memStore, registry,
		manager, msgBus, traceCollector, defaultBudget)
	loop.Policy = tools.NewPolicyEngine(&cfg.Tools)

	return &agentRuntime{
		cfg:       agentCfg,
		workspace: workspace,
		loop:      loop,
		memory:    memStore,
		mcp:       mcpMgr,
	}, nil
}

func (rt *agentRuntime) close() {
	if rt.mcp != nil {
		rt.mcp.Stop()
	}
	if rt.memory != nil {
		_ = rt.memory.Close()
	}
}

// buildProviderManager resolves the agent's primary and fallback model
// refs into concrete providers, in order. FallbackProvider is appended
// inside NewManager as the final safety net.
func buildProviderManager(cfg *config.Config, agentCfg config.AgentConfig) *providers.ProviderManager {
	refs := append([]string{agentCfg.Model}, agentCfg.FallbackModels...)
	var chain []providers.Provider
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		m := cfg.ResolveModel(ref)
		if m == nil {
			slog.Warn("unknown model ref", "agent", agentCfg.ID, "model", ref)
			continue
		}
		p := providers.NewProvider(m.Provider, m.APIKey, m.Endpoint, m.Model)
		if m.EmbeddingDeployment != "" {
			if oai, ok := p.(*providers.OpenAIProvider); ok {
				oai.SetEmbeddingModel(m.EmbeddingDeployment)
			}
		}
		chain = append(chain, p)
	}
	return providers.NewManager(chain, defaultMaxRetries, true)
}

// buildToolRegistry registers the built-in tool set against the agent's
// workspace, then folds in skill-backed tools.
func buildToolRegistry(cfg *config.Config, agentCfg config.AgentConfig, workspace, home string, sessStore *sessions.Store, memStore *memory.Store) *tools.Registry {
	registry := tools.NewRegistry()

	registry.RegisterTool(tools.NewReadFileTool(workspace, true))
	registry.RegisterTool(tools.NewWriteFileTool(workspace, true))
	registry.RegisterTool(tools.NewExecTool(workspace, true, agentCfg.ExtraExecCommands...))

	registry.RegisterTool(tools.NewSaveMemoryTool(memStore))
	registry.RegisterTool(tools.NewRecallMemoryTool(memStore))
	registry.RegisterTool(tools.NewForgetMemoryTool(memStore))

	registry.RegisterTool(tools.NewCreateSkillTool(home))
	registry.RegisterTool(tools.NewListSkillsTool(registry))
	registry.RegisterTool(tools.NewSearchToolsTool(registry))
	registry.RegisterTool(tools.NewNewSessionTool(sessStore, agentCfg.ID))

	registry.RegisterTool(tools.NewWebFetchTool(tools.WebFetchConfig{}))
	if webSearch := tools.NewWebSearchTool(tools.WebSearchConfig{
		BraveAPIKey:  os.Getenv("BRAVE_API_KEY"),
		BraveEnabled: os.Getenv("BRAVE_API_KEY") != "",
		DDGEnabled:   true,
	}); webSearch != nil {
		registry.RegisterTool(webSearch)
	}

	providerRegistry := providers.NewRegistry()
	for i := range cfg.Models {
		m := cfg.Models[i]
		providerRegistry.Register(m.Provider, providers.NewProvider(m.Provider, m.APIKey, m.Endpoint, m.Model))
	}
	registry.RegisterTool(tools.NewReadImageTool(providerRegistry))
	registry.RegisterTool(tools.NewCreateImageTool(providerRegistry))

	agentSkillsDir := filepath.Join(workspace, "skills")
	if err := registry.SyncSkills(agentSkillsDir, home); err != nil {
		slog.Warn("skill sync failed", "agent", agentCfg.ID, "error", err)
	}

	return registry
}

// selectMCPServers returns the configured MCP servers this agent should
// connect to: the ones named in its mcp_servers list, or all enabled
// servers when the list is empty.
func selectMCPServers(cfg *config.Config, agentCfg config.AgentConfig) map[string]*config.MCPServerConfig {
	wanted := make(map[string]bool, len(agentCfg.MCPServers))
	for _, name := range agentCfg.MCPServers {
		wanted[name] = true
	}
	out := make(map[string]*config.MCPServerConfig)
	for i := range cfg.MCPServers {
		sc := &cfg.MCPServers[i]
		if !sc.IsEnabled() {
			continue
		}
		if len(wanted) > 0 && !wanted[sc.Name] {
			continue
		}
		out[sc.Name] = sc
	}
	return out
}

// consumeInbound drains the bus's inbound queue, running a turn per
// message and publishing the reply back to the originating channel.
func consumeInbound(ctx context.Context, msgBus *bus.MessageBus, runtimes map[string]*agentRuntime, fallback *agentRuntime) {
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		rt := runtimes[msg.AgentID]
		if rt == nil {
			rt = fallback
		}
		if rt == nil {
			continue
		}
		go func(m bus.InboundMessage, rt *agentRuntime) {
			result, err := rt.loop.RunTurn(ctx, agent.IncomingMessage{
				AgentID:   rt.cfg.ID,
				Author:    m.SenderID,
				Content:   m.Content,
				Channel:   m.Channel,
				Timestamp: time.Now().Unix(),
				SessionID: m.SessionKey,
				Media:     m.Media,
			})
			if err != nil {
				slog.Error("turn failed", "agent", rt.cfg.ID, "error", err)
				return
			}
			if m.Channel != "" && m.ChatID != "" {
				msgBus.PublishOutbound(bus.OutboundMessage{
					Channel: m.Channel,
					ChatID:  m.ChatID,
					Content: result.Reply,
				})
			}
		}(msg, rt)
	}
}
