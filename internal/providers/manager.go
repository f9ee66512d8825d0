package providers

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

// Embedder is implemented by providers that can generate embeddings.
// Providers without this capability are simply skipped by
// ProviderManager.Embed.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ProviderManager holds an ordered list of providers plus retry policy,
// implementing retry-on-failure chat dispatch, function-calling /
// streaming / embeddings dispatch.
type ProviderManager struct {
	Providers         []Provider
	MaxRetries        int
	SupportsFunctions bool
	fallback          Provider

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewManager builds a ProviderManager with FallbackProvider always
// appended as the final safety net.
func NewManager(providers []Provider, maxRetries int, supportsFunctions bool) *ProviderManager {
	return &ProviderManager{
		Providers:         providers,
		MaxRetries:        maxRetries,
		SupportsFunctions: supportsFunctions,
		fallback:          FallbackProvider{},
		limiters:          make(map[string]*rate.Limiter),
	}
}

// defaultProviderRPS is the client-side request rate allowed per
// provider, overridable via PINCHY_PROVIDER_RPS. Server-side 429s are
// still handled by the retry layer; this just keeps a tool loop from
// hammering one endpoint.
func defaultProviderRPS() float64 {
	if v := os.Getenv("PINCHY_PROVIDER_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return 2
}

// limiter returns the token bucket for one provider, creating it on
// first use.
func (m *ProviderManager) limiter(name string) *rate.Limiter {
	m.limiterMu.Lock()
	defer m.limiterMu.Unlock()
	if m.limiters == nil {
		m.limiters = make(map[string]*rate.Limiter)
	}
	l, ok := m.limiters[name]
	if !ok {
		rps := defaultProviderRPS()
		l = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
		m.limiters[name] = l
	}
	return l
}

func (m *ProviderManager) orderedProviders() []Provider {
	return append(append([]Provider{}, m.Providers...), m.fallback)
}

// SendChatWithRetry tries each provider in order, retrying each up to
// MaxRetries with exponential backoff via RetryDo; a permanent error
// (classified by isPermanent) skips remaining retries for that provider
// and falls through to the next one. When every provider is exhausted,
// the last error is wrapped with "all providers exhausted".
func (m *ProviderManager) SendChatWithRetry(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	cfg := RetryConfig{MaxAttempts: max(1, m.MaxRetries), BaseDelay: DefaultRetryConfig().BaseDelay}

	// With nothing configured at all, a stub reply beats an opaque error:
	// the runtime stays drivable (sessions, tools, scheduler) before any
	// provider credentials exist.
	if len(m.Providers) == 0 {
		if resp, err := m.fallback.Chat(ctx, req); err == nil {
			return resp, nil
		}
		return &ChatResponse{Content: "[stub] no language-model provider is configured", FinishReason: "stop"}, nil
	}

	var lastErr error
	for _, p := range m.orderedProviders() {
		p := p
		lim := m.limiter(p.Name())
		resp, err := RetryDo(ctx, cfg, func() (*ChatResponse, error) {
			if err := lim.Wait(ctx); err != nil {
				return nil, err
			}
			return p.Chat(ctx, req)
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("all providers exhausted: %w", lastErr)
}

// SendChat dispatches according to SupportsFunctions: when true and
// function definitions are present, the request goes to the primary
// provider alone — a tool-calling conversation is pinned to one
// provider's call-id and argument conventions, so falling over
// mid-loop would hand the model another vendor's half-finished state.
// Plain chat strips tools and keeps the full retry+fallback chain.
func (m *ProviderManager) SendChat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.SupportsFunctions && len(req.Tools) > 0 && len(m.Providers) > 0 {
		p := m.Providers[0]
		if err := m.limiter(p.Name()).Wait(ctx); err != nil {
			return nil, err
		}
		return p.Chat(ctx, req)
	}
	req.Tools = nil
	return m.SendChatWithRetry(ctx, req)
}

// SendChatStream delegates directly to the primary provider; with no
// providers configured it reports a single error chunk.
func (m *ProviderManager) SendChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	if len(m.Providers) == 0 {
		if onChunk != nil {
			onChunk(StreamChunk{Content: "no providers configured", Done: true})
		}
		return nil, fmt.Errorf("no providers configured")
	}
	return m.Providers[0].ChatStream(ctx, req, onChunk)
}

// Embed tries providers in order, returning the first that supports
// embeddings; nil if none do.
func (m *ProviderManager) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, p := range m.Providers {
		if e, ok := p.(Embedder); ok {
			vecs, err := e.Embed(ctx, texts)
			if err != nil {
				continue
			}
			if vecs != nil {
				return vecs, nil
			}
		}
	}
	return nil, nil
}
