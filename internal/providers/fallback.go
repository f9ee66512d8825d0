package providers

import (
	"context"
	"errors"
	"os"
)

// FallbackProvider resolves its concrete provider lazily, at request
// time, from environment variables — the manager's final safety net
// when every configured provider has been exhausted.
type FallbackProvider struct{}

func (FallbackProvider) Name() string { return "fallback" }

func (FallbackProvider) resolve() (Provider, error) {
	providerID := os.Getenv("PINCHY_FALLBACK_PROVIDER")
	apiKey := os.Getenv("PINCHY_FALLBACK_API_KEY")
	if providerID == "" || apiKey == "" {
		return nil, errors.New("fallback provider: PINCHY_FALLBACK_PROVIDER/PINCHY_FALLBACK_API_KEY not set")
	}
	model := os.Getenv("PINCHY_FALLBACK_MODEL")
	base := os.Getenv("PINCHY_FALLBACK_API_BASE")
	return NewProvider(providerID, apiKey, base, model), nil
}

func (f FallbackProvider) DefaultModel() string {
	if p, err := f.resolve(); err == nil {
		return p.DefaultModel()
	}
	return ""
}

func (f FallbackProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p, err := f.resolve()
	if err != nil {
		return nil, err
	}
	return p.Chat(ctx, req)
}

func (f FallbackProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	p, err := f.resolve()
	if err != nil {
		return nil, err
	}
	return p.ChatStream(ctx, req, onChunk)
}
