package llm

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/goclaw/internal/config"
)

// Gateway wraps a Provider with outbound rate limiting, matching the
// domain-stack wiring for golang.org/x/time/rate: every self-improving
// agent component (reflection, compaction, observer, architect,
// council) calls through one Gateway so the rate limit is global, not
// per-caller.
//
// A Gateway optionally carries a provider registry (see WithRegistry):
// the gateway consults an alias map, then the registry keyed by the
// resolved name, lazily constructing and caching one client per name,
// per spec.md's gateway architecture. ChatRequest.Provider selects the
// registry entry; when it's empty, or resolves to nothing registered,
// the gateway falls back to its original provider.
type Gateway struct {
	provider Provider
	limiter  *rate.Limiter // nil = unlimited

	mu        sync.Mutex
	aliases   map[string]string
	providers map[string]config.ProviderConfig
	timeout   time.Duration
	cache     map[string]Provider
}

// NewGateway builds a Gateway. rps <= 0 means unlimited.
func NewGateway(provider Provider, rps float64) *Gateway {
	g := &Gateway{provider: provider}
	if rps > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return g
}

// WithRegistry attaches a provider registry and alias map, returning g
// for chaining. timeout bounds each lazily-constructed provider's HTTP
// client.
func (g *Gateway) WithRegistry(providers map[string]config.ProviderConfig, aliases map[string]string, timeout time.Duration) *Gateway {
	g.providers = providers
	g.aliases = aliases
	g.timeout = timeout
	g.cache = make(map[string]Provider, len(providers))
	return g
}

// resolve looks up name through the alias map then the registry,
// lazily constructing and caching a client per resolved name. An
// empty name, or one that resolves to nothing registered, falls back
// to the gateway's original provider.
func (g *Gateway) resolve(name string) (Provider, error) {
	if name == "" || g.providers == nil {
		return g.provider, nil
	}
	resolved := name
	if alias, ok := g.aliases[name]; ok {
		resolved = alias
	}
	pc, ok := g.providers[resolved]
	if !ok {
		return g.provider, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if cached, ok := g.cache[resolved]; ok {
		return cached, nil
	}
	built, err := buildProvider(resolved, pc, g.timeout)
	if err != nil {
		return nil, err
	}
	g.cache[resolved] = built
	return built, nil
}

func buildProvider(name string, pc config.ProviderConfig, timeout time.Duration) (Provider, error) {
	apiKey := ""
	if pc.APIKeyEnv != "" {
		apiKey = os.Getenv(pc.APIKeyEnv)
	}
	switch pc.Type {
	case "anthropic", "":
		return NewAnthropicProvider(apiKey, pc.BaseURL, pc.ModelID, timeout), nil
	case "mock":
		return &MockProvider{}, nil
	default:
		return nil, fmt.Errorf("llm gateway: unknown provider type %q for %q", pc.Type, name)
	}
}

// Chat waits for rate-limiter admission, resolves req.Provider through
// the alias/registry layer (falling back to the gateway's original
// provider), then dispatches the call.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("llm gateway: rate limit wait: %w", err)
		}
	}
	provider, err := g.resolve(req.Provider)
	if err != nil {
		return nil, fmt.Errorf("llm gateway: resolve provider %q: %w", req.Provider, err)
	}
	resp, err := provider.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm gateway (%s): %w", provider.Name(), err)
	}
	return resp, nil
}

// DefaultModel exposes the original provider's default model.
func (g *Gateway) DefaultModel() string { return g.provider.DefaultModel() }
