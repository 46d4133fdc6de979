package upstream

import (
	"context"
	"fmt"

	"smartrouter/internal/chat"
	"smartrouter/internal/classify"
)

// Route binds a tier to one provider/model pair and its token ceiling.
// The table is static configuration, not runtime state.
type Route struct {
	Provider  string
	Model     string
	MaxTokens int
}

// DefaultRoutes is the built-in tier table. Deployments override entries
// through the routes file.
func DefaultRoutes() map[classify.Tier]Route {
	return map[classify.Tier]Route{
		classify.TierSimple:    {Provider: "local", Model: "qwen2.5:7b-instruct", MaxTokens: 1024},
		classify.TierMedium:    {Provider: "zai", Model: "glm-4.6", MaxTokens: 4096},
		classify.TierComplex:   {Provider: "anthropic", Model: "claude-sonnet-4-5", MaxTokens: 8192},
		classify.TierCodex:     {Provider: "openai", Model: "gpt-5.1-codex", MaxTokens: 16384},
		classify.TierReasoning: {Provider: "openai", Model: "o4-mini", MaxTokens: 32768},
		classify.TierOnDemand:  {Provider: "gemini", Model: "gemini-2.5-flash", MaxTokens: 8192},
	}
}

// Dispatcher resolves a tier to its route and invokes the matching adapter.
type Dispatcher struct {
	routes   map[classify.Tier]Route
	registry Registry
}

// NewDispatcher validates that every route points at a registered provider.
// A dangling route is a configuration error and must fail loudly rather
// than silently misroute at request time.
func NewDispatcher(routes map[classify.Tier]Route, registry Registry) (*Dispatcher, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("dispatcher requires a route table")
	}
	for tier, route := range routes {
		if _, ok := registry[route.Provider]; !ok {
			return nil, fmt.Errorf("tier %s routes to unknown provider %q", tier, route.Provider)
		}
		if route.Model == "" {
			return nil, fmt.Errorf("tier %s has no model configured", tier)
		}
		if route.MaxTokens <= 0 {
			return nil, fmt.Errorf("tier %s has non-positive token ceiling", tier)
		}
	}
	return &Dispatcher{routes: routes, registry: registry}, nil
}

// Route returns the static route for a tier.
func (d *Dispatcher) Route(tier classify.Tier) (Route, error) {
	route, ok := d.routes[tier]
	if !ok {
		return Route{}, fmt.Errorf("no route configured for tier %s", tier)
	}
	return route, nil
}

// EffectiveMaxTokens clamps a caller-requested budget to the tier ceiling.
// Callers can only reduce the ceiling, never exceed it; zero means "use the
// ceiling".
func (d *Dispatcher) EffectiveMaxTokens(tier classify.Tier, requested int) (int, error) {
	route, err := d.Route(tier)
	if err != nil {
		return 0, err
	}
	if requested <= 0 || requested > route.MaxTokens {
		return route.MaxTokens, nil
	}
	return requested, nil
}

// Dispatch routes the request to the tier's provider. maxTokens is assumed
// already clamped by the gateway.
func (d *Dispatcher) Dispatch(ctx context.Context, tier classify.Tier, messages []chat.Message, maxTokens int) (ProviderResult, error) {
	route, err := d.Route(tier)
	if err != nil {
		return ProviderResult{}, err
	}
	adapter, ok := d.registry[route.Provider]
	if !ok {
		return ProviderResult{}, fmt.Errorf("tier %s routes to unregistered provider %q", tier, route.Provider)
	}
	return adapter.Call(ctx, route.Model, messages, maxTokens)
}
