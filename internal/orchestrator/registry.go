package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/mindgains/orchestrator/internal/provider"
)

// rotationWindow is the width of one rotation bucket.
const rotationWindow = 10 * time.Second

// ProviderConfig is the static description of one provider.
type ProviderConfig struct {
	ID              provider.ID             `json:"id" yaml:"id"`
	Model           string                  `json:"model" yaml:"model"`
	Capabilities    []provider.TaskCategory `json:"capabilities" yaml:"capabilities"`
	Available       bool                    `json:"available" yaml:"-"`
	CostPerRequest  float64                 `json:"cost_per_request" yaml:"cost_per_request"`
	ExpectedLatency time.Duration           `json:"-" yaml:"expected_latency"`
}

func (c ProviderConfig) Supports(category provider.TaskCategory) bool {
	return slices.Contains(c.Capabilities, category)
}

func (c ProviderConfig) MarshalJSON() ([]byte, error) {
	type alias ProviderConfig
	return json.Marshal(struct {
		alias
		ExpectedLatencyMs int64 `json:"expected_latency_ms"`
	}{alias(c), c.ExpectedLatency.Milliseconds()})
}

func (c ProviderConfig) clone() ProviderConfig {
	c.Capabilities = slices.Clone(c.Capabilities)
	return c
}

// DefaultProviders returns the built-in registry in declaration order. All
// entries start unavailable; availability comes from credentials supplied
// at startup.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			ID:              provider.OpenAI,
			Model:           "gpt-4o-mini",
			Capabilities:    []provider.TaskCategory{provider.Creative, provider.Explanatory, provider.Analysis},
			CostPerRequest:  0.03,
			ExpectedLatency: 3000 * time.Millisecond,
		},
		{
			ID:              provider.Claude,
			Model:           "claude-3-5-haiku-20241022",
			Capabilities:    []provider.TaskCategory{provider.Factual, provider.Explanatory, provider.Analysis},
			CostPerRequest:  0.015,
			ExpectedLatency: 2500 * time.Millisecond,
		},
		{
			ID:              provider.Gemini,
			Model:           "gemini-2.0-flash",
			Capabilities:    []provider.TaskCategory{provider.CurrentEvents, provider.Factual, provider.Creative},
			CostPerRequest:  0.0075,
			ExpectedLatency: 2000 * time.Millisecond,
		},
	}
}

// Registry holds the provider configuration. It is immutable once built.
type Registry struct {
	providers []ProviderConfig
	now       func() time.Time
}

type RegistryOption func(*Registry)

// WithClock overrides the time source used for rotation.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(configs []ProviderConfig, opts ...RegistryOption) (*Registry, error) {
	var errs []error
	seen := make(map[provider.ID]bool, len(configs))
	providers := make([]ProviderConfig, 0, len(configs))

	for i, c := range configs {
		if _, err := provider.ParseID(string(c.ID)); err != nil {
			errs = append(errs, fmt.Errorf("provider %d: %w", i, err))
			continue
		}
		if seen[c.ID] {
			errs = append(errs, fmt.Errorf("provider %s declared twice", c.ID))
			continue
		}
		seen[c.ID] = true
		if c.CostPerRequest < 0 {
			errs = append(errs, fmt.Errorf("provider %s: cost per request must be >= 0, got %v", c.ID, c.CostPerRequest))
		}
		if c.ExpectedLatency < 0 {
			errs = append(errs, fmt.Errorf("provider %s: expected latency must be >= 0, got %s", c.ID, c.ExpectedLatency))
		}
		for _, cat := range c.Capabilities {
			if !cat.Valid() {
				errs = append(errs, fmt.Errorf("provider %s: unknown capability %q", c.ID, cat))
			}
		}
		providers = append(providers, c.clone())
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	r := &Registry{providers: providers, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Select picks the provider for a task category: the cheapest available
// provider that lists the category, ties going to the earliest declared.
// When none lists it, the first available provider is used.
func (r *Registry) Select(category provider.TaskCategory) (provider.ID, error) {
	var best *ProviderConfig
	for i := range r.providers {
		p := &r.providers[i]
		if !p.Available || !p.Supports(category) {
			continue
		}
		if best == nil || p.CostPerRequest < best.CostPerRequest {
			best = p
		}
	}
	if best != nil {
		return best.ID, nil
	}

	available := r.available()
	if len(available) == 0 {
		return "", ErrNoProvidersAvailable
	}
	return available[0], nil
}

// Rotate picks an available provider by ten-second time bucket. Calls made
// within the same bucket get the same provider, which may be the one that
// just failed.
func (r *Registry) Rotate() (provider.ID, error) {
	return r.rotate(r.available())
}

// Fallback rotates like Rotate but never returns the failed provider.
func (r *Registry) Fallback(failed provider.ID) (provider.ID, error) {
	candidates := slices.DeleteFunc(r.available(), func(id provider.ID) bool {
		return id == failed
	})
	return r.rotate(candidates)
}

func (r *Registry) rotate(candidates []provider.ID) (provider.ID, error) {
	if len(candidates) == 0 {
		return "", ErrNoProvidersAvailable
	}
	bucket := r.now().UnixMilli() / rotationWindow.Milliseconds()
	return candidates[bucket%int64(len(candidates))], nil
}

func (r *Registry) available() []provider.ID {
	ids := make([]provider.ID, 0, len(r.providers))
	for _, p := range r.providers {
		if p.Available {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (r *Registry) Get(id provider.ID) (ProviderConfig, bool) {
	for _, p := range r.providers {
		if p.ID == id {
			return p.clone(), true
		}
	}
	return ProviderConfig{}, false
}

// Providers returns a copy of the configuration in declaration order.
func (r *Registry) Providers() []ProviderConfig {
	out := make([]ProviderConfig, len(r.providers))
	for i, p := range r.providers {
		out[i] = p.clone()
	}
	return out
}

// ModelStats returns a copy of every provider's configuration keyed by id.
func (r *Registry) ModelStats() map[provider.ID]ProviderConfig {
	out := make(map[provider.ID]ProviderConfig, len(r.providers))
	for _, p := range r.providers {
		out[p.ID] = p.clone()
	}
	return out
}
