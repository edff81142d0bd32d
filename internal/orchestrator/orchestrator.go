// Package orchestrator routes generation tasks across LLM providers. It
// selects a provider per task category, fails over once to an alternate
// provider, fans batches out concurrently and probes provider health.
package orchestrator

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/mindgains/orchestrator/internal/metrics"
	"github.com/mindgains/orchestrator/internal/provider"
)

// FallbackStrategy decides which provider receives the single retry.
type FallbackStrategy string

const (
	// FallbackExcludeFailed rotates among available providers other than
	// the one that just failed.
	FallbackExcludeFailed FallbackStrategy = "exclude_failed"

	// FallbackTimeBucket rotates among all available providers and skips
	// the retry when the rotation lands on the failed provider.
	FallbackTimeBucket FallbackStrategy = "time_bucket"
)

func ParseFallbackStrategy(s string) (FallbackStrategy, error) {
	switch FallbackStrategy(s) {
	case FallbackExcludeFailed, FallbackTimeBucket:
		return FallbackStrategy(s), nil
	case "":
		return FallbackExcludeFailed, nil
	}
	return "", fmt.Errorf("unknown fallback strategy %q", s)
}

const DefaultTimeoutFactor = 10.0

type Options struct {
	Logger  *zap.Logger
	Tracer  trace.Tracer
	Metrics metrics.Metrics

	FallbackStrategy FallbackStrategy

	// TimeoutFactor multiplies a provider's expected latency to get the
	// per-call timeout. Zero or less disables the timeout.
	TimeoutFactor float64

	// MaxConcurrency caps in-flight requests in ExecuteBatch. Zero means
	// no cap.
	MaxConcurrency int
}

func DefaultOptions() Options {
	return Options{
		FallbackStrategy: FallbackExcludeFailed,
		TimeoutFactor:    DefaultTimeoutFactor,
	}
}

type Orchestrator struct {
	registry   *Registry
	transports map[provider.ID]provider.Transport
	logger     *zap.Logger
	tracer     trace.Tracer
	metrics    metrics.Metrics
	opts       Options
}

// New wires a registry to its transports. Every available provider needs a
// transport; transports for unavailable providers are kept but never called.
func New(registry *Registry, transports []provider.Transport, opts Options) (*Orchestrator, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if _, err := ParseFallbackStrategy(string(opts.FallbackStrategy)); err != nil {
		return nil, err
	}
	if opts.FallbackStrategy == "" {
		opts.FallbackStrategy = FallbackExcludeFailed
	}
	if opts.MaxConcurrency < 0 {
		return nil, fmt.Errorf("max concurrency must be >= 0, got %d", opts.MaxConcurrency)
	}

	byID := make(map[provider.ID]provider.Transport, len(transports))
	for _, t := range transports {
		if t == nil {
			continue
		}
		if _, dup := byID[t.ID()]; dup {
			return nil, fmt.Errorf("transport for %s registered twice", t.ID())
		}
		byID[t.ID()] = t
	}
	for _, p := range registry.Providers() {
		if p.Available && byID[p.ID] == nil {
			return nil, fmt.Errorf("provider %s is available but has no transport", p.ID)
		}
	}

	o := &Orchestrator{
		registry:   registry,
		transports: byID,
		logger:     opts.Logger,
		tracer:     opts.Tracer,
		metrics:    opts.Metrics,
		opts:       opts,
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider().Tracer("orchestrator")
	}
	if o.metrics == nil {
		o.metrics = metrics.Noop{}
	}
	return o, nil
}

// ModelStats returns a copy of the provider registry for introspection.
func (o *Orchestrator) ModelStats() map[provider.ID]ProviderConfig {
	return o.registry.ModelStats()
}

func (o *Orchestrator) Registry() *Registry {
	return o.registry
}
