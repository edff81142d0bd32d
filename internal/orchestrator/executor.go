package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mindgains/orchestrator/internal/provider"
)

// Execute runs one task to completion with at most one fallback attempt.
// Expected failures are reported in the result, never returned or panicked.
func (o *Orchestrator) Execute(ctx context.Context, req TaskRequest) TaskResult {
	started := time.Now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.execute")
	defer span.End()
	span.SetAttributes(attribute.String("task", req.Category.String()))

	result := o.execute(ctx, req, started)

	span.SetAttributes(
		attribute.String("provider", result.Provider.String()),
		attribute.Bool("fallback_used", result.FallbackUsed),
		attribute.Int("estimated_tokens", result.EstimatedTokens),
	)
	status := "success"
	if !result.Success {
		status = "failure"
		span.SetStatus(codes.Error, result.Error)
	}
	o.metrics.IncResult(req.Category.String(), status)
	return result
}

func (o *Orchestrator) execute(ctx context.Context, req TaskRequest, started time.Time) TaskResult {
	if err := req.Validate(); err != nil {
		return failureResult(provider.Unknown, err, started)
	}

	primary, err := o.registry.Select(req.Category)
	if err != nil {
		o.logger.Warn("no provider selected", zap.String("task", req.Category.String()), zap.Error(err))
		return failureResult(provider.Unknown, err, started)
	}

	text, err := o.attempt(ctx, primary, req)
	if err == nil {
		o.logger.Debug("task served",
			zap.String("provider", primary.String()),
			zap.String("task", req.Category.String()),
			zap.Duration("duration", time.Since(started)),
		)
		return successResult(primary, text, req.Prompt, started)
	}

	o.logger.Warn("provider call failed",
		zap.String("provider", primary.String()),
		zap.String("task", req.Category.String()),
		zap.Error(err),
	)
	if ctx.Err() != nil {
		return failureResult(primary, err, started)
	}

	fallback, ok := o.fallbackFor(primary)
	if !ok {
		return failureResult(primary, err, started)
	}
	o.metrics.IncFallback(primary.String(), fallback.String())

	text, err = o.attempt(ctx, fallback, req)
	if err != nil {
		o.logger.Warn("fallback provider call failed",
			zap.String("provider", fallback.String()),
			zap.String("failed_provider", primary.String()),
			zap.String("task", req.Category.String()),
			zap.Error(err),
		)
		result := failureResult(fallback, err, started)
		result.FallbackUsed = true
		return result
	}

	o.logger.Info("task served by fallback provider",
		zap.String("provider", fallback.String()),
		zap.String("failed_provider", primary.String()),
		zap.String("task", req.Category.String()),
	)
	result := successResult(fallback, text, req.Prompt, started)
	result.FallbackUsed = true
	return result
}

// fallbackFor returns the provider for the single retry after failed, or
// false when no retry should be made.
func (o *Orchestrator) fallbackFor(failed provider.ID) (provider.ID, bool) {
	var (
		next provider.ID
		err  error
	)
	switch o.opts.FallbackStrategy {
	case FallbackTimeBucket:
		next, err = o.registry.Rotate()
	default:
		next, err = o.registry.Fallback(failed)
	}
	if err != nil || next == failed {
		o.logger.Debug("no fallback provider", zap.String("failed_provider", failed.String()), zap.Error(err))
		return "", false
	}
	return next, true
}

// attempt performs one transport call against id under the per-call timeout.
func (o *Orchestrator) attempt(ctx context.Context, id provider.ID, req TaskRequest) (string, error) {
	return o.call(ctx, id, req, false)
}

// call sends req to id. direct bypasses transport decorators such as the
// circuit breaker.
func (o *Orchestrator) call(ctx context.Context, id provider.ID, req TaskRequest, direct bool) (string, error) {
	cfg, _ := o.registry.Get(id)
	t := o.transports[id]
	if t == nil || !cfg.Available {
		return "", provider.Wrap(id, ErrNoProvidersAvailable)
	}
	if direct {
		t = provider.Direct(t)
	}

	if timeout := o.callTimeout(cfg); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, span := o.tracer.Start(ctx, "provider.generate")
	defer span.End()
	span.SetAttributes(attribute.String("provider", id.String()), attribute.String("model", cfg.Model))

	started := time.Now()
	text, err := t.Generate(ctx, &provider.Request{
		Category:    req.Category,
		Prompt:      req.Prompt,
		Model:       cfg.Model,
		MaxTokens:   req.maxTokens(),
		Temperature: req.temperature(),
	})
	outcome := "success"
	if err != nil {
		outcome = "failure"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
		}
		var te *provider.TransportError
		if !errors.As(err, &te) {
			err = provider.Wrap(id, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	o.metrics.ObserveAttempt(id.String(), req.Category.String(), outcome, time.Since(started).Seconds())
	return text, err
}

func (o *Orchestrator) callTimeout(cfg ProviderConfig) time.Duration {
	if o.opts.TimeoutFactor <= 0 || cfg.ExpectedLatency <= 0 {
		return 0
	}
	return time.Duration(float64(cfg.ExpectedLatency) * o.opts.TimeoutFactor)
}
