package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mindgains/orchestrator/internal/provider"
)

// ExecuteBatch runs every request concurrently and returns one result per
// request in input order. A failing or panicking request never affects the
// others.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, reqs []TaskRequest) []TaskResult {
	ctx, span := o.tracer.Start(ctx, "orchestrator.execute_batch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(reqs)))

	results := make([]TaskResult, len(reqs))

	var sem chan struct{}
	if o.opts.MaxConcurrency > 0 {
		sem = make(chan struct{}, o.opts.MaxConcurrency)
	}

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(idx int, req TaskRequest) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			results[idx] = o.executeIsolated(ctx, req)
		}(i, req)
	}
	wg.Wait()

	return results
}

func (o *Orchestrator) executeIsolated(ctx context.Context, req TaskRequest) (result TaskResult) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrUnexpectedExecution, r)
			o.logger.Error("task execution panicked",
				zap.String("task", req.Category.String()),
				zap.Any("panic", r),
			)
			o.metrics.IncResult(req.Category.String(), "failure")
			result = failureResult(provider.Unknown, err, started)
		}
	}()
	return o.Execute(ctx, req)
}
