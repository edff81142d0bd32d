package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/mindgains/orchestrator/internal/provider"
)

const (
	probePrompt = "Respond with exactly: OK"
	probeToken  = "OK"
)

// HealthCheck probes every available provider directly, bypassing circuit
// breakers, and reports which ones answered with the acknowledgment token. Unavailable providers are
// reported unhealthy without being called.
func (o *Orchestrator) HealthCheck(ctx context.Context) map[provider.ID]bool {
	ctx, span := o.tracer.Start(ctx, "orchestrator.health_check")
	defer span.End()

	providers := o.registry.Providers()
	health := make(map[provider.ID]bool, len(providers))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, p := range providers {
		if !p.Available {
			health[p.ID] = false
			o.metrics.SetProviderHealthy(p.ID.String(), false)
			continue
		}
		wg.Add(1)
		go func(id provider.ID) {
			defer wg.Done()
			ok := o.probe(ctx, id)
			o.metrics.SetProviderHealthy(id.String(), ok)
			mu.Lock()
			health[id] = ok
			mu.Unlock()
		}(p.ID)
	}
	wg.Wait()

	return health
}

func (o *Orchestrator) probe(ctx context.Context, id provider.ID) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("health probe panicked", zap.String("provider", id.String()), zap.Any("panic", r))
			healthy = false
		}
	}()

	text, err := o.call(ctx, id, TaskRequest{
		Category:  provider.Factual,
		Prompt:    probePrompt,
		MaxTokens: 10,
	}, true)
	if err != nil {
		o.logger.Warn("health probe failed", zap.String("provider", id.String()), zap.Error(err))
		return false
	}
	if !strings.Contains(text, probeToken) {
		o.logger.Warn("health probe got unexpected reply",
			zap.String("provider", id.String()),
			zap.String("reply", truncate(text, 64)),
		)
		return false
	}
	return true
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return fmt.Sprintf("%s...", string(runes[:n]))
}
