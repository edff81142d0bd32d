package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mindgains/orchestrator/internal/provider"
)

// fakeTransport records calls and answers through fn.
type fakeTransport struct {
	id    provider.ID
	fn    func(ctx context.Context, req *provider.Request) (string, error)
	calls atomic.Int32

	mu   sync.Mutex
	reqs []provider.Request
}

func (f *fakeTransport) Generate(ctx context.Context, req *provider.Request) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, *req)
	f.mu.Unlock()
	if f.fn == nil {
		return "generated by " + f.id.String(), nil
	}
	return f.fn(ctx, req)
}

func (f *fakeTransport) ID() provider.ID { return f.id }

func (f *fakeTransport) Calls() int { return int(f.calls.Load()) }

func (f *fakeTransport) LastRequest() provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func succeed(text string) func(context.Context, *provider.Request) (string, error) {
	return func(context.Context, *provider.Request) (string, error) { return text, nil }
}

func fail(err error) func(context.Context, *provider.Request) (string, error) {
	return func(context.Context, *provider.Request) (string, error) { return "", err }
}

// scenarioConfigs is the registry used throughout the tests:
// openai (factual, 0.03), claude (factual+creative, 0.015), gemini unavailable.
func scenarioConfigs() []ProviderConfig {
	return []ProviderConfig{
		{
			ID:              provider.OpenAI,
			Model:           "gpt-4o-mini",
			Capabilities:    []provider.TaskCategory{provider.Factual},
			Available:       true,
			CostPerRequest:  0.03,
			ExpectedLatency: time.Second,
		},
		{
			ID:              provider.Claude,
			Model:           "claude-3-5-haiku-20241022",
			Capabilities:    []provider.TaskCategory{provider.Factual, provider.Creative},
			Available:       true,
			CostPerRequest:  0.015,
			ExpectedLatency: time.Second,
		},
		{
			ID:              provider.Gemini,
			Model:           "gemini-2.0-flash",
			Capabilities:    []provider.TaskCategory{provider.CurrentEvents},
			Available:       false,
			CostPerRequest:  0.0075,
			ExpectedLatency: time.Second,
		},
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type harness struct {
	orc    *Orchestrator
	openai *fakeTransport
	claude *fakeTransport
	gemini *fakeTransport
}

func newHarness(t *testing.T, configs []ProviderConfig, opts Options, regOpts ...RegistryOption) *harness {
	t.Helper()
	if len(regOpts) == 0 {
		regOpts = []RegistryOption{WithClock(fixedClock(time.UnixMilli(0)))}
	}
	reg, err := NewRegistry(configs, regOpts...)
	require.NoError(t, err)

	h := &harness{
		openai: &fakeTransport{id: provider.OpenAI},
		claude: &fakeTransport{id: provider.Claude},
		gemini: &fakeTransport{id: provider.Gemini},
	}
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	h.orc, err = New(reg, []provider.Transport{h.openai, h.claude, h.gemini}, opts)
	require.NoError(t, err)
	return h
}

func factualRequest(prompt string) TaskRequest {
	return TaskRequest{Category: provider.Factual, Prompt: prompt}
}
