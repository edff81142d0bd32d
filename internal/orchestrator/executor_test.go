package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindgains/orchestrator/internal/provider"
)

type recordingMetrics struct {
	mu        sync.Mutex
	attempts  []string
	fallbacks []string
	results   []string
	healthy   map[string]bool
}

func (m *recordingMetrics) ObserveAttempt(p, _, outcome string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, p+":"+outcome)
}

func (m *recordingMetrics) IncFallback(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks = append(m.fallbacks, from+"->"+to)
}

func (m *recordingMetrics) IncResult(_, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, status)
}

func (m *recordingMetrics) SetProviderHealthy(p string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.healthy == nil {
		m.healthy = make(map[string]bool)
	}
	m.healthy[p] = ok
}

func TestExecute_PrimarySuccess(t *testing.T) {
	h := newHarness(t, scenarioConfigs(), DefaultOptions())
	h.claude.fn = succeed("Paris is the capital of France.")

	res := h.orc.Execute(context.Background(), factualRequest("What is the capital of France?"))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, provider.Claude, res.Provider)
	assert.Equal(t, "Paris is the capital of France.", res.Content)
	assert.False(t, res.FallbackUsed)
	assert.Empty(t, res.Error)
	assert.Equal(t,
		EstimateTokens("Paris is the capital of France.")+EstimateTokens("What is the capital of France?"),
		res.EstimatedTokens)
	assert.Equal(t, 1, h.claude.Calls())
	assert.Zero(t, h.openai.Calls())

	sent := h.claude.LastRequest()
	assert.Equal(t, "claude-3-5-haiku-20241022", sent.Model)
	assert.Equal(t, DefaultMaxTokens, sent.MaxTokens)
	assert.InDelta(t, DefaultTemperature, sent.Temperature, 1e-9)
	assert.Equal(t, provider.Factual, sent.Category)
}

func TestExecute_PassesTuning(t *testing.T) {
	h := newHarness(t, scenarioConfigs(), DefaultOptions())
	temp := 0.0
	req := factualRequest("Define entropy.")
	req.MaxTokens = 128
	req.Temperature = &temp

	res := h.orc.Execute(context.Background(), req)
	require.True(t, res.Success, res.Error)

	sent := h.claude.LastRequest()
	assert.Equal(t, 128, sent.MaxTokens)
	assert.Zero(t, sent.Temperature)
}

func TestExecute_FallbackSucceeds(t *testing.T) {
	m := &recordingMetrics{}
	opts := DefaultOptions()
	opts.Metrics = m
	h := newHarness(t, scenarioConfigs(), opts)
	h.claude.fn = fail(errors.New("connection reset"))
	h.openai.fn = succeed("recovered")

	res := h.orc.Execute(context.Background(), factualRequest("q"))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, provider.OpenAI, res.Provider)
	assert.Equal(t, "recovered", res.Content)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, 1, h.claude.Calls())
	assert.Equal(t, 1, h.openai.Calls())
	assert.Zero(t, h.gemini.Calls())

	assert.Equal(t, []string{"claude->openai"}, m.fallbacks)
	assert.Equal(t, []string{"claude:failure", "openai:success"}, m.attempts)
	assert.Equal(t, []string{"success"}, m.results)
}

func TestExecute_BothProvidersFail(t *testing.T) {
	h := newHarness(t, scenarioConfigs(), DefaultOptions())
	h.claude.fn = fail(provider.StatusError(provider.Claude, 529, []byte("overloaded")))
	h.openai.fn = fail(provider.StatusError(provider.OpenAI, 500, []byte("internal")))

	res := h.orc.Execute(context.Background(), factualRequest("q"))

	assert.False(t, res.Success)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, provider.OpenAI, res.Provider)
	assert.Contains(t, res.Error, "openai api error (status 500)")
	assert.Empty(t, res.Content)

	var te *provider.TransportError
	require.ErrorAs(t, res.Err, &te)
	assert.Equal(t, 500, te.StatusCode)

	// exactly one retry
	assert.Equal(t, 1, h.claude.Calls())
	assert.Equal(t, 1, h.openai.Calls())
}

func TestExecute_NoFallbackWhenOnlyOneProvider(t *testing.T) {
	configs := scenarioConfigs()
	configs[0].Available = false
	h := newHarness(t, configs, DefaultOptions())
	h.claude.fn = fail(errors.New("boom"))

	res := h.orc.Execute(context.Background(), factualRequest("q"))

	assert.False(t, res.Success)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, provider.Claude, res.Provider)
	assert.Contains(t, res.Error, "boom")
	assert.Equal(t, 1, h.claude.Calls())
}

func TestExecute_TimeBucketSkipsRetryOnSameProvider(t *testing.T) {
	opts := DefaultOptions()
	opts.FallbackStrategy = FallbackTimeBucket

	// bucket 1 over [openai, claude] lands on claude, the failed primary.
	h := newHarness(t, scenarioConfigs(), opts, WithClock(fixedClock(time.UnixMilli(10_000))))
	h.claude.fn = fail(errors.New("boom"))

	res := h.orc.Execute(context.Background(), factualRequest("q"))

	assert.False(t, res.Success)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, provider.Claude, res.Provider)
	assert.Equal(t, 1, h.claude.Calls())
	assert.Zero(t, h.openai.Calls())

	// bucket 0 lands on openai and the retry happens.
	h = newHarness(t, scenarioConfigs(), opts, WithClock(fixedClock(time.UnixMilli(0))))
	h.claude.fn = fail(errors.New("boom"))

	res = h.orc.Execute(context.Background(), factualRequest("q"))

	require.True(t, res.Success, res.Error)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, provider.OpenAI, res.Provider)
}

func TestExecute_TimeoutTriggersFallback(t *testing.T) {
	configs := scenarioConfigs()
	configs[1].ExpectedLatency = 10 * time.Millisecond
	m := &recordingMetrics{}
	opts := DefaultOptions()
	opts.TimeoutFactor = 2
	opts.Metrics = m
	h := newHarness(t, configs, opts)
	h.claude.fn = func(ctx context.Context, _ *provider.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	res := h.orc.Execute(context.Background(), factualRequest("q"))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, provider.OpenAI, res.Provider)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, []string{"claude:timeout", "openai:success"}, m.attempts)
}

func TestExecute_CallerCancellationSkipsFallback(t *testing.T) {
	h := newHarness(t, scenarioConfigs(), DefaultOptions())
	h.claude.fn = func(ctx context.Context, _ *provider.Request) (string, error) {
		return "", ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.orc.Execute(ctx, factualRequest("q"))

	assert.False(t, res.Success)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, provider.Claude, res.Provider)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, h.openai.Calls())
}

func TestExecute_WrapsPlainTransportErrors(t *testing.T) {
	configs := scenarioConfigs()
	configs[0].Available = false
	h := newHarness(t, configs, DefaultOptions())
	h.claude.fn = fail(errors.New("dial tcp: refused"))

	res := h.orc.Execute(context.Background(), factualRequest("q"))

	var te *provider.TransportError
	require.ErrorAs(t, res.Err, &te)
	assert.Equal(t, provider.Claude, te.Provider)
	assert.Contains(t, res.Error, "dial tcp: refused")
}

func TestExecute_NoProvidersAvailable(t *testing.T) {
	configs := scenarioConfigs()
	for i := range configs {
		configs[i].Available = false
	}
	h := newHarness(t, configs, DefaultOptions())

	res := h.orc.Execute(context.Background(), factualRequest("q"))

	assert.False(t, res.Success)
	assert.Equal(t, provider.Unknown, res.Provider)
	assert.ErrorIs(t, res.Err, ErrNoProvidersAvailable)
	assert.Equal(t, ErrNoProvidersAvailable.Error(), res.Error)
	assert.Zero(t, h.openai.Calls()+h.claude.Calls()+h.gemini.Calls())
}

func TestExecute_InvalidRequest(t *testing.T) {
	h := newHarness(t, scenarioConfigs(), DefaultOptions())

	cases := map[string]TaskRequest{
		"unknown category": {Category: "poetry", Prompt: "q"},
		"missing category": {Prompt: "q"},
		"empty prompt":     {Category: provider.Factual},
		"negative tokens":  {Category: provider.Factual, Prompt: "q", MaxTokens: -5},
		"bad priority":     {Category: provider.Factual, Prompt: "q", Priority: "urgent"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			res := h.orc.Execute(context.Background(), req)
			assert.False(t, res.Success)
			assert.ErrorIs(t, res.Err, ErrInvalidRequest)
			assert.Equal(t, provider.Unknown, res.Provider)
		})
	}
	assert.Zero(t, h.openai.Calls()+h.claude.Calls()+h.gemini.Calls())
}

func TestNew_Validation(t *testing.T) {
	reg, err := NewRegistry(scenarioConfigs())
	require.NoError(t, err)

	_, err = New(reg, []provider.Transport{&fakeTransport{id: provider.OpenAI}}, DefaultOptions())
	assert.ErrorContains(t, err, "claude is available but has no transport")

	_, err = New(reg, []provider.Transport{
		&fakeTransport{id: provider.OpenAI},
		&fakeTransport{id: provider.OpenAI},
	}, DefaultOptions())
	assert.ErrorContains(t, err, "registered twice")

	_, err = New(reg, nil, Options{FallbackStrategy: "random"})
	assert.Error(t, err)

	_, err = New(nil, nil, DefaultOptions())
	assert.Error(t, err)
}

func TestParseFallbackStrategy(t *testing.T) {
	s, err := ParseFallbackStrategy("")
	require.NoError(t, err)
	assert.Equal(t, FallbackExcludeFailed, s)

	s, err = ParseFallbackStrategy("time_bucket")
	require.NoError(t, err)
	assert.Equal(t, FallbackTimeBucket, s)

	_, err = ParseFallbackStrategy("round_robin")
	assert.Error(t, err)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 1, EstimateTokens("héé"))
}

func TestTaskResult_JSON(t *testing.T) {
	res := TaskResult{
		Success:         true,
		Content:         "hi",
		Provider:        provider.Gemini,
		Duration:        1500 * time.Millisecond,
		EstimatedTokens: 2,
	}
	data, err := res.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":"hi","model_used":"gemini","estimated_tokens":2,"execution_time_ms":1500}`, string(data))

	var back TaskResult
	require.NoError(t, back.UnmarshalJSON([]byte(`{"success":false,"model_used":"claude","error":"boom","execution_time_ms":20}`)))
	assert.Equal(t, 20*time.Millisecond, back.Duration)
	assert.EqualError(t, back.Err, "boom")
}
