package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindgains/orchestrator/internal/provider"
)

func TestExecuteBatch_PanicIsIsolated(t *testing.T) {
	configs := scenarioConfigs()
	configs[0].Available = false
	h := newHarness(t, configs, DefaultOptions())
	h.claude.fn = func(_ context.Context, req *provider.Request) (string, error) {
		if req.Prompt == "second" {
			panic("transport exploded")
		}
		return "answer to " + req.Prompt, nil
	}

	results := h.orc.ExecuteBatch(context.Background(), []TaskRequest{
		factualRequest("first"),
		factualRequest("second"),
		factualRequest("third"),
	})

	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.Equal(t, "answer to first", results[0].Content)

	assert.False(t, results[1].Success)
	assert.NotEmpty(t, results[1].Error)
	assert.ErrorIs(t, results[1].Err, ErrUnexpectedExecution)
	assert.Contains(t, results[1].Error, "transport exploded")

	assert.True(t, results[2].Success)
	assert.Equal(t, "answer to third", results[2].Content)
}

func TestExecuteBatch_PreservesOrder(t *testing.T) {
	h := newHarness(t, scenarioConfigs(), DefaultOptions())
	h.claude.fn = func(_ context.Context, req *provider.Request) (string, error) {
		var n int
		_, _ = fmt.Sscanf(req.Prompt, "task-%d", &n)
		// later tasks finish first
		time.Sleep(time.Duration(10-n) * time.Millisecond)
		return req.Prompt, nil
	}

	reqs := make([]TaskRequest, 10)
	for i := range reqs {
		reqs[i] = factualRequest(fmt.Sprintf("task-%d", i))
	}

	results := h.orc.ExecuteBatch(context.Background(), reqs)

	require.Len(t, results, len(reqs))
	for i, res := range results {
		require.True(t, res.Success, res.Error)
		assert.Equal(t, fmt.Sprintf("task-%d", i), res.Content)
	}
}

func TestExecuteBatch_MixedOutcomes(t *testing.T) {
	configs := scenarioConfigs()
	for i := range configs {
		configs[i].Available = false
	}
	configs[1].Available = true
	h := newHarness(t, configs, DefaultOptions())

	results := h.orc.ExecuteBatch(context.Background(), []TaskRequest{
		factualRequest("ok"),
		{Category: "poetry", Prompt: "bad"},
		{Category: provider.Creative, Prompt: "ok"},
	})

	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.ErrorIs(t, results[1].Err, ErrInvalidRequest)
	assert.True(t, results[2].Success)
}

func TestExecuteBatch_RespectsMaxConcurrency(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxConcurrency = 2
	h := newHarness(t, scenarioConfigs(), opts)

	var inFlight, peak atomic.Int32
	h.claude.fn = func(context.Context, *provider.Request) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "done", nil
	}

	reqs := make([]TaskRequest, 8)
	for i := range reqs {
		reqs[i] = factualRequest("q")
	}
	results := h.orc.ExecuteBatch(context.Background(), reqs)

	require.Len(t, results, 8)
	for _, res := range results {
		assert.True(t, res.Success)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 8, h.claude.Calls())
}

func TestExecuteBatch_Empty(t *testing.T) {
	h := newHarness(t, scenarioConfigs(), DefaultOptions())

	results := h.orc.ExecuteBatch(context.Background(), nil)
	assert.Empty(t, results)
}
