package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mindgains/orchestrator/internal/provider"
)

type mockTransport struct {
	id    provider.ID
	err   error
	calls int
}

func (m *mockTransport) Generate(ctx context.Context, req *provider.Request) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return "ok", nil
}

func (m *mockTransport) ID() provider.ID { return m.id }

func TestWrap_PassesThrough(t *testing.T) {
	inner := &mockTransport{id: provider.OpenAI}
	tr := Wrap(inner, DefaultSettings())

	text, err := tr.Generate(context.Background(), &provider.Request{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "ok" {
		t.Errorf("Expected 'ok', got %s", text)
	}
	if tr.ID() != provider.OpenAI {
		t.Errorf("Expected openai, got %s", tr.ID())
	}
}

func TestWrap_TripsAfterConsecutiveFailures(t *testing.T) {
	inner := &mockTransport{id: provider.Claude, err: provider.StatusError(provider.Claude, 500, nil)}

	var transitions []gobreaker.State
	s := DefaultSettings()
	s.OpenTimeout = time.Minute
	s.OnStateChange = func(id provider.ID, from, to gobreaker.State) {
		if id != provider.Claude {
			t.Errorf("Expected claude in state change, got %s", id)
		}
		transitions = append(transitions, to)
	}
	tr := Wrap(inner, s)

	for i := 0; i < 3; i++ {
		_, _ = tr.Generate(context.Background(), &provider.Request{})
	}
	if tr.State() != gobreaker.StateOpen {
		t.Fatalf("Expected breaker to be open, got %s", tr.State())
	}
	if len(transitions) != 1 || transitions[0] != gobreaker.StateOpen {
		t.Errorf("Expected a single transition to open, got %v", transitions)
	}

	_, err := tr.Generate(context.Background(), &provider.Request{})
	var te *provider.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Expected TransportError from open breaker, got %v", err)
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Expected ErrOpenState, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("Expected open breaker to skip the transport, got %d calls", inner.calls)
	}
}

func TestWrap_CancellationDoesNotTrip(t *testing.T) {
	inner := &mockTransport{id: provider.Gemini, err: provider.Wrap(provider.Gemini, context.Canceled)}
	tr := Wrap(inner, DefaultSettings())

	for i := 0; i < 5; i++ {
		_, _ = tr.Generate(context.Background(), &provider.Request{})
	}
	if tr.State() != gobreaker.StateClosed {
		t.Errorf("Expected breaker to stay closed, got %s", tr.State())
	}
}

func TestWrap_UnwrapReachesTransportWhileOpen(t *testing.T) {
	inner := &mockTransport{id: provider.Gemini, err: provider.StatusError(provider.Gemini, 502, nil)}
	s := DefaultSettings()
	s.OpenTimeout = time.Hour
	tr := Wrap(inner, s)

	for i := 0; i < 3; i++ {
		_, _ = tr.Generate(context.Background(), &provider.Request{})
	}
	if tr.State() != gobreaker.StateOpen {
		t.Fatalf("Expected breaker to be open, got %s", tr.State())
	}

	inner.err = nil
	text, err := provider.Direct(tr).Generate(context.Background(), &provider.Request{})
	if err != nil {
		t.Fatalf("Direct call failed: %v", err)
	}
	if text != "ok" {
		t.Errorf("Expected 'ok', got %s", text)
	}
	if inner.calls != 4 {
		t.Errorf("Expected 4 calls on the inner transport, got %d", inner.calls)
	}
	if tr.State() != gobreaker.StateOpen {
		t.Errorf("Expected direct call to leave the breaker open, got %s", tr.State())
	}
}
