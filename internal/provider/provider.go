package provider

import (
	"context"
	"fmt"
)

// ID names one of the fixed text-generation backends.
type ID string

const (
	OpenAI ID = "openai"
	Claude ID = "claude"
	Gemini ID = "gemini"

	// Unknown attributes a result to no provider in particular.
	Unknown ID = "unknown"
)

// IDs lists every known provider in default declaration order.
func IDs() []ID {
	return []ID{OpenAI, Claude, Gemini}
}

func ParseID(s string) (ID, error) {
	for _, id := range IDs() {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

func (id ID) String() string { return string(id) }

type Request struct {
	Category    TaskCategory
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Transport sends one generation request to a single provider and returns
// the generated text.
type Transport interface {
	Generate(ctx context.Context, req *Request) (string, error)
	ID() ID
}

// Direct strips decorators that implement Unwrap and returns the transport
// that actually talks to the provider.
func Direct(t Transport) Transport {
	for {
		u, ok := t.(interface{ Unwrap() Transport })
		if !ok {
			return t
		}
		next := u.Unwrap()
		if next == nil {
			return t
		}
		t = next
	}
}
