// Package usage keeps a ledger of tasks served over HTTP, one record per
// task result.
package usage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Record struct {
	ID              string    `json:"id"`
	ClientID        string    `json:"client_id"`
	RequestID       string    `json:"request_id"`
	TaskType        string    `json:"task_type"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	Success         bool      `json:"success"`
	FallbackUsed    bool      `json:"fallback_used"`
	EstimatedTokens int       `json:"estimated_tokens"`
	CostUSD         float64   `json:"cost_usd"`
	LatencyMs       int64     `json:"latency_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

type Summary struct {
	TotalRequests   int     `json:"total_requests"`
	FailedRequests  int     `json:"failed_requests"`
	FallbacksUsed   int     `json:"fallbacks_used"`
	EstimatedTokens int64   `json:"estimated_tokens"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
}

type Store interface {
	Log(ctx context.Context, rec *Record) error
	ListByClient(ctx context.Context, clientID string, from, to time.Time) ([]*Record, error)
	SummarizeByClient(ctx context.Context, clientID string, from, to time.Time) (Summary, error)
}

const (
	DefaultRetention  = 30 * 24 * time.Hour
	DefaultMaxRecords = 100_000

	pruneInterval = time.Minute
)

// MemoryStore is a process-local Store used when no database is configured.
// Records older than the retention window are dropped, and past MaxRecords
// the oldest logged records go first.
type MemoryStore struct {
	mu         sync.RWMutex
	records    []*Record
	now        func() time.Time
	retention  time.Duration
	maxRecords int
	lastPrune  time.Time
}

type MemoryOption func(*MemoryStore)

// WithRetention sets how long records are kept. Zero keeps them until the
// record cap evicts them.
func WithRetention(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.retention = d }
}

// WithMaxRecords caps the number of records held. Zero means no cap.
func WithMaxRecords(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxRecords = n }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:        time.Now,
		retention:  DefaultRetention,
		maxRecords: DefaultMaxRecords,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Log(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock()
	}
	cp := *rec
	s.records = append(s.records, &cp)
	s.prune()
	return nil
}

// Len reports how many records are held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// prune must be called with s.mu held.
func (s *MemoryStore) prune() {
	if now := s.clock(); s.retention > 0 && now.Sub(s.lastPrune) >= pruneInterval {
		s.lastPrune = now
		cutoff := now.Add(-s.retention)
		s.records = slices.DeleteFunc(s.records, func(r *Record) bool {
			return r.CreatedAt.Before(cutoff)
		})
	}
	if s.maxRecords > 0 && len(s.records) > s.maxRecords {
		s.records = slices.Delete(s.records, 0, len(s.records)-s.maxRecords)
	}
}

// ListByClient returns the client's records in [from, to], newest first.
func (s *MemoryStore) ListByClient(_ context.Context, clientID string, from, to time.Time) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, r := range s.records {
		if r.ClientID != clientID || r.CreatedAt.Before(from) || r.CreatedAt.After(to) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SummarizeByClient(ctx context.Context, clientID string, from, to time.Time) (Summary, error) {
	records, err := s.ListByClient(ctx, clientID, from, to)
	if err != nil {
		return Summary{}, err
	}
	var sum Summary
	for _, r := range records {
		sum.TotalRequests++
		if !r.Success {
			sum.FailedRequests++
		}
		if r.FallbackUsed {
			sum.FallbacksUsed++
		}
		sum.EstimatedTokens += int64(r.EstimatedTokens)
		sum.TotalCostUSD += r.CostUSD
	}
	return sum, nil
}
