// internal/history/ledger.go
package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCapacity is the number of records the ledger retains
const DefaultCapacity = 100

// TriggerKind records who started a failover
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerAutomatic TriggerKind = "automatic"
)

// Record is one failover attempt
type Record struct {
	ID         string      `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	OldPrimary string      `json:"old_primary"`
	NewPrimary string      `json:"new_primary"`
	DurationMs int64       `json:"duration_ms"`
	Trigger    TriggerKind `json:"trigger"`
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// CompletedAt returns when the attempt finished
func (r Record) CompletedAt() time.Time {
	return r.Timestamp.Add(time.Duration(r.DurationMs) * time.Millisecond)
}

// Store persists records outside the process
type Store interface {
	Save(ctx context.Context, r Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// Stats summarizes the ledger
type Stats struct {
	Total             int        `json:"total"`
	Successful        int        `json:"successful"`
	Failed            int        `json:"failed"`
	SuccessRate       float64    `json:"success_rate"`
	AverageDurationMs float64    `json:"average_duration_ms"`
	LastFailover      *time.Time `json:"last_failover,omitempty"`
	LastSuccess       *time.Time `json:"last_success,omitempty"`
}

// Ledger is a fixed-capacity, append-only ring of failover records. Once
// full, each append evicts the oldest record.
type Ledger struct {
	mu   sync.RWMutex
	buf  []Record
	head int
	size int

	store  Store
	logger *zap.Logger
}

// LedgerOption configures the ledger
type LedgerOption func(*Ledger)

// WithStore mirrors every appended record into s
func WithStore(s Store) LedgerOption {
	return func(l *Ledger) {
		l.store = s
	}
}

// WithLogger sets the logger used for store failures
func WithLogger(logger *zap.Logger) LedgerOption {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// NewLedger creates a ledger. A non-positive capacity selects the default.
func NewLedger(capacity int, opts ...LedgerOption) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Ledger{
		buf:    make([]Record, capacity),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append adds a record, evicting the oldest when full. Store failures are
// logged; the in-memory ledger is authoritative.
func (l *Ledger) Append(ctx context.Context, r Record) {
	l.mu.Lock()
	l.push(r)
	l.mu.Unlock()

	if l.store == nil {
		return
	}
	if err := l.store.Save(ctx, r); err != nil {
		l.logger.Error("failed to persist failover record",
			zap.String("id", r.ID),
			zap.Error(err))
	}
}

func (l *Ledger) push(r Record) {
	capacity := len(l.buf)
	if l.size < capacity {
		l.buf[(l.head+l.size)%capacity] = r
		l.size++
		return
	}
	l.buf[l.head] = r
	l.head = (l.head + 1) % capacity
}

// Load warms the ledger from the store, oldest first
func (l *Ledger) Load(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	records, err := l.store.Recent(ctx, len(l.buf))
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range records {
		l.push(r)
	}
	return len(records), nil
}

// Records returns every retained record, oldest first
func (l *Ledger) Records() []Record {
	return l.Recent(0)
}

// Recent returns up to limit of the newest records, oldest first. A
// non-positive limit returns everything.
func (l *Ledger) Recent(limit int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > l.size {
		limit = l.size
	}
	result := make([]Record, limit)
	start := l.size - limit
	for i := 0; i < limit; i++ {
		result[i] = l.at(start + i)
	}
	return result
}

// at returns the i-th oldest record; callers hold the lock
func (l *Ledger) at(i int) Record {
	return l.buf[(l.head+i)%len(l.buf)]
}

// Last returns the newest record of any outcome
func (l *Ledger) Last() (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.size == 0 {
		return Record{}, false
	}
	return l.at(l.size - 1), true
}

// LastSuccessful scans from newest to oldest for a successful record
func (l *Ledger) LastSuccessful() (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := l.size - 1; i >= 0; i-- {
		if r := l.at(i); r.Success {
			return r, true
		}
	}
	return Record{}, false
}

// Len returns the number of retained records
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Cap returns the ledger capacity
func (l *Ledger) Cap() int {
	return len(l.buf)
}

// Stats computes counts, success rate and average duration
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var stats Stats
	var totalMs int64
	for i := 0; i < l.size; i++ {
		r := l.at(i)
		stats.Total++
		totalMs += r.DurationMs
		if r.Success {
			stats.Successful++
			ts := r.CompletedAt()
			stats.LastSuccess = &ts
		} else {
			stats.Failed++
		}
		ts := r.CompletedAt()
		stats.LastFailover = &ts
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
		stats.AverageDurationMs = float64(totalMs) / float64(stats.Total)
	}
	return stats
}
