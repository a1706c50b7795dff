package summary

import (
	"bytes"
	"context"
	"sync"

	"quotesync/internal/model"
	"quotesync/internal/qsync"
)

// MemoryStore keeps summaries in a map. Used by tests and single-host runs.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]model.QuoteSummary
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]model.QuoteSummary)}
}

func (m *MemoryStore) UpsertSummary(ctx context.Context, sum *model.QuoteSummary) error {
	if sum.QuoteNumber == "" {
		return qsync.InvalidArgument("quote number required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.rows[sum.QuoteNumber]; ok && prev.SyncedAt.After(sum.SyncedAt) {
		return nil
	}
	row := *sum
	row.Totals = bytes.Clone(sum.Totals)
	m.rows[sum.QuoteNumber] = row
	return nil
}

func (m *MemoryStore) GetSummary(ctx context.Context, quoteNumber string) (*model.QuoteSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[quoteNumber]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *MemoryStore) Close() error { return nil }

// NoneStore discards summaries.
type NoneStore struct{}

func (NoneStore) UpsertSummary(context.Context, *model.QuoteSummary) error { return nil }

func (NoneStore) GetSummary(context.Context, string) (*model.QuoteSummary, error) { return nil, nil }

func (NoneStore) Close() error { return nil }

var (
	_ qsync.SummaryStore = (*MemoryStore)(nil)
	_ qsync.SummaryStore = NoneStore{}
)
