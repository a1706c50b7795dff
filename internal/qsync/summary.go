package qsync

import (
	"context"

	"quotesync/internal/model"
)

// SummaryStore holds one summary record per quote in a queryable remote store.
type SummaryStore interface {
	// UpsertSummary inserts or replaces the summary keyed by s.QuoteNumber.
	UpsertSummary(ctx context.Context, s *model.QuoteSummary) error

	// GetSummary returns the summary of a quote, or (nil, nil).
	GetSummary(ctx context.Context, quoteNumber string) (*model.QuoteSummary, error)

	Close() error
}
