package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gitlab.com/yelinaung/finmail/internal/logger"
	"gitlab.com/yelinaung/finmail/internal/models"
)

type memoryEntry struct {
	rec  *models.FinancialRecord
	hash string
}

// MemoryRecordStore is an in-process RecordStore used in tests and when no
// database is configured.
type MemoryRecordStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[string]*memoryEntry
	now    func() time.Time
}

// NewMemoryRecordStore creates an empty store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		byID: make(map[string]*memoryEntry),
		now:  time.Now,
	}
}

// Upsert implements RecordStore with the same merge rules as RecordRepository.
func (s *MemoryRecordStore) Upsert(_ context.Context, rec *models.FinancialRecord) (models.UpsertOutcome, error) {
	if strings.TrimSpace(rec.MessageID) == "" {
		return "", fmt.Errorf("%w: message id is required", models.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = now
	}

	entry, ok := s.byID[rec.MessageID]
	if !ok {
		s.nextID++
		rec.ID = s.nextID
		rec.UpdatedAt = now
		if rec.ModificationHistory == nil {
			rec.ModificationHistory = []models.Modification{}
		}
		s.byID[rec.MessageID] = &memoryEntry{rec: rec.Clone(), hash: ContentHash(rec)}
		return models.UpsertInserted, nil
	}

	hash, outcome := merge(stored{
		hash:      entry.hash,
		confirmed: entry.rec.Confirmed,
		history:   entry.rec.ModificationHistory,
	}, rec)
	rec.ID = entry.rec.ID
	if outcome == models.UpsertUnchanged {
		rec.UpdatedAt = entry.rec.UpdatedAt
		return outcome, nil
	}

	rec.UpdatedAt = now
	s.byID[rec.MessageID] = &memoryEntry{rec: rec.Clone(), hash: hash}
	return outcome, nil
}

// Get implements RecordStore.
func (s *MemoryRecordStore) Get(_ context.Context, messageID string) (*models.FinancialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.byID[messageID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrRecordNotFound, logger.HashID(messageID))
	}
	return entry.rec.Clone(), nil
}

// Query implements RecordStore.
func (s *MemoryRecordStore) Query(_ context.Context, filter models.RecordFilter) ([]*models.FinancialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.FinancialRecord
	for _, entry := range s.byID {
		if filter.Matches(entry.rec) {
			out = append(out, entry.rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.FinancialRecord) int {
		if c := b.EmailDate.Compare(a.EmailDate); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Summarize implements RecordStore.
func (s *MemoryRecordStore) Summarize(ctx context.Context, filter models.RecordFilter) (models.Summary, error) {
	filter.Limit = 0
	recs, err := s.Query(ctx, filter)
	if err != nil {
		return models.Summary{}, err
	}
	return Summarize(recs), nil
}

// Summarize aggregates recs in memory.
func Summarize(recs []*models.FinancialRecord) models.Summary {
	summary := models.NewSummary()
	currencies := make(map[string]struct{})
	for _, rec := range recs {
		summary.Count++
		summary.ByType[rec.DocumentType]++
		summary.ByStatus[rec.Status]++
		usd := decimal.Zero
		if rec.USDAmount != nil {
			usd = *rec.USDAmount
		}
		summary.TotalUSD = summary.TotalUSD.Add(usd)
		summary.USDByType[rec.DocumentType] = summary.USDByType[rec.DocumentType].Add(usd)
		if rec.OriginalCurrency != "" {
			currencies[rec.OriginalCurrency] = struct{}{}
		}
	}
	summary.CurrencyCount = len(currencies)
	return summary
}
