package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"gitlab.com/yelinaung/finmail/internal/models"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func newRecord(id string) *models.FinancialRecord {
	return &models.FinancialRecord{
		MessageID:        id,
		Subject:          "Invoice " + id,
		From:             "billing@acme.example",
		EmailDate:        time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		DocumentType:     models.DocumentInvoice,
		Status:           models.StatusPaymentDue,
		Counterparty:     "Acme Corp",
		OriginalAmount:   dec("250.00"),
		OriginalCurrency: "EUR",
		USDAmount:        dec("270.00"),
		ExchangeRate:     dec("1.08"),
		Confidence:       0.9,
		AnalysisMethod:   models.MethodLLM,
		Anomalies:        []models.Anomaly{},
	}
}

// runStoreContract exercises the behaviour every RecordStore must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) RecordStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("insert then unchanged", func(t *testing.T) {
		store := newStore(t)

		out, err := store.Upsert(ctx, newRecord("m-1"))
		require.NoError(t, err)
		require.Equal(t, models.UpsertInserted, out)

		out, err = store.Upsert(ctx, newRecord("m-1"))
		require.NoError(t, err)
		require.Equal(t, models.UpsertUnchanged, out)

		recs, err := store.Query(ctx, models.RecordFilter{})
		require.NoError(t, err)
		require.Len(t, recs, 1)
	})

	t.Run("update keeps confirmation and history", func(t *testing.T) {
		store := newStore(t)

		first := newRecord("m-2")
		first.Confirmed = true
		first.ModificationHistory = []models.Modification{{
			Field: models.FieldCounterparty, OldValue: "Acme", NewValue: "Acme Corp",
			Reason: "typo", Timestamp: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		}}
		_, err := store.Upsert(ctx, first)
		require.NoError(t, err)

		second := newRecord("m-2")
		second.Counterparty = "ACME Corporation"
		out, err := store.Upsert(ctx, second)
		require.NoError(t, err)
		require.Equal(t, models.UpsertUpdated, out)
		require.True(t, second.Confirmed)

		got, err := store.Get(ctx, "m-2")
		require.NoError(t, err)
		assert.Equal(t, "ACME Corporation", got.Counterparty)
		assert.True(t, got.Confirmed)
		require.Len(t, got.ModificationHistory, 1)
		assert.Equal(t, "typo", got.ModificationHistory[0].Reason)
	})

	t.Run("history is appended not replaced", func(t *testing.T) {
		store := newStore(t)

		ts := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
		a := models.Modification{Field: models.FieldStatus, OldValue: "other", NewValue: "payment_due", Timestamp: ts}
		b := models.Modification{Field: models.FieldDueDate, OldValue: "", NewValue: "2024-04-01", Timestamp: ts.Add(time.Minute)}

		first := newRecord("m-3")
		first.ModificationHistory = []models.Modification{a}
		_, err := store.Upsert(ctx, first)
		require.NoError(t, err)

		second := newRecord("m-3")
		second.ModificationHistory = []models.Modification{a, b}
		out, err := store.Upsert(ctx, second)
		require.NoError(t, err)
		require.Equal(t, models.UpsertUpdated, out)

		third := newRecord("m-3")
		_, err = store.Upsert(ctx, third)
		require.NoError(t, err)

		got, err := store.Get(ctx, "m-3")
		require.NoError(t, err)
		require.Len(t, got.ModificationHistory, 2)
		assert.Equal(t, models.FieldStatus, got.ModificationHistory[0].Field)
		assert.Equal(t, models.FieldDueDate, got.ModificationHistory[1].Field)
	})

	t.Run("missing record", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "nope")
		require.ErrorIs(t, err, models.ErrRecordNotFound)
	})

	t.Run("empty message id", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Upsert(ctx, newRecord(""))
		require.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("query filters and summary", func(t *testing.T) {
		store := newStore(t)

		order := newRecord("q-1")
		order.DocumentType = models.DocumentOrder
		order.Status = models.StatusPaymentReceived
		order.OriginalCurrency = "USD"
		order.USDAmount = dec("10.00")
		order.EmailDate = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

		invoice := newRecord("q-2")
		invoice.Confirmed = true

		unconverted := newRecord("q-3")
		unconverted.OriginalCurrency = "JPY"
		unconverted.USDAmount = nil
		unconverted.ExchangeRate = nil
		unconverted.EmailDate = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

		for _, r := range []*models.FinancialRecord{order, invoice, unconverted} {
			_, err := store.Upsert(ctx, r)
			require.NoError(t, err)
		}

		invoiceType := models.DocumentInvoice
		recs, err := store.Query(ctx, models.RecordFilter{DocumentType: &invoiceType})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "q-3", recs[0].MessageID, "newest e-mail first")

		confirmed := true
		recs, err = store.Query(ctx, models.RecordFilter{Confirmed: &confirmed})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "q-2", recs[0].MessageID)

		from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
		recs, err = store.Query(ctx, models.RecordFilter{From: &from, To: &to})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "q-2", recs[0].MessageID)

		recs, err = store.Query(ctx, models.RecordFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, recs, 2)

		summary, err := store.Summarize(ctx, models.RecordFilter{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, summary.Count)
		assert.True(t, summary.TotalUSD.Equal(decimal.RequireFromString("280")), summary.TotalUSD.String())
		assert.Equal(t, 2, summary.ByType[models.DocumentInvoice])
		assert.Equal(t, 1, summary.ByType[models.DocumentOrder])
		assert.Equal(t, 2, summary.ByStatus[models.StatusPaymentDue])
		assert.Equal(t, 3, summary.CurrencyCount)
		assert.True(t, summary.USDByType[models.DocumentInvoice].Equal(decimal.RequireFromString("270")))
	})
}

func TestMemoryRecordStore_Contract(t *testing.T) {
	t.Parallel()
	runStoreContract(t, func(*testing.T) RecordStore { return NewMemoryRecordStore() })
}

func TestMemoryRecordStore_ReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryRecordStore()

	rec := newRecord("c-1")
	_, err := store.Upsert(ctx, rec)
	require.NoError(t, err)
	rec.Counterparty = "mutated"

	got, err := store.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Counterparty)

	got.Counterparty = "mutated again"
	again, err := store.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", again.Counterparty)
}

func TestMemoryRecordStore_ConcurrentUpsertsKeepOneRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryRecordStore()

	const writers = 20
	base := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := newRecord("same")
			rec.Confirmed = i == 7
			rec.ModificationHistory = []models.Modification{{
				Field: models.FieldDescription, NewValue: fmt.Sprintf("v%d", i), Timestamp: base.Add(time.Duration(i) * time.Second),
			}}
			_, err := store.Upsert(ctx, rec)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	recs, err := store.Query(ctx, models.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Confirmed)
	assert.Len(t, recs[0].ModificationHistory, writers)
}

func TestUpsert_IdempotenceProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		store := NewMemoryRecordStore()
		ids := rapid.SliceOfN(rapid.SampledFrom([]string{"a", "b", "c"}), 1, 12).Draw(rt, "ids")

		confirmedOnce := map[string]bool{}
		historyLen := map[string]int{}
		for i, id := range ids {
			rec := newRecord(id)
			rec.Confirmed = rapid.Bool().Draw(rt, fmt.Sprintf("confirmed-%d", i))
			if rapid.Bool().Draw(rt, fmt.Sprintf("edit-%d", i)) {
				rec.ModificationHistory = []models.Modification{{
					Field: models.FieldCounterparty, NewValue: fmt.Sprint(i),
					Timestamp: time.Unix(int64(i), 0).UTC(),
				}}
				historyLen[id]++
			}
			confirmedOnce[id] = confirmedOnce[id] || rec.Confirmed
			if _, err := store.Upsert(ctx, rec); err != nil {
				rt.Fatalf("upsert: %v", err)
			}
		}

		recs, _ := store.Query(ctx, models.RecordFilter{})
		if len(recs) != len(confirmedOnce) {
			rt.Fatalf("got %d records for %d identities", len(recs), len(confirmedOnce))
		}
		for _, rec := range recs {
			if rec.Confirmed != confirmedOnce[rec.MessageID] {
				rt.Fatalf("%s confirmed=%v, want %v", rec.MessageID, rec.Confirmed, confirmedOnce[rec.MessageID])
			}
			if len(rec.ModificationHistory) != historyLen[rec.MessageID] {
				rt.Fatalf("%s history %d, want %d", rec.MessageID, len(rec.ModificationHistory), historyLen[rec.MessageID])
			}
		}
	})
}

func TestContentHash(t *testing.T) {
	t.Parallel()

	a := newRecord("h")
	b := newRecord("h")
	b.OriginalAmount = dec("250.0000")
	b.Confirmed = true
	b.ModificationHistory = []models.Modification{{Field: "x"}}
	assert.Equal(t, ContentHash(a), ContentHash(b), "trailing zeros, confirmation and history do not count")

	b.Status = models.StatusPaymentReceived
	assert.NotEqual(t, ContentHash(a), ContentHash(b))
}
