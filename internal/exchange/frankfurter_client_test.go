package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrankfurterClient_Lookup(t *testing.T) {
	t.Parallel()

	t.Run("returns quote", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/latest", r.URL.Path)
			assert.Equal(t, "EUR", r.URL.Query().Get("from"))
			assert.Equal(t, "USD", r.URL.Query().Get("to"))
			_, _ = w.Write([]byte(`{"amount":1,"base":"EUR","date":"2024-02-28","rates":{"USD":1.0825}}`))
		}))
		defer server.Close()

		client := NewFrankfurterClient(server.URL, time.Second)
		got, err := client.Lookup(context.Background(), "eur", "usd")
		require.NoError(t, err)
		require.Equal(t, decimal.RequireFromString("1.0825"), got.Rate)
		require.Equal(t, "2024-02-28", got.RateDate.Format("2006-01-02"))
		require.Equal(t, SourceFrankfurter, got.Source)
	})

	t.Run("returns error on non 200 response", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewFrankfurterClient(server.URL, time.Second)
		_, err := client.Lookup(context.Background(), "EUR", "USD")
		require.Error(t, err)
		require.Contains(t, err.Error(), "status 502")
	})

	t.Run("returns error when target rate is missing", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"amount":1,"base":"EUR","date":"2024-02-28","rates":{"GBP":0.85}}`))
		}))
		defer server.Close()

		client := NewFrankfurterClient(server.URL, time.Second)
		_, err := client.Lookup(context.Background(), "EUR", "USD")
		require.ErrorIs(t, err, errRateMissing)
	})

	t.Run("returns error when target rate is non-positive", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"amount":1,"base":"EUR","date":"2024-02-28","rates":{"USD":0}}`))
		}))
		defer server.Close()

		client := NewFrankfurterClient(server.URL, time.Second)
		_, err := client.Lookup(context.Background(), "EUR", "USD")
		require.ErrorIs(t, err, errInvalidNonPositiveRate)
	})

	t.Run("returns error on malformed date", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"amount":1,"base":"EUR","date":"yesterday","rates":{"USD":1.08}}`))
		}))
		defer server.Close()

		client := NewFrankfurterClient(server.URL, time.Second)
		_, err := client.Lookup(context.Background(), "EUR", "USD")
		require.Error(t, err)
		require.Contains(t, err.Error(), "date")
	})

	t.Run("requires currencies", func(t *testing.T) {
		t.Parallel()

		client := NewFrankfurterClient("", time.Second)
		_, err := client.Lookup(context.Background(), " ", "USD")
		require.ErrorIs(t, err, errCurrencyRequired)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			_, _ = fmt.Fprint(w, `{"amount":1,"base":"EUR","date":"2024-02-28","rates":{"USD":1.08}}`)
		}))
		defer server.Close()

		client := NewFrankfurterClient(server.URL, time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := client.Lookup(ctx, "EUR", "USD")
		require.Error(t, err)
	})
}

func FuzzFrankfurterResponse(f *testing.F) {
	f.Add(`{"amount":1,"base":"EUR","date":"2024-02-28","rates":{"USD":1.08}}`)
	f.Add(`{"rates":{"USD":"abc"}}`)
	f.Add(`{"rates":{"USD":-1},"date":"2024-02-28"}`)
	f.Add(`not json`)

	f.Fuzz(func(t *testing.T, body string) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		defer server.Close()

		client := NewFrankfurterClient(server.URL, time.Second)
		q, err := client.Lookup(context.Background(), "EUR", "USD")
		if err == nil {
			require.True(t, q.Rate.IsPositive())
		}
	})
}
