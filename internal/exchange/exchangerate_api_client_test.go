package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeRateAPIClient_Lookup(t *testing.T) {
	t.Parallel()

	t.Run("open endpoint without key", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v6/latest/JPY", r.URL.Path)
			_, _ = w.Write([]byte(`{"result":"success","base_code":"JPY","time_last_update_unix":1709078400,"rates":{"USD":0.0067,"EUR":0.0062}}`))
		}))
		defer server.Close()

		client := NewExchangeRateAPIClient("", server.URL, time.Second)
		got, err := client.Lookup(context.Background(), "jpy", "usd")
		require.NoError(t, err)
		require.Equal(t, decimal.RequireFromString("0.0067"), got.Rate)
		require.Equal(t, time.Unix(1709078400, 0).UTC(), got.RateDate)
		require.Equal(t, SourceExchangeRateAPI, got.Source)
	})

	t.Run("pair endpoint with key", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v6/secret/pair/GBP/USD", r.URL.Path)
			_, _ = w.Write([]byte(`{"result":"success","time_last_update_unix":1709078400,"conversion_rate":1.2674}`))
		}))
		defer server.Close()

		client := NewExchangeRateAPIClient("secret", server.URL, time.Second)
		got, err := client.Lookup(context.Background(), "GBP", "USD")
		require.NoError(t, err)
		require.Equal(t, decimal.RequireFromString("1.2674"), got.Rate)
	})

	t.Run("unsuccessful result", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"result":"error","error-type":"unsupported-code"}`))
		}))
		defer server.Close()

		client := NewExchangeRateAPIClient("", server.URL, time.Second)
		_, err := client.Lookup(context.Background(), "XYZ", "USD")
		require.Error(t, err)
		require.Contains(t, err.Error(), "unsupported-code")
	})

	t.Run("missing target rate is an error", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"result":"success","rates":{"EUR":0.92}}`))
		}))
		defer server.Close()

		client := NewExchangeRateAPIClient("", server.URL, time.Second)
		_, err := client.Lookup(context.Background(), "USD", "SGD")
		require.ErrorIs(t, err, errRateMissing)
	})

	t.Run("default hosts", func(t *testing.T) {
		t.Parallel()

		require.Equal(t, defaultOpenBaseURL, NewExchangeRateAPIClient("", "", 0).baseURL)
		require.Equal(t, defaultKeyedBaseURL, NewExchangeRateAPIClient("k", "", 0).baseURL)
	})
}
