// Package exchange converts monetary amounts between currencies using
// cached rates fetched from public rate providers.
package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	errRateMissing            = errors.New("conversion rate missing in response")
	errInvalidNonPositiveRate = errors.New("conversion rate must be positive")
	errCurrencyRequired       = errors.New("from and to currencies are required")
)

// SourceIdentity tags conversions between a currency and itself.
const SourceIdentity = "identity"

// ConversionResult contains converted amount details.
type ConversionResult struct {
	Amount   decimal.Decimal
	Rate     decimal.Decimal
	RateDate time.Time
	Source   string
	// Stale is set when every provider failed and an expired cached rate was used.
	Stale bool
}

// Quote is a single rate observation returned by a provider.
type Quote struct {
	Rate     decimal.Decimal
	RateDate time.Time
	Source   string
}

// Provider looks up the rate that converts one unit of base into target.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, base, target string) (Quote, error)
}

// Service converts amounts between currencies.
type Service interface {
	Convert(ctx context.Context, amount decimal.Decimal, fromCurrency, toCurrency string) (ConversionResult, error)
}

func validateRate(rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return errInvalidNonPositiveRate
	}
	return nil
}
