package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"gitlab.com/yelinaung/finmail/internal/logger"
	"gitlab.com/yelinaung/finmail/internal/models"
)

const meterName = "gitlab.com/yelinaung/finmail/internal/exchange"

type cachedRateEntry struct {
	Quote     Quote
	FetchedAt time.Time
}

type inFlightCall struct {
	done   chan struct{}
	result lookupResult
	err    error
}

type lookupResult struct {
	quote Quote
	stale bool
}

const maxCleanupInterval = 5 * time.Minute

// Converter converts amounts using rates from an ordered list of providers.
// Rates are cached per normalized pair under a TTLPolicy; concurrent misses
// for one pair share a single provider round.
type Converter struct {
	providers []Provider
	policy    TTLPolicy
	now       func() time.Time

	mu          sync.RWMutex
	rates       map[string]cachedRateEntry
	inFlight    map[string]*inFlightCall
	lastCleanup time.Time

	lookups metric.Int64Counter
	misses  metric.Int64Counter
}

// Option configures a Converter.
type Option func(*Converter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Converter) { c.now = now }
}

// NewConverter returns a converter that tries providers in the given order.
func NewConverter(policy TTLPolicy, providers []Provider, opts ...Option) *Converter {
	c := &Converter{
		providers: providers,
		policy:    policy,
		now:       time.Now,
		rates:     make(map[string]cachedRateEntry),
		inFlight:  make(map[string]*inFlightCall),
	}
	for _, opt := range opts {
		opt(c)
	}

	meter := otel.Meter(meterName)
	c.lookups, _ = meter.Int64Counter("finmail.exchange.lookups",
		metric.WithDescription("Rate lookups by cache outcome"))
	c.misses, _ = meter.Int64Counter("finmail.exchange.provider_failures",
		metric.WithDescription("Rate provider failures"))

	return c
}

func normalizePair(fromCurrency, toCurrency string) (string, string, string) {
	from := models.NormalizeCurrency(fromCurrency)
	to := models.NormalizeCurrency(toCurrency)
	return from, to, from + "->" + to
}

// Convert returns amount expressed in toCurrency, rounded to two places.
// When no rate can be obtained the error wraps models.ErrConversionUnavailable.
func (c *Converter) Convert(
	ctx context.Context,
	amount decimal.Decimal,
	fromCurrency, toCurrency string,
) (ConversionResult, error) {
	from, to, key := normalizePair(fromCurrency, toCurrency)
	if from == "" || to == "" {
		return ConversionResult{}, fmt.Errorf("%w: %w", models.ErrConversionUnavailable, errCurrencyRequired)
	}
	if from == to {
		return ConversionResult{
			Amount:   amount.Round(2),
			Rate:     decimal.NewFromInt(1),
			RateDate: c.now().UTC(),
			Source:   SourceIdentity,
		}, nil
	}

	now := c.now()

	c.mu.RLock()
	entry, ok := c.rates[key]
	c.mu.RUnlock()
	if ok && c.policy.Fresh(entry.FetchedAt, now) {
		c.record(ctx, "hit")
		return applyRate(amount, lookupResult{quote: entry.Quote}), nil
	}

	c.mu.Lock()
	// Re-check under write lock in case another goroutine refreshed it.
	entry, ok = c.rates[key]
	if ok && c.policy.Fresh(entry.FetchedAt, now) {
		c.mu.Unlock()
		c.record(ctx, "hit")
		return applyRate(amount, lookupResult{quote: entry.Quote}), nil
	}

	if call, waiting := c.inFlight[key]; waiting {
		c.mu.Unlock()
		c.record(ctx, "shared")
		return waitForInFlight(ctx, amount, call)
	}

	call := &inFlightCall{done: make(chan struct{})}
	c.inFlight[key] = call
	c.mu.Unlock()
	c.record(ctx, "miss")

	// Detached so one short-deadline caller cannot fail every waiter.
	go c.fetchAndBroadcast(context.WithoutCancel(ctx), key, from, to, call)
	return waitForInFlight(ctx, amount, call)
}

// Rate returns the cached rate for a pair without contacting providers.
func (c *Converter) Rate(fromCurrency, toCurrency string) (models.ExchangeRate, bool) {
	from, to, key := normalizePair(fromCurrency, toCurrency)
	c.mu.RLock()
	entry, ok := c.rates[key]
	c.mu.RUnlock()
	if !ok {
		return models.ExchangeRate{}, false
	}
	return models.ExchangeRate{
		Base:        from,
		Target:      to,
		Rate:        entry.Quote.Rate,
		RateDate:    entry.Quote.RateDate,
		LastUpdated: entry.FetchedAt,
		Source:      entry.Quote.Source,
	}, true
}

func (c *Converter) fetchAndBroadcast(ctx context.Context, key, from, to string, call *inFlightCall) {
	quote, err := c.lookup(ctx, from, to)

	fetchedAt := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.rates[key] = cachedRateEntry{Quote: quote, FetchedAt: fetchedAt}
		c.cleanupExpiredLocked(fetchedAt)
		call.result = lookupResult{quote: quote}
	} else if entry, ok := c.rates[key]; ok && c.policy.Usable(entry.FetchedAt, fetchedAt) {
		logger.Log.Warn().Err(err).
			Str("pair", key).
			Time("fetched_at", entry.FetchedAt).
			Msg("All rate providers failed, serving stale rate")
		call.result = lookupResult{quote: entry.Quote, stale: true}
		err = nil
	} else {
		err = fmt.Errorf("%w: %s: %w", models.ErrConversionUnavailable, key, err)
	}

	call.err = err
	delete(c.inFlight, key)
	close(call.done)
}

// lookup asks providers in priority order and returns the first valid quote.
func (c *Converter) lookup(ctx context.Context, from, to string) (Quote, error) {
	if len(c.providers) == 0 {
		return Quote{}, errors.New("no rate providers configured")
	}

	var errs []error
	for _, p := range c.providers {
		quote, err := p.Lookup(ctx, from, to)
		if err == nil {
			err = validateRate(quote.Rate)
		}
		if err == nil {
			if quote.Source == "" {
				quote.Source = p.Name()
			}
			return quote, nil
		}

		if c.misses != nil {
			c.misses.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", p.Name())))
		}
		logger.Log.Debug().Err(err).
			Str("provider", p.Name()).
			Str("from", from).
			Str("to", to).
			Msg("Rate provider failed")
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return Quote{}, errors.Join(errs...)
}

func (c *Converter) record(ctx context.Context, outcome string) {
	if c.lookups != nil {
		c.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func waitForInFlight(ctx context.Context, amount decimal.Decimal, call *inFlightCall) (ConversionResult, error) {
	select {
	case <-ctx.Done():
		return ConversionResult{}, ctx.Err()
	case <-call.done:
		if call.err != nil {
			return ConversionResult{}, call.err
		}
		return applyRate(amount, call.result), nil
	}
}

// cleanupExpiredLocked drops entries that can no longer be served even as stale.
func (c *Converter) cleanupExpiredLocked(now time.Time) {
	if c.policy.MaxStale <= 0 {
		return
	}
	interval := min(c.policy.ttl(), maxCleanupInterval)
	if !c.lastCleanup.IsZero() && now.Sub(c.lastCleanup) < interval {
		return
	}
	for pair, entry := range c.rates {
		if !c.policy.Usable(entry.FetchedAt, now) {
			delete(c.rates, pair)
		}
	}
	c.lastCleanup = now
}

func applyRate(amount decimal.Decimal, r lookupResult) ConversionResult {
	return ConversionResult{
		Amount:   amount.Mul(r.quote.Rate).Round(2),
		Rate:     r.quote.Rate,
		RateDate: r.quote.RateDate,
		Source:   r.quote.Source,
		Stale:    r.stale,
	}
}
