package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gitlab.com/yelinaung/finmail/internal/models"
)

// SourceFrankfurter tags rates from the Frankfurter API.
const SourceFrankfurter = "frankfurter"

// FrankfurterClient is a client for frankfurter.app exchange rates API.
type FrankfurterClient struct {
	baseURL    string
	httpClient *http.Client
}

type frankfurterResponse struct {
	Base  string                 `json:"base"`
	Date  string                 `json:"date"`
	Rates map[string]json.Number `json:"rates"`
}

// NewFrankfurterClient creates a Frankfurter API client.
func NewFrankfurterClient(baseURL string, timeout time.Duration) *FrankfurterClient {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		trimmed = "https://api.frankfurter.app"
	}

	return &FrankfurterClient{
		baseURL:    trimmed,
		httpClient: newHTTPClient(timeout),
	}
}

// Name implements Provider.
func (c *FrankfurterClient) Name() string { return SourceFrankfurter }

// Lookup fetches the latest published rate for base to target.
func (c *FrankfurterClient) Lookup(ctx context.Context, base, target string) (Quote, error) {
	from := models.NormalizeCurrency(base)
	to := models.NormalizeCurrency(target)
	if from == "" || to == "" {
		return Quote{}, errCurrencyRequired
	}

	endpoint := fmt.Sprintf("%s/latest?from=%s&to=%s",
		c.baseURL,
		url.QueryEscape(from),
		url.QueryEscape(to),
	)

	var payload frankfurterResponse
	if err := getJSON(ctx, c.httpClient, endpoint, &payload); err != nil {
		return Quote{}, err
	}

	rateStr, ok := payload.Rates[to]
	if !ok {
		return Quote{}, errRateMissing
	}

	rate, err := decimal.NewFromString(rateStr.String())
	if err != nil {
		return Quote{}, fmt.Errorf("failed to parse conversion rate: %w", err)
	}
	if err := validateRate(rate); err != nil {
		return Quote{}, err
	}

	rateDate, err := time.Parse(models.DateLayout, payload.Date)
	if err != nil {
		return Quote{}, fmt.Errorf("failed to parse conversion date: %w", err)
	}

	return Quote{Rate: rate, RateDate: rateDate, Source: SourceFrankfurter}, nil
}
