package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gitlab.com/yelinaung/finmail/internal/models"
)

// SourceExchangeRateAPI tags rates from exchangerate-api.com or its open endpoint.
const SourceExchangeRateAPI = "exchangerate-api"

const (
	defaultKeyedBaseURL = "https://v6.exchangerate-api.com"
	defaultOpenBaseURL  = "https://open.er-api.com"
)

// ExchangeRateAPIClient queries exchangerate-api.com. With an API key it uses
// the pair endpoint; without one it falls back to the open latest-rates endpoint.
type ExchangeRateAPIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type exchangeRateAPIResponse struct {
	Result             string                 `json:"result"`
	ErrorType          string                 `json:"error-type"`
	TimeLastUpdateUnix int64                  `json:"time_last_update_unix"`
	ConversionRate     json.Number            `json:"conversion_rate"`
	Rates              map[string]json.Number `json:"rates"`
}

// NewExchangeRateAPIClient creates a client. An empty baseURL selects the
// public host matching the presence of apiKey.
func NewExchangeRateAPIClient(apiKey, baseURL string, timeout time.Duration) *ExchangeRateAPIClient {
	apiKey = strings.TrimSpace(apiKey)
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		trimmed = defaultOpenBaseURL
		if apiKey != "" {
			trimmed = defaultKeyedBaseURL
		}
	}

	return &ExchangeRateAPIClient{
		apiKey:     apiKey,
		baseURL:    trimmed,
		httpClient: newHTTPClient(timeout),
	}
}

// Name implements Provider.
func (c *ExchangeRateAPIClient) Name() string { return SourceExchangeRateAPI }

// Lookup fetches the rate for base to target.
func (c *ExchangeRateAPIClient) Lookup(ctx context.Context, base, target string) (Quote, error) {
	from := models.NormalizeCurrency(base)
	to := models.NormalizeCurrency(target)
	if from == "" || to == "" {
		return Quote{}, errCurrencyRequired
	}

	var endpoint string
	if c.apiKey != "" {
		endpoint = fmt.Sprintf("%s/v6/%s/pair/%s/%s",
			c.baseURL, url.PathEscape(c.apiKey), url.PathEscape(from), url.PathEscape(to))
	} else {
		endpoint = fmt.Sprintf("%s/v6/latest/%s", c.baseURL, url.PathEscape(from))
	}

	var payload exchangeRateAPIResponse
	if err := getJSON(ctx, c.httpClient, endpoint, &payload); err != nil {
		return Quote{}, err
	}
	if payload.Result != "success" {
		if payload.ErrorType != "" {
			return Quote{}, fmt.Errorf("exchange API error: %s", payload.ErrorType)
		}
		return Quote{}, errors.New("exchange API returned unsuccessful result")
	}

	rateStr := payload.ConversionRate
	if c.apiKey == "" {
		var ok bool
		rateStr, ok = payload.Rates[to]
		if !ok {
			return Quote{}, errRateMissing
		}
	}
	if rateStr == "" {
		return Quote{}, errRateMissing
	}

	rate, err := decimal.NewFromString(rateStr.String())
	if err != nil {
		return Quote{}, fmt.Errorf("failed to parse conversion rate: %w", err)
	}
	if err := validateRate(rate); err != nil {
		return Quote{}, err
	}

	rateDate := time.Now().UTC()
	if payload.TimeLastUpdateUnix > 0 {
		rateDate = time.Unix(payload.TimeLastUpdateUnix, 0).UTC()
	}

	return Quote{Rate: rate, RateDate: rateDate, Source: SourceExchangeRateAPI}, nil
}
