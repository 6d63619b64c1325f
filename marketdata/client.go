package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ClientConfig configures the REST bar client.
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// DefaultClientConfig returns a client configuration with sane timeouts.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL: "https://data.alpaca.markets",
		Timeout: 15 * time.Second,
	}
}

// Client fetches historical bars over REST and serves scans from a per-symbol
// cache so repeated scans do not refetch full history.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	cache      *barCache
	logger     *zap.Logger
}

// NewClient creates a bar client.
func NewClient(config ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		cache:      newBarCache(1000),
		logger:     logger,
	}
}

// barsResponse mirrors the data API's bar payload.
type barsResponse struct {
	Bars []struct {
		Timestamp time.Time `json:"t"`
		Open      float64   `json:"o"`
		High      float64   `json:"h"`
		Low       float64   `json:"l"`
		Close     float64   `json:"c"`
		Volume    int64     `json:"v"`
	} `json:"bars"`
	NextPageToken *string `json:"next_page_token"`
}

// GetBars implements DataFeed. It serves from cache when the cache already
// holds enough fresh bars, otherwise fetches from the API and refreshes the
// cache.
func (c *Client) GetBars(ctx context.Context, symbol string, lookback int) ([]Bar, error) {
	if cached, ok := c.cache.Recent(symbol, lookback); ok {
		return cached, nil
	}

	bars, err := c.fetchBars(ctx, symbol, lookback)
	if err != nil {
		c.logger.Warn("bar fetch failed",
			zap.String("symbol", symbol),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s: empty response", ErrDataUnavailable, symbol)
	}
	if !validateBars(bars) {
		return nil, fmt.Errorf("%w: %s: bars out of order", ErrDataUnavailable, symbol)
	}

	c.cache.Replace(symbol, bars)
	return bars, nil
}

func (c *Client) fetchBars(ctx context.Context, symbol string, lookback int) ([]Bar, error) {
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/bars", c.config.BaseURL, url.PathEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	q := req.URL.Query()
	q.Set("timeframe", "5Min")
	q.Set("limit", strconv.Itoa(lookback))
	q.Set("adjustment", "raw")
	req.URL.RawQuery = q.Encode()

	req.Header.Set("APCA-API-KEY-ID", c.config.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.config.APISecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var parsed barsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse bars response: %w", err)
	}

	bars := make([]Bar, 0, len(parsed.Bars))
	for _, b := range parsed.Bars {
		bars = append(bars, Bar{
			Symbol:    symbol,
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	return bars, nil
}
