package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spxsignals/infra/breakers"
	"github.com/sawpanic/spxsignals/internal/analytics/fib"
	"github.com/sawpanic/spxsignals/internal/net/budget"
	"github.com/sawpanic/spxsignals/internal/net/ratelimit"
)

type AggregatesConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
	Timeout time.Duration `yaml:"timeout"`
	// DailyBudget caps requests per UTC day; zero means unlimited.
	DailyBudget int64 `yaml:"daily_budget"`
}

func DefaultAggregatesConfig() AggregatesConfig {
	return AggregatesConfig{
		BaseURL: "https://api.massive.com",
		RPS:     5,
		Burst:   5,
		Timeout: 10 * time.Second,
	}
}

// AggregatesClient fetches OHLC aggregates from the Massive (Polygon-compatible)
// REST API behind a per-host rate limiter and a circuit breaker.
type AggregatesClient struct {
	baseURL string
	host    string
	apiKey  string
	client  *http.Client
	limiter *ratelimit.Limiter
	breaker *breakers.Breaker
	budget  *budget.Tracker
}

func NewAggregatesClient(cfg AggregatesConfig) (*AggregatesClient, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid aggregates base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultAggregatesConfig().Timeout
	}
	return &AggregatesClient{
		baseURL: u.Scheme + "://" + u.Host,
		host:    u.Host,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		limiter: ratelimit.NewLimiter(cfg.RPS, cfg.Burst),
		breaker: breakers.New("massive_aggregates"),
		budget:  budget.NewTracker("massive", cfg.DailyBudget, 0, 0.8),
	}, nil
}

func (c *AggregatesClient) GetDailyAggregates(ctx context.Context, ticker, from, to string) ([]fib.Bar, error) {
	return c.fetch(ctx, ticker, "day", from, to)
}

func (c *AggregatesClient) GetMinuteAggregates(ctx context.Context, ticker, date string) ([]fib.Bar, error) {
	return c.fetch(ctx, ticker, "minute", date, date)
}

type aggregatesResponse struct {
	Status  string         `json:"status"`
	Results []aggregateRow `json:"results"`
	Error   string         `json:"error"`
}

type aggregateRow struct {
	O *float64 `json:"o"`
	H *float64 `json:"h"`
	L *float64 `json:"l"`
	C *float64 `json:"c"`
	T *int64   `json:"t"`
}

// ProviderStatus is the health view of one upstream client.
type ProviderStatus struct {
	Name    string                     `json:"name"`
	Breaker string                     `json:"breaker"`
	Budget  budget.Stats               `json:"budget"`
	Hosts   map[string]ratelimit.Stats `json:"hosts"`
}

// Healthy is false while the breaker is open or the daily budget is spent.
func (s ProviderStatus) Healthy() bool {
	return s.Breaker != "open" && !s.Budget.Exhausted
}

func (c *AggregatesClient) Status() ProviderStatus {
	return ProviderStatus{
		Name:    "massive",
		Breaker: c.breaker.State(),
		Budget:  c.budget.Stats(),
		Hosts:   c.limiter.Stats(),
	}
}

func (c *AggregatesClient) fetch(ctx context.Context, ticker, span, from, to string) ([]fib.Bar, error) {
	crossed, err := c.budget.Consume()
	if err != nil {
		return nil, err
	}
	if crossed {
		stats := c.budget.Stats()
		log.Warn().Int64("used", stats.Used).Int64("limit", stats.Limit).Msg("Aggregates daily budget nearly spent")
	}

	if err := c.limiter.Wait(ctx, c.host); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/%s/%s/%s?adjusted=true&sort=asc&limit=50000",
		c.baseURL, url.PathEscape(ticker), span, from, to)

	started := time.Now()
	out, err := c.breaker.Execute(func() (any, error) {
		return c.get(ctx, endpoint)
	})
	if err != nil {
		if breakers.IsOpen(err) {
			log.Warn().Str("ticker", ticker).Str("span", span).Msg("Aggregates breaker open, request rejected")
		} else {
			log.Debug().Err(err).Str("ticker", ticker).Str("span", span).Msg("Aggregates request failed")
		}
		return nil, fmt.Errorf("failed to fetch %s %s aggregates: %w", ticker, span, err)
	}

	rows := out.([]aggregateRow)
	bars := make([]fib.Bar, 0, len(rows))
	for _, r := range rows {
		if r.H == nil || r.L == nil || r.C == nil {
			continue
		}
		bar := fib.Bar{High: *r.H, Low: *r.L, Close: *r.C}
		if r.O != nil {
			bar.Open = *r.O
		}
		if r.T != nil {
			bar.Timestamp = *r.T
		} else {
			bar.Timestamp = time.Now().UnixMilli()
		}
		bars = append(bars, bar)
	}

	log.Debug().
		Str("ticker", ticker).
		Str("span", span).
		Int("bars", len(bars)).
		Dur("duration", time.Since(started)).
		Msg("Aggregates retrieved")

	return bars, nil
}

func (c *AggregatesClient) get(ctx context.Context, endpoint string) ([]aggregateRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var payload aggregatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode aggregates: %w", err)
	}
	if payload.Status == "ERROR" {
		return nil, fmt.Errorf("aggregates error: %s", payload.Error)
	}
	return payload.Results, nil
}
