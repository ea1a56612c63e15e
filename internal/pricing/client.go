package pricing

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"coinfolio-go/internal/config"
	"coinfolio-go/internal/engine"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const quoteSymbol = "USDT"

// Source is the live-price lookup used to mark open positions to market.
type Source interface {
	GetPrices(ctx context.Context, tickers []string) (map[string]float64, error)
}

// Client fetches spot prices from a Binance-style public ticker endpoint.
// Positions are recomputed on every page load, so responses are cached for a
// short TTL and outbound calls are rate limited.
type Client struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	stable  engine.StableSet
	ttl     time.Duration

	mu       sync.Mutex
	cache    map[string]float64
	cachedAt time.Time
}

// ensure Client implements the interface
var _ Source = (*Client)(nil)

// NewClient creates a new market-data client. Stable tickers are priced at
// 1.0 without touching the network.
func NewClient(cfg *config.Pricing, stable engine.StableSet, logger *zap.Logger) *Client {
	return &Client{
		client:  resty.New().SetBaseURL(cfg.BaseURL),
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		stable:  stable,
		ttl:     time.Duration(cfg.CacheTTL) * time.Second,
		cache:   make(map[string]float64),
	}
}

// tickerPrice represents the response for a single ticker price.
type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetPrices returns the latest USD price per ticker. Tickers with no quoted
// market are left out of the map; callers treat them as unpriceable rather
// than failing the whole request.
func (c *Client) GetPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	out := make(map[string]float64, len(tickers))
	var missing []string

	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := out[t]; ok {
			continue
		}
		if c.stable.Contains(t) {
			out[t] = 1.0
			continue
		}
		if p, ok := c.cached(t); ok {
			out[t] = p
			continue
		}
		missing = append(missing, t)
	}
	if len(missing) == 0 {
		return out, nil
	}

	prices, err := c.fetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh price cache: %w", err)
	}

	for _, t := range missing {
		p, ok := prices[t+quoteSymbol]
		if !ok {
			c.logger.Warn("No quoted market for ticker", zap.String("ticker", t))
			continue
		}
		out[t] = p
	}
	return out, nil
}

func (c *Client) cached(ticker string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.cachedAt) > c.ttl {
		return 0, false
	}
	p, ok := c.cache[ticker+quoteSymbol]
	return p, ok
}

// fetchAll loads the full ticker price list in one call and refreshes the
// cache with it.
func (c *Client) fetchAll(ctx context.Context) (map[string]float64, error) {
	var rows []*tickerPrice
	req := c.client.R().
		SetContext(ctx).
		SetResult(&rows).
		SetHeader("Content-Type", "application/json")

	if _, err := c.doRequest(ctx, "GET", "/ticker/price", req); err != nil {
		return nil, err
	}

	prices := make(map[string]float64, len(rows))
	for _, row := range rows {
		p, err := strconv.ParseFloat(row.Price, 64)
		if err != nil || p <= 0 {
			continue
		}
		prices[row.Symbol] = p
	}

	c.mu.Lock()
	c.cache = prices
	c.cachedAt = time.Now()
	c.mu.Unlock()

	return prices, nil
}

// doRequest executes the request with rate limiting and retries transient
// failures (429/418 honoring Retry-After, and 5xx) with exponential backoff.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	const maxRetries = 3

	var resp *resty.Response
	var err error
	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		resp, err = req.Execute(method, url)
		if err == nil && !resp.IsError() {
			return resp, nil
		}

		retryAfter := time.Duration(math.Pow(2, float64(i))) * time.Second
		switch {
		case resp == nil:
			// Network error, retry with backoff.
		case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() == 418:
			if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		case resp.StatusCode() >= 500:
			// Server error, retry with backoff.
		default:
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		c.logger.Warn("Price request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}
