// Package exchange implements the Polymarket HTTP and WebSocket clients
// the copy trader consumes.
//
// The REST client (Client) talks to three upstream services:
//   - FetchActivity:  GET data-api /activity  — the source trader's recent trades
//   - FetchBook:      GET clob     /book      — one-shot top-of-book probe
//   - ResolveSource:  GET gamma    /public-search — handle → proxy wallet (startup only)
//
// Every request is rate-limited via per-category TokenBuckets and
// automatically retried on 5xx errors. Non-2xx responses surface as errors
// the caller logs and retries on its next cycle.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-copytrader/internal/config"
	"polymarket-copytrader/pkg/types"
)

// Client is the REST client for the Gamma, Data, and CLOB APIs.
type Client struct {
	gamma  *resty.Client // profile search
	data   *resty.Client // activity feed
	clob   *resty.Client // order book probes
	rl     *RateLimiter
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(eps config.Endpoints, logger *slog.Logger) *Client {
	newREST := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetTimeout(15 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() >= 500
			})
	}

	return &Client{
		gamma:  newREST(eps.GammaBaseURL),
		data:   newREST(eps.DataBaseURL),
		clob:   newREST(eps.CLOBBaseURL),
		rl:     NewRateLimiter(),
		logger: logger.With("component", "rest"),
	}
}

// FetchActivity pulls the source trader's recent TRADE activity, newest
// first. The caller supplies the item limit.
func (c *Client) FetchActivity(ctx context.Context, wallet string, limit int) ([]types.TradeItem, error) {
	if err := c.rl.Activity.Wait(ctx); err != nil {
		return nil, err
	}

	var items []types.TradeItem
	resp, err := c.data.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"user":          wallet,
			"type":          "TRADE",
			"limit":         strconv.Itoa(limit),
			"offset":        "0",
			"sortBy":        "TIMESTAMP",
			"sortDirection": "DESC",
		}).
		SetResult(&items).
		Get("/activity")
	if err != nil {
		return nil, fmt.Errorf("fetch activity: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch activity: status %d: %s", resp.StatusCode(), resp.String())
	}
	return items, nil
}

// bookResponse is the REST response from GET /book for a single token.
type bookResponse struct {
	AssetID string             `json:"asset_id"`
	Bids    []types.PriceLevel `json:"bids"`
	Asks    []types.PriceLevel `json:"asks"`
}

// FetchBook probes the order book for one token. Best levels are at
// index 0.
func (c *Client) FetchBook(ctx context.Context, tokenID string) (bids, asks []types.PriceLevel, err error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, nil, err
	}

	var result bookResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, nil, fmt.Errorf("fetch book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.Bids, result.Asks, nil
}
