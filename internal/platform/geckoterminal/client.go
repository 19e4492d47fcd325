// Package geckoterminal fetches per-venue pool listings from the
// GeckoTerminal API and assembles them into a pool snapshot.
package geckoterminal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const (
	apiVersion = "20230302"
	// sharedLimitKey is the distributed rate-limit bucket for this provider.
	sharedLimitKey = "geckoterminal"
)

// Config holds client parameters.
type Config struct {
	BaseURL string
	APIKey  string
	Network string
	// Pages is how many result pages to request per venue.
	Pages int
	// TopPools keeps the most liquid pools per venue; 0 keeps all.
	TopPools      int
	MaxConcurrent int
	RequestDelay  time.Duration
}

// Client is the REST client for the GeckoTerminal API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	shared     domain.RateLimiter
	logger     *slog.Logger
}

// New creates a Client. Requests are spaced by cfg.RequestDelay; when shared
// is non-nil every request also waits on the distributed limiter so several
// processes stay inside one API budget.
func New(cfg Config, shared domain.RateLimiter, logger *slog.Logger) *Client {
	if cfg.Pages < 1 {
		cfg.Pages = 1
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	limit := rate.Inf
	if cfg.RequestDelay > 0 {
		limit = rate.Every(cfg.RequestDelay)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(limit, 1),
		shared:     shared,
		logger:     logger.With(slog.String("component", "geckoterminal")),
	}
}

type dexesResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListDexes returns the ids of the venues GeckoTerminal indexes on the
// configured network.
func (c *Client) ListDexes(ctx context.Context) ([]string, error) {
	var ids []string
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		path := fmt.Sprintf("/networks/%s/dexes?%s", url.PathEscape(c.cfg.Network), params.Encode())

		var resp dexesResponse
		if err := c.getJSON(ctx, path, &resp); err != nil {
			return nil, fmt.Errorf("geckoterminal: list dexes: %w", err)
		}
		for _, d := range resp.Data {
			ids = append(ids, d.ID)
		}
		// The endpoint pages at 100 entries.
		if len(resp.Data) < 100 {
			return ids, nil
		}
	}
}

// FetchPools returns one venue's pools ordered by reserve, most liquid
// first, together with the token records they reference.
func (c *Client) FetchPools(ctx context.Context, dex string) (domain.VenuePools, error) {
	var (
		out  domain.VenuePools
		seen = make(map[string]bool)
	)
	for page := 1; page <= c.cfg.Pages; page++ {
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("include", "base_token,quote_token,dex")
		params.Set("sort", "h24_volume_usd_desc")
		path := fmt.Sprintf("/networks/%s/dexes/%s/pools?%s",
			url.PathEscape(c.cfg.Network), url.PathEscape(dex), params.Encode())

		var resp domain.VenuePools
		if err := c.getJSON(ctx, path, &resp); err != nil {
			return domain.VenuePools{}, fmt.Errorf("geckoterminal: pools %s page %d: %w", dex, page, err)
		}
		out.Data = append(out.Data, resp.Data...)
		for _, inc := range resp.Included {
			if !seen[inc.ID] {
				seen[inc.ID] = true
				out.Included = append(out.Included, inc)
			}
		}
		if len(resp.Data) == 0 {
			break
		}
	}

	SortByReserve(out.Data)
	if c.cfg.TopPools > 0 && len(out.Data) > c.cfg.TopPools {
		out.Data = out.Data[:c.cfg.TopPools]
	}
	out.Meta = &domain.PageMeta{Pages: c.cfg.Pages, FetchedAt: time.Now().UTC().Format(time.RFC3339)}
	return out, nil
}

// FetchSnapshot fetches every venue in dexes with bounded concurrency.
// Venues the network does not list are skipped, and a venue whose fetch
// fails is recorded with no pools so one bad venue does not sink the rest.
func (c *Client) FetchSnapshot(ctx context.Context, dexes []string) (domain.Snapshot, error) {
	targets := dexes
	if available, err := c.ListDexes(ctx); err != nil {
		c.logger.WarnContext(ctx, "dex listing failed, fetching configured venues as-is",
			slog.String("error", err.Error()),
		)
	} else {
		targets = filterAvailable(dexes, available)
		for _, d := range dexes {
			if !contains(targets, d) {
				c.logger.WarnContext(ctx, "venue not listed on network", slog.String("dex", d))
			}
		}
	}

	results := make([]domain.VenuePools, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrent)
	for i, dex := range targets {
		g.Go(func() error {
			pools, err := c.FetchPools(gctx, dex)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.ErrorContext(gctx, "venue fetch failed",
					slog.String("dex", dex),
					slog.String("error", err.Error()),
				)
				results[i] = domain.VenuePools{Data: []domain.PoolRecord{}}
				return nil
			}
			c.logger.DebugContext(gctx, "venue fetched",
				slog.String("dex", dex),
				slog.Int("pools", len(pools.Data)),
			)
			results[i] = pools
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("geckoterminal: fetch snapshot: %w", err)
	}

	snap := make(domain.Snapshot, len(targets))
	for i, dex := range targets {
		snap[dex] = results[i]
	}
	return snap, nil
}

// SortByReserve orders pools by reserve_in_usd, largest first. Pools with a
// missing or unparsable reserve sort last.
func SortByReserve(pools []domain.PoolRecord) {
	sort.SliceStable(pools, func(i, j int) bool {
		return reserve(pools[i]) > reserve(pools[j])
	})
}

func reserve(p domain.PoolRecord) float64 {
	if p.Attributes == nil {
		return -1
	}
	v, err := strconv.ParseFloat(p.Attributes.ReserveInUSD, 64)
	if err != nil {
		return -1
	}
	return v
}

func filterAvailable(want, available []string) []string {
	set := make(map[string]bool, len(available))
	for _, a := range available {
		set[a] = true
	}
	out := make([]string, 0, len(want))
	for _, w := range want {
		if set[w] {
			out = append(out, w)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// getJSON waits on the rate limiters, issues the GET, and decodes the body.
func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	if c.shared != nil {
		if err := c.shared.Wait(ctx, sharedLimitKey); err != nil {
			return fmt.Errorf("shared rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json;version="+apiVersion)
	if c.cfg.APIKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
