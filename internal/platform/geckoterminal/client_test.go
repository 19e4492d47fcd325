package geckoterminal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type countingLimiter struct{ waits atomic.Int32 }

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.waits.Add(1)
	return nil
}

func poolJSON(id, reserve string) string {
	return fmt.Sprintf(`{"id":%q,"type":"pool","attributes":{"name":"WETH / USDC","address":"0x1","reserve_in_usd":%q,"base_token_price_usd":"2000","quote_token_price_usd":"1"},"relationships":{"base_token":{"data":{"id":"eth_0xa","type":"token"}},"quote_token":{"data":{"id":"eth_0xb","type":"token"}}}}`, id, reserve)
}

func newTestServer(t *testing.T) (*httptest.Server, *sync.Map) {
	t.Helper()
	headers := &sync.Map{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /networks/eth/dexes", func(w http.ResponseWriter, r *http.Request) {
		headers.Store("accept", r.Header.Get("Accept"))
		headers.Store("key", r.Header.Get("x-cg-pro-api-key"))
		_, _ = io.WriteString(w, `{"data":[{"id":"uniswap_v3"},{"id":"sushiswap"}]}`)
	})
	mux.HandleFunc("GET /networks/eth/dexes/uniswap_v3/pools", func(w http.ResponseWriter, r *http.Request) {
		headers.Store("include", r.URL.Query().Get("include"))
		headers.Store("sort", r.URL.Query().Get("sort"))
		fmt.Fprintf(w, `{"data":[%s,%s,%s],"included":[{"id":"eth_0xa","type":"token","attributes":{"symbol":"WETH"}},{"id":"eth_0xb","type":"token","attributes":{"symbol":"USDC"}}]}`,
			poolJSON("p-small", "1000"), poolJSON("p-big", "900000"), poolJSON("p-mid", "50000"))
	})
	mux.HandleFunc("GET /networks/eth/dexes/sushiswap/pools", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, headers
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchSnapshot(t *testing.T) {
	srv, headers := newTestServer(t)
	shared := &countingLimiter{}
	c := New(Config{BaseURL: srv.URL, APIKey: "k", Network: "eth", TopPools: 2, MaxConcurrent: 2}, shared, testLogger())

	snap, err := c.FetchSnapshot(context.Background(), []string{"uniswap_v3", "sushiswap", "curve"})
	require.NoError(t, err)

	assert.Equal(t, []string{"sushiswap", "uniswap_v3"}, snap.VenueIDs())
	uni := snap["uniswap_v3"]
	require.Len(t, uni.Data, 2)
	assert.Equal(t, "p-big", uni.Data[0].ID)
	assert.Equal(t, "p-mid", uni.Data[1].ID)
	assert.Len(t, uni.Included, 2)
	assert.Empty(t, snap["sushiswap"].Data)

	assert.EqualValues(t, 3, shared.waits.Load())
	accept, _ := headers.Load("accept")
	assert.Equal(t, "application/json;version=20230302", accept)
	key, _ := headers.Load("key")
	assert.Equal(t, "k", key)
	include, _ := headers.Load("include")
	assert.Equal(t, "base_token,quote_token,dex", include)
	sortParam, _ := headers.Load("sort")
	assert.Equal(t, "h24_volume_usd_desc", sortParam)

	dir := snap.TokenDirectory()
	assert.Equal(t, "WETH", dir["eth_0xa"].Attributes.Symbol)
}

func TestListDexes(t *testing.T) {
	srv, _ := newTestServer(t)
	c := New(Config{BaseURL: srv.URL, Network: "eth"}, nil, testLogger())

	ids, err := c.ListDexes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"uniswap_v3", "sushiswap"}, ids)
}

func TestRateLimitedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Network: "eth"}, nil, testLogger())
	_, err := c.FetchPools(context.Background(), "curve")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestSortByReserve(t *testing.T) {
	pools := []domain.PoolRecord{
		{ID: "nil"},
		{ID: "bad", Attributes: &domain.PoolAttributes{ReserveInUSD: "x"}},
		{ID: "low", Attributes: &domain.PoolAttributes{ReserveInUSD: "5"}},
		{ID: "high", Attributes: &domain.PoolAttributes{ReserveInUSD: "500.5"}},
	}
	SortByReserve(pools)
	assert.Equal(t, "high", pools[0].ID)
	assert.Equal(t, "low", pools[1].ID)
}

func TestRequestDelay(t *testing.T) {
	srv, _ := newTestServer(t)
	c := New(Config{BaseURL: srv.URL, Network: "eth", RequestDelay: 40 * time.Millisecond}, nil, testLogger())

	start := time.Now()
	_, err := c.ListDexes(context.Background())
	require.NoError(t, err)
	_, err = c.ListDexes(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
