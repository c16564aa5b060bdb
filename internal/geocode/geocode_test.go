// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/proceedings-engine/internal/cache"
	"github.com/pdiddy/proceedings-engine/internal/httputil"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

const mitResult = `{"results":[{"formatted":"Massachusetts Institute of Technology, Cambridge, MA, United States",
"confidence":9,"components":{"country":"United States","continent":"North America"},
"geometry":{"lat":42.3594,"lng":-71.0928}}],"status":{"code":200,"message":"OK"}}`

type opencageStub struct {
	*httptest.Server
	hits int32
}

func newOpencageStub(t *testing.T) *opencageStub {
	t.Helper()
	s := &opencageStub{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.hits, 1)
		q := r.URL.Query()
		assert.Equal(t, "test-key", q.Get("key"))
		assert.Equal(t, "en", q.Get("language"))
		assert.Equal(t, "1", q.Get("limit"))
		assert.Equal(t, "1", q.Get("no_annotations"))
		assert.Equal(t, "1", q.Get("no_record"))

		switch q.Get("q") {
		case "MIT, USA", "Paris", "Berlin":
			io.WriteString(w, mitResult)
		case "Atlantis":
			io.WriteString(w, `{"results":[],"status":{"code":200,"message":"OK"}}`)
		case "Broke":
			w.WriteHeader(http.StatusPaymentRequired)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func newClient(t *testing.T, stub *opencageStub, store *cache.Store, quota int, opts ...Option) *Client {
	t.Helper()
	cfg := types.GeocodeConfig{APIKey: "test-key", DailyQuota: quota, Interval: time.Millisecond}
	opts = append([]Option{WithBaseURL(stub.URL), WithHTTPClient(stub.Client())}, opts...)
	c, err := Open(store, cfg, opts...)
	require.NoError(t, err)
	return c
}

func openStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.Open(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestLocate_SharedAffiliationQueriedOnce(t *testing.T) {
	stub := newOpencageStub(t)
	store := openStore(t)
	c := newClient(t, stub, store, 10)
	ctx := context.Background()

	first, err := c.Locate(ctx, "MIT, USA")
	require.NoError(t, err)
	second, err := c.Locate(ctx, "MIT, USA")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.hits))
	assert.Equal(t, first, second)
	assert.Equal(t, types.LocationGeocoder, first.Source)
	assert.Equal(t, "United States", first.Country)
	assert.Equal(t, "North America", first.Continent)
	assert.InDelta(t, 42.3594, first.Lat, 1e-9)
	assert.Equal(t, 9, first.Confidence)
	assert.Equal(t, 1, c.Used())

	require.NoError(t, c.Flush())
	reopened := newClient(t, stub, store, 10)
	_, err = reopened.Locate(ctx, "MIT, USA")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.hits), "memo survives restarts")
}

func TestLocate_MissIsCached(t *testing.T) {
	stub := newOpencageStub(t)
	c := newClient(t, stub, openStore(t), 10)

	loc, err := c.Locate(context.Background(), "Atlantis")
	require.NoError(t, err)
	assert.Equal(t, types.LocationNotFound, loc.Source)
	assert.True(t, loc.Settled())
	assert.False(t, loc.Resolved())

	_, err = c.Locate(context.Background(), "Atlantis")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.hits))
}

func TestLocate_QuotaRespected(t *testing.T) {
	stub := newOpencageStub(t)
	store := openStore(t)
	day := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	clock := func() time.Time { return day }
	c := newClient(t, stub, store, 2, WithClock(clock))
	ctx := context.Background()

	for _, q := range []string{"MIT, USA", "Paris"} {
		_, err := c.Locate(ctx, q)
		require.NoError(t, err)
	}
	loc, err := c.Locate(ctx, "Berlin")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrQuotaExceeded)
	assert.Equal(t, types.LocationUnknown, loc.Source)
	assert.Equal(t, "Berlin", loc.Query)
	assert.Equal(t, int32(2), atomic.LoadInt32(&stub.hits), "never more requests than the quota")

	cached, err := c.Locate(ctx, "Paris")
	require.NoError(t, err, "memoized answers need no quota")
	assert.Equal(t, types.LocationGeocoder, cached.Source)

	require.NoError(t, c.Flush())
	next := newClient(t, stub, store, 2, WithClock(clock))
	_, err = next.Locate(ctx, "Berlin")
	assert.ErrorIs(t, err, types.ErrQuotaExceeded, "usage accumulates across runs")

	tomorrow := newClient(t, stub, store, 2, WithClock(func() time.Time { return day.Add(2 * time.Hour) }))
	loc, err = tomorrow.Locate(ctx, "Berlin")
	require.NoError(t, err)
	assert.Equal(t, types.LocationGeocoder, loc.Source)
	assert.Equal(t, int32(3), atomic.LoadInt32(&stub.hits))
}

func TestLocate_ProviderQuotaRefusal(t *testing.T) {
	stub := newOpencageStub(t)
	c := newClient(t, stub, openStore(t), 100)

	loc, err := c.Locate(context.Background(), "Broke")
	assert.ErrorIs(t, err, types.ErrQuotaExceeded)
	assert.Equal(t, types.LocationUnknown, loc.Source)
	assert.Equal(t, 100, c.Used())

	_, err = c.Locate(context.Background(), "Paris")
	assert.ErrorIs(t, err, types.ErrQuotaExceeded)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.hits))
}

func TestLocate_ServiceErrorNotCached(t *testing.T) {
	orig := httputil.RetryBaseDelay
	httputil.RetryBaseDelay = time.Millisecond
	t.Cleanup(func() { httputil.RetryBaseDelay = orig })

	stub := newOpencageStub(t)
	c := newClient(t, stub, openStore(t), 100)

	loc, err := c.Locate(context.Background(), "Unreachable Lab")
	assert.ErrorIs(t, err, types.ErrServiceError)
	assert.Equal(t, types.LocationUnknown, loc.Source)
	assert.False(t, loc.Settled())

	_, err = c.Locate(context.Background(), "Unreachable Lab")
	assert.ErrorIs(t, err, types.ErrServiceError)
	assert.Equal(t, int32(2), atomic.LoadInt32(&stub.hits), "failures are retried")
}

func TestLocate_NoKeyOrQuery(t *testing.T) {
	stub := newOpencageStub(t)
	store := openStore(t)
	c, err := Open(store, types.GeocodeConfig{}, WithBaseURL(stub.URL))
	require.NoError(t, err)

	loc, err := c.Locate(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, types.LocationNone, loc.Source)

	_, err = c.Locate(context.Background(), "MIT, USA")
	assert.ErrorIs(t, err, types.ErrServiceError)
	assert.Zero(t, atomic.LoadInt32(&stub.hits))
}

func TestLocate_PersistsWithoutFlush(t *testing.T) {
	stub := newOpencageStub(t)
	store := openStore(t)
	day := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	clock := WithClock(func() time.Time { return day })
	c := newClient(t, stub, store, 10, clock)
	ctx := context.Background()

	_, err := c.Locate(ctx, "MIT, USA")
	require.NoError(t, err)
	_, err = c.Locate(ctx, "Nowhere")
	require.ErrorIs(t, err, types.ErrServiceError)

	// No Flush: a run killed here must still see both requests and the answer.
	ledger, err := cache.OpenTable[int](store.StatePath(QuotaTable))
	require.NoError(t, err)
	used, ok := ledger.Get("2026-03-04")
	require.True(t, ok)
	assert.Equal(t, 2, used, "failed requests still spend quota")

	memo, err := cache.OpenTable[types.Location](store.TablePath(MemoTable))
	require.NoError(t, err)
	loc, ok := memo.Get("MIT, USA")
	require.True(t, ok)
	assert.Equal(t, "United States", loc.Country)
	_, ok = memo.Get("Nowhere")
	assert.False(t, ok)

	reopened := newClient(t, stub, store, 10, clock)
	_, err = reopened.Locate(ctx, "MIT, USA")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&stub.hits), "answer reused after a restart")
	assert.Equal(t, 2, reopened.Used())
}

func TestLocate_LedgerWrittenBeforeRequest(t *testing.T) {
	store := openStore(t)
	var onDisk int
	var seen bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ledger, err := cache.OpenTable[int](store.StatePath(QuotaTable))
		if assert.NoError(t, err) {
			onDisk, seen = ledger.Get("2026-03-04")
		}
		io.WriteString(w, mitResult)
	}))
	t.Cleanup(srv.Close)

	cfg := types.GeocodeConfig{APIKey: "test-key", DailyQuota: 5, Interval: time.Millisecond}
	c, err := Open(store, cfg, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()),
		WithClock(func() time.Time { return time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC) }))
	require.NoError(t, err)
	_, err = c.Locate(context.Background(), "MIT, USA")
	require.NoError(t, err)

	assert.True(t, seen, "the ledger is on disk while the request is in flight")
	assert.Equal(t, 1, onDisk)
}
