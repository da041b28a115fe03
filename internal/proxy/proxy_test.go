package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vcrproxy/internal/cassette"
	"vcrproxy/internal/config"
	"vcrproxy/internal/modeengine"
	"vcrproxy/internal/routeconfig"
)

func newTestHandler(t *testing.T, mode config.Mode, upstream string) (*Handler, *modeengine.Engine) {
	t.Helper()
	dir := t.TempDir()
	eng := modeengine.New(mode)
	h, err := New(Config{
		Targets:      map[string]string{"/": upstream},
		ProxyTimeout: 5 * time.Second,
		MaxBodySize:  1 << 20,
		Mode:         eng,
		Cassettes:    cassette.New(dir, nil),
		Routes:       routeconfig.New(dir, nil),
		HTTPClient:   http.DefaultClient,
	})
	require.NoError(t, err)
	return h, eng
}

func TestSpyMode_ColdThenWarm(t *testing.T) {
	var upstreamHits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	h, eng := newTestHandler(t, config.ModeSpy, upstream.URL)

	req1 := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, req1)
	assert.Equal(t, http.StatusOK, rec1.Code)
	assert.Equal(t, 1, upstreamHits)
	assert.EqualValues(t, 1, eng.Snapshot().Misses)
	assert.EqualValues(t, 1, eng.Snapshot().Recorded)

	req2 := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, 1, upstreamHits, "second request should be served from the cassette, not upstream")
	assert.EqualValues(t, 1, eng.Snapshot().Hits)
	assert.Equal(t, rec1.Body.String(), rec2.Body.String())
}

func TestReplayMode_MissReturns404(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("replay mode must never hit upstream")
	}))
	defer upstream.Close()

	h, eng := newTestHandler(t, config.ModeReplay, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), string(KindCassetteMiss))
	assert.EqualValues(t, 1, eng.Snapshot().Misses)
}

func TestRecordMode_AlwaysForwards(t *testing.T) {
	var upstreamHits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hit " + string(rune('0'+upstreamHits))))
	}))
	defer upstream.Close()

	h, _ := newTestHandler(t, config.ModeRecord, upstream.URL)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/widgets", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 2, upstreamHits)
}

func TestModeSwitch_AtRuntimeAffectsSubsequentRequests(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("recorded"))
	}))
	defer upstream.Close()

	h, eng := newTestHandler(t, config.ModeRecord, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, eng.SetMode(config.ModeReplay))

	req2 := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, "recorded", rec2.Body.String())
}

func TestServeHTTP_NoTargetConfigured(t *testing.T) {
	eng := modeengine.New(config.ModeSpy)
	dir := t.TempDir()
	h, err := New(Config{
		Targets:      map[string]string{"/api": "http://example.invalid"},
		ProxyTimeout: time.Second,
		MaxBodySize:  1024,
		Mode:         eng,
		Cassettes:    cassette.New(dir, nil),
		Routes:       routeconfig.New(dir, nil),
		HTTPClient:   http.DefaultClient,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/unmatched", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.EqualValues(t, 1, eng.Snapshot().Errors)
}

func TestBodyTooLarge_DoesNotIncrementErrors(t *testing.T) {
	eng := modeengine.New(config.ModeSpy)
	dir := t.TempDir()
	h, err := New(Config{
		Targets:      map[string]string{"/": "http://example.invalid"},
		ProxyTimeout: time.Second,
		MaxBodySize:  4,
		Mode:         eng,
		Cassettes:    cassette.New(dir, nil),
		Routes:       routeconfig.New(dir, nil),
		HTTPClient:   http.DefaultClient,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/widgets", strings.NewReader("way too big for the limit"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(KindBodyTooLarge))
	assert.EqualValues(t, 0, eng.Snapshot().Errors, "400s are ordinary client mistakes, not counted as errors")
}

func TestForwardAndRecord_UpstreamTimeoutReturns504(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	dir := t.TempDir()
	eng := modeengine.New(config.ModeRecord)
	h, err := New(Config{
		Targets:      map[string]string{"/": upstream.URL},
		ProxyTimeout: 10 * time.Millisecond,
		MaxBodySize:  1 << 20,
		Mode:         eng,
		Cassettes:    cassette.New(dir, nil),
		Routes:       routeconfig.New(dir, nil),
		HTTPClient:   http.DefaultClient,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, rec.Body.String(), string(KindUpstreamTimeout))
	assert.EqualValues(t, 1, eng.Snapshot().Errors)
}

func TestForwardAndRecord_UpstreamUnreachableReturns502(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstreamURL := upstream.URL
	upstream.Close() // closed before use: nothing is listening on this address

	dir := t.TempDir()
	eng := modeengine.New(config.ModeRecord)
	h, err := New(Config{
		Targets:      map[string]string{"/": upstreamURL},
		ProxyTimeout: 5 * time.Second,
		MaxBodySize:  1 << 20,
		Mode:         eng,
		Cassettes:    cassette.New(dir, nil),
		Routes:       routeconfig.New(dir, nil),
		HTTPClient:   http.DefaultClient,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), string(KindUpstreamUnavailable))
	assert.EqualValues(t, 1, eng.Snapshot().Errors)
}
