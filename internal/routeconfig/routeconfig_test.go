package routeconfig

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vcrproxy/internal/normalize"
)

func TestEnsureDefault_WritesOnFirstSightingAndIsLookupable(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)

	req := normalize.Raw{
		Method:      "POST",
		Path:        "/widgets",
		Query:       url.Values{"q": {"1"}},
		Headers:     map[string][]string{"Accept": {"application/json"}},
		Body:        []byte(`{"name":"x","request_id":"abc"}`),
		ContentType: "application/json",
	}
	require.NoError(t, s.EnsureDefault("example.com", req))

	cfg, found, err := s.Lookup("example.com", "POST", "/widgets")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"accept"}, cfg.Matched.Headers)
	assert.Equal(t, []string{"q"}, cfg.Matched.QueryParams)
	assert.Equal(t, []string{"name", "request_id"}, cfg.Matched.BodyFields)
	assert.Empty(t, cfg.Ignore.Headers)
}

func TestEnsureDefault_UnionsObservationsWithoutTouchingIgnore(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)

	first := normalize.Raw{
		Method:      "POST",
		Path:        "/widgets",
		Headers:     map[string][]string{"Accept": {"application/json"}},
		Body:        []byte(`{"name":"x"}`),
		ContentType: "application/json",
	}
	require.NoError(t, s.EnsureDefault("example.com", first))

	cfg, found, err := s.Lookup("example.com", "POST", "/widgets")
	require.NoError(t, err)
	require.True(t, found)
	cfg.Ignore.Headers = []string{"x-request-id"}
	require.NoError(t, s.write(s.filePath("example.com", "POST", "/widgets"), "example.com", "POST", "/widgets", cfg))

	second := normalize.Raw{
		Method:      "POST",
		Path:        "/widgets",
		Headers:     map[string][]string{"Accept": {"application/json"}, "X-Extra": {"v"}},
		Body:        []byte(`{"name":"x","extra":"y"}`),
		ContentType: "application/json",
	}
	require.NoError(t, s.EnsureDefault("example.com", second))

	updated, found, err := s.Lookup("example.com", "POST", "/widgets")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"accept", "x-extra"}, updated.Matched.Headers)
	assert.Equal(t, []string{"extra", "name"}, updated.Matched.BodyFields)
	assert.Equal(t, []string{"x-request-id"}, updated.Ignore.Headers)
}

func TestLookup_MissingReturnsNotFound(t *testing.T) {
	s := New(t.TempDir(), nil)
	cfg, found, err := s.Lookup("example.com", "GET", "/nope")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, cfg)
}

func TestPolicy_NilConfigIsZeroValue(t *testing.T) {
	var cfg *Config
	assert.Equal(t, normalize.Policy{}, cfg.Policy())
}

func TestPathSlug(t *testing.T) {
	assert.Equal(t, "root", pathSlug("/"))
	assert.Equal(t, "widgets", pathSlug("/widgets"))
	assert.Equal(t, "widgets_123", pathSlug("/widgets/123"))
}
