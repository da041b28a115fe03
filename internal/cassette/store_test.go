package cassette

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeFingerprint(prefix string) string {
	return prefix + strings.Repeat("0", 64-len(prefix))
}

func newTestCassette(domain, method, path, fp string) *Cassette {
	return &Cassette{
		Meta: Meta{
			RecordedAt: time.Unix(0, 0).UTC(),
			Target:     "http://upstream" + path,
			Domain:     domain,
			Version:    "1",
		},
		Request: Request{
			Method:      method,
			Path:        path,
			Query:       Header{},
			Headers:     Header{"accept": {"application/json"}},
			Body:        []byte(`{"x":1}`),
			ContentType: "application/json",
		},
		Response: Response{
			StatusCode: 200,
			Headers:    Header{"content-type": {"application/json"}},
			Body:       []byte(`{"ok":true}`),
		},
		Fingerprint: fp,
	}
}

func TestSaveAndLookup_RoundTrips(t *testing.T) {
	s := New(t.TempDir(), nil)
	c := newTestCassette("example.com", "GET", "/widgets", fakeFingerprint("abcdef01"))

	result, path, err := s.Save(c, true)
	require.NoError(t, err)
	assert.Equal(t, Recorded, result)
	assert.NotEmpty(t, path)

	got, found, err := s.Lookup("example.com", c.Fingerprint)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, c.Request.Method, got.Request.Method)
	assert.Equal(t, c.Request.Body, got.Request.Body)
	assert.Equal(t, c.Response.Body, got.Response.Body)
	assert.Equal(t, c.Response.StatusCode, got.Response.StatusCode)
}

func TestLookup_MissReturnsNotFound(t *testing.T) {
	s := New(t.TempDir(), nil)
	got, found, err := s.Lookup("example.com", "deadbeef")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestSave_SkipsWhenOverwriteFalseAndFileExists(t *testing.T) {
	s := New(t.TempDir(), nil)
	fp := fakeFingerprint("11")
	c := newTestCassette("example.com", "GET", "/widgets", fp)

	result, path1, err := s.Save(c, false)
	require.NoError(t, err)
	assert.Equal(t, Recorded, result)

	c2 := newTestCassette("example.com", "GET", "/widgets", fp)
	c2.Response.Body = []byte(`{"changed":true}`)
	result2, path2, err := s.Save(c2, false)
	require.NoError(t, err)
	assert.Equal(t, Skipped, result2)
	assert.Equal(t, path1, path2)

	got, found, err := s.Lookup("example.com", fp)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, c.Response.Body, got.Response.Body)
}

func TestDeleteAndList(t *testing.T) {
	s := New(t.TempDir(), nil)
	fp := fakeFingerprint("22")
	c := newTestCassette("example.com", "POST", "/widgets", fp)
	_, _, err := s.Save(c, true)
	require.NoError(t, err)

	ids, err := s.List("example.com")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	deleted, err := s.Delete("example.com", ids[0].ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	ids, err = s.List("example.com")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPathSlug(t *testing.T) {
	assert.Equal(t, "root", PathSlug(""))
	assert.Equal(t, "_widgets_123", PathSlug("/widgets/123"))
}
