package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vcrproxy/internal/normalize"
)

func TestFingerprint_StableAcrossCalls(t *testing.T) {
	c := normalize.Canonical{
		Method: "GET",
		Path:   "/widgets",
		Query:  []normalize.QueryPair{{Name: "a", Value: "1"}},
		Headers: []normalize.HeaderEntry{
			{Name: "accept", Values: []string{"application/json"}},
		},
	}

	assert.Equal(t, Fingerprint(c), Fingerprint(c))
	assert.Len(t, Fingerprint(c), 64)
}

func TestFingerprint_DiffersOnBody(t *testing.T) {
	base := normalize.Canonical{Method: "POST", Path: "/widgets"}
	a := base
	a.Body = []byte(`{"x":1}`)
	b := base
	b.Body = []byte(`{"x":2}`)

	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprint_DiffersOnMethodOrPath(t *testing.T) {
	a := normalize.Canonical{Method: "GET", Path: "/a"}
	b := normalize.Canonical{Method: "GET", Path: "/b"}
	c := normalize.Canonical{Method: "POST", Path: "/a"}

	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}

func TestSerialize_HeaderAndQueryOrderAlreadySorted(t *testing.T) {
	c := normalize.Canonical{
		Method: "GET",
		Path:   "/x",
		Query: []normalize.QueryPair{
			{Name: "a", Value: "1"},
			{Name: "b", Value: "2"},
		},
		Headers: []normalize.HeaderEntry{
			{Name: "accept", Values: []string{"json"}},
			{Name: "host", Values: []string{"example.com"}},
		},
	}
	want := "GET\n/x\na=1&b=2\naccept: json\nhost: example.com\n\n"
	assert.Equal(t, want, string(Serialize(c)))
}
