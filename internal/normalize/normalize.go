// Package normalize canonicalizes an inbound HTTP request into the stable
// intermediate form the fingerprinter hashes. It is grounded on cdpnetool's
// internal/rules matching engine (json_pointer condition handling) and on
// the original Python implementation's vcr_proxy/matching.py, generalized
// to the full method/path/query/header/body normalization the spec
// requires and to JSONPath-lite ignore expressions via gjson/sjson.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrInvalidRequest is returned for a malformed request line (unparseable
// method or path).
var ErrInvalidRequest = errors.New("vcrproxy: invalid request")

// ErrBodyTooLarge is returned when the body exceeds the configured limit.
var ErrBodyTooLarge = errors.New("vcrproxy: body too large")

// BodyKind tags how a body was interpreted for matching purposes.
type BodyKind string

const (
	BodyJSON   BodyKind = "json"
	BodyForm   BodyKind = "form"
	BodyBinary BodyKind = "binary"
)

// HeaderEntry is one normalized header: a lowercase name and its
// transmission-order list of values.
type HeaderEntry struct {
	Name   string
	Values []string
}

// QueryPair is one normalized query parameter.
type QueryPair struct {
	Name  string
	Value string
}

// Raw is the as-received request the normalizer canonicalizes. Query and
// Headers preserve transmission order; the normalizer is responsible for
// sorting.
type Raw struct {
	Method      string
	Path        string
	Query       url.Values
	Headers     map[string][]string
	Body        []byte
	ContentType string
}

// Policy carries the effective matching overrides for one route: which
// headers, body fields, and query params to drop before fingerprinting.
// Ignore lists are authoritative; Matched lists (if any) are advisory only
// and never consulted here.
type Policy struct {
	IgnoreHeaders     []string
	IgnoreBodyFields  []string
	IgnoreQueryParams []string
}

// Canonical is the normalized intermediate representation C.
type Canonical struct {
	Method   string
	Path     string
	Query    []QueryPair
	Headers  []HeaderEntry
	Body     []byte
	BodyKind BodyKind
}

// Normalize canonicalizes r under the always-ignored header set and the
// route policy. The same (r, alwaysIgnoreHeaders, policy) always yields a
// byte-identical Canonical across processes and hosts.
func Normalize(r Raw, alwaysIgnoreHeaders []string, policy Policy) (Canonical, error) {
	method, err := normalizeMethod(r.Method)
	if err != nil {
		return Canonical{}, err
	}
	path, err := normalizePath(r.Path)
	if err != nil {
		return Canonical{}, err
	}

	query := normalizeQuery(r.Query, policy.IgnoreQueryParams)
	headers := normalizeHeaders(r.Headers, alwaysIgnoreHeaders, policy.IgnoreHeaders)
	body, kind := normalizeBody(r.Body, r.ContentType, policy.IgnoreBodyFields)

	return Canonical{
		Method:   method,
		Path:     path,
		Query:    query,
		Headers:  headers,
		Body:     body,
		BodyKind: kind,
	}, nil
}

func normalizeMethod(method string) (string, error) {
	if method == "" {
		return "", ErrInvalidRequest
	}
	for i := 0; i < len(method); i++ {
		c := method[i]
		if c < 0x20 || c == 0x7f {
			return "", ErrInvalidRequest
		}
	}
	return strings.ToUpper(method), nil
}

// normalizePath percent-decodes once, lowercases, collapses duplicate
// slashes, and strips a trailing slash unless the whole path is "/". %2F is
// left as a literal and is never turned into a path separator.
func normalizePath(path string) (string, error) {
	if path == "" {
		return "", ErrInvalidRequest
	}
	decoded, err := decodePathLiteral(path)
	if err != nil {
		return "", ErrInvalidRequest
	}
	decoded = strings.ToLower(decoded)

	var b strings.Builder
	lastSlash := false
	for i := 0; i < len(decoded); i++ {
		c := decoded[i]
		if c == '/' {
			if lastSlash {
				continue
			}
			lastSlash = true
		} else {
			lastSlash = false
		}
		b.WriteByte(c)
	}
	collapsed := b.String()
	if collapsed != "/" {
		collapsed = strings.TrimSuffix(collapsed, "/")
	}
	if collapsed == "" {
		collapsed = "/"
	}
	return collapsed, nil
}

// decodePathLiteral percent-decodes a path once without treating %2F as a
// "/" separator, unlike url.PathUnescape which folds it in.
func decodePathLiteral(path string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(path) {
			return "", ErrInvalidRequest
		}
		hi, ok1 := hexVal(path[i+1])
		lo, ok2 := hexVal(path[i+2])
		if !ok1 || !ok2 {
			return "", ErrInvalidRequest
		}
		decodedByte := byte(hi<<4 | lo)
		if decodedByte == '/' {
			// Preserve the literal escape: %2F must never become a path
			// separator.
			b.WriteString(path[i : i+3])
		} else {
			b.WriteByte(decodedByte)
		}
		i += 2
	}
	return b.String(), nil
}

func hexVal(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}

func normalizeQuery(values url.Values, ignore []string) []QueryPair {
	ignored := toSet(ignore)
	pairs := make([]QueryPair, 0, len(values))
	for name, vs := range values {
		if ignored[strings.ToLower(name)] {
			continue
		}
		for _, v := range vs {
			pairs = append(pairs, QueryPair{Name: name, Value: v})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Name != pairs[j].Name {
			return pairs[i].Name < pairs[j].Name
		}
		return pairs[i].Value < pairs[j].Value
	})
	return pairs
}

func normalizeHeaders(headers map[string][]string, alwaysIgnore, routeIgnore []string) []HeaderEntry {
	ignored := toSet(alwaysIgnore)
	for _, h := range routeIgnore {
		ignored[strings.ToLower(h)] = true
	}

	coalesced := map[string][]string{}
	for name, vs := range headers {
		lower := strings.ToLower(name)
		if ignored[lower] {
			continue
		}
		coalesced[lower] = append(coalesced[lower], vs...)
	}

	names := make([]string, 0, len(coalesced))
	for name := range coalesced {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]HeaderEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, HeaderEntry{Name: name, Values: coalesced[name]})
	}
	return entries
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[strings.ToLower(item)] = true
	}
	return set
}

func normalizeBody(body []byte, contentType string, ignoreBodyFields []string) ([]byte, BodyKind) {
	if len(body) == 0 {
		return nil, BodyBinary
	}
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "application/json") || strings.HasSuffix(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]), "+json"):
		canon, ok := normalizeJSONBody(body, ignoreBodyFields)
		if ok {
			return canon, BodyJSON
		}
		// Malformed JSON declared as application/json is not an error:
		// fall back to raw-bytes matching.
		return body, BodyBinary
	case strings.Contains(ct, "application/x-www-form-urlencoded"):
		return normalizeFormBody(body, ignoreBodyFields), BodyForm
	default:
		return body, BodyBinary
	}
}

func normalizeJSONBody(body []byte, ignoreFields []string) ([]byte, bool) {
	working := body
	for _, expr := range ignoreFields {
		path, ok := translateJSONPathLite(expr)
		if !ok {
			continue
		}
		if !gjson.GetBytes(working, path).Exists() {
			continue
		}
		if deleted, err := sjson.DeleteBytes(working, path); err == nil {
			working = deleted
		}
	}

	dec := json.NewDecoder(bytes.NewReader(working))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	// A single JSON document must not have trailing non-whitespace.
	if dec.More() {
		return nil, false
	}

	canon, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return canon, true
}

func normalizeFormBody(body []byte, ignoreNames []string) []byte {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return body
	}
	// Drop ignored names and sort pairs exactly like the query string: by
	// (name, value).
	pairs := normalizeQuery(values, ignoreNames)
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, url.QueryEscape(p.Name)+"="+url.QueryEscape(p.Value))
	}
	return []byte(strings.Join(parts, "&"))
}
