// Package routeconfig is the filesystem-backed per-route matching-policy
// store. It is grounded on cdpnetool's internal/rules.Engine (a mutable,
// swappable ruleset held behind a small store type) and on the original
// Python implementation's vcr_proxy/route_config.py, generalized to
// YAML-on-disk with mtime-triggered cache invalidation per the spec.
package routeconfig

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"vcrproxy/internal/logger"
	"vcrproxy/internal/normalize"
)

// Route identifies a (method, path-template) pair. The template is derived
// by treating the literal first-seen request path as the template: no
// parameterization is inferred (see spec open question on cardinality).
type Route struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
}

// MatchedFields documents (advisory only) what participates in matching.
type MatchedFields struct {
	Headers    []string `yaml:"headers"`
	BodyFields []string `yaml:"body_fields"`
	QueryParams []string `yaml:"query_params"`
}

// IgnoreFields is authoritative: it subtracts from matching.
type IgnoreFields struct {
	Headers     []string `yaml:"headers"`
	BodyFields  []string `yaml:"body_fields"`
	QueryParams []string `yaml:"query_params"`
}

// Config is one route's matching-policy override, the on-disk YAML shape
// from the spec's data model.
type Config struct {
	Route   Route         `yaml:"route"`
	Matched MatchedFields `yaml:"matched"`
	Ignore  IgnoreFields  `yaml:"ignore"`
}

// Policy projects a Config down to the normalize.Policy the normalizer
// consumes.
func (c *Config) Policy() normalize.Policy {
	if c == nil {
		return normalize.Policy{}
	}
	return normalize.Policy{
		IgnoreHeaders:     c.Ignore.Headers,
		IgnoreBodyFields:  c.Ignore.BodyFields,
		IgnoreQueryParams: c.Ignore.QueryParams,
	}
}

type cacheEntry struct {
	cfg   *Config
	mtime time.Time
}

// Store reads and caches route configs from
// <cassettesDir>/_routes/<domain>/<METHOD>_<slug>.yaml. It is safe for
// concurrent use.
type Store struct {
	baseDir string
	log     logger.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New returns a Store rooted at cassettesDir/_routes.
func New(cassettesDir string, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		baseDir: filepath.Join(cassettesDir, "_routes"),
		log:     log,
		cache:   make(map[string]cacheEntry),
	}
}

func pathSlug(path string) string {
	trimmed := strings.Trim(path, "/")
	slug := strings.ReplaceAll(trimmed, "/", "_")
	var b strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '.' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		return "root"
	}
	return out
}

func (s *Store) filePath(domain, method, path string) string {
	filename := fmt.Sprintf("%s_%s.yaml", strings.ToUpper(method), pathSlug(path))
	return filepath.Join(s.baseDir, domain, filename)
}

func cacheKey(domain, method, path string) string {
	return domain + "\x00" + strings.ToUpper(method) + "\x00" + path
}

// Lookup returns the route config for (domain, method, path), reloading
// from disk if the file's mtime has advanced since it was last cached. It
// returns (nil, false) if no config file exists.
func (s *Store) Lookup(domain, method, path string) (*Config, bool, error) {
	fp := s.filePath(domain, method, path)
	info, err := os.Stat(fp)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("vcrproxy: stat route config: %w", err)
	}

	key := cacheKey(domain, method, path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.cache[key]; ok && entry.mtime.Equal(info.ModTime()) {
		return entry.cfg, true, nil
	}

	raw, err := os.ReadFile(fp)
	if err != nil {
		return nil, false, fmt.Errorf("vcrproxy: read route config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, false, fmt.Errorf("vcrproxy: parse route config %s: %w", fp, err)
	}
	s.cache[key] = cacheEntry{cfg: &cfg, mtime: info.ModTime()}
	return &cfg, true, nil
}

// EnsureDefault writes a default config (empty ignore lists, matched
// fields populated from the observed request) for (domain, method, path)
// if none exists yet, and otherwise folds newly observed matched-field
// names into the existing file without touching its ignore lists (which
// are human-curated). It does not consult the mode itself; the proxy
// handler calls it only in record and spy mode.
func (s *Store) EnsureDefault(domain string, req normalize.Raw) error {
	fp := s.filePath(domain, req.Method, req.Path)

	observedHeaders := sortedKeysLower(req.Headers)
	observedQuery := sortedKeys(req.Query)
	observedBody := bodyFieldNames(req.Body, req.ContentType)

	existing, found, err := s.Lookup(domain, req.Method, req.Path)
	if err != nil {
		return err
	}

	if found {
		merged := unionSorted(existing.Matched.Headers, observedHeaders)
		mergedQuery := unionSorted(existing.Matched.QueryParams, observedQuery)
		mergedBody := unionSorted(existing.Matched.BodyFields, observedBody)
		if equalSlices(merged, existing.Matched.Headers) &&
			equalSlices(mergedQuery, existing.Matched.QueryParams) &&
			equalSlices(mergedBody, existing.Matched.BodyFields) {
			return nil
		}
		existing.Matched.Headers = merged
		existing.Matched.QueryParams = mergedQuery
		existing.Matched.BodyFields = mergedBody
		return s.write(fp, domain, req.Method, req.Path, existing)
	}

	cfg := &Config{
		Route: Route{Method: strings.ToUpper(req.Method), Path: req.Path},
		Matched: MatchedFields{
			Headers:     observedHeaders,
			QueryParams: observedQuery,
			BodyFields:  observedBody,
		},
		Ignore: IgnoreFields{},
	}
	return s.write(fp, domain, req.Method, req.Path, cfg)
}

func (s *Store) write(fp, domain, method, path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(fp), 0o755); err != nil {
		return fmt.Errorf("vcrproxy: create route config dir: %w", err)
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("vcrproxy: marshal route config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fp), ".routeconfig-*.tmp")
	if err != nil {
		return fmt.Errorf("vcrproxy: create temp route config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("vcrproxy: write temp route config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("vcrproxy: sync temp route config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("vcrproxy: close temp route config: %w", err)
	}
	if err := os.Rename(tmpName, fp); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("vcrproxy: rename route config: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, cacheKey(domain, method, path))
	s.mu.Unlock()

	s.log.Debug("wrote route config", "domain", domain, "method", method, "path", path)
	return nil
}

func sortedKeysLower(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, strings.ToLower(k))
	}
	sort.Strings(out)
	return out
}

func sortedKeys(v url.Values) []string {
	out := make([]string, 0, len(v))
	for k := range v {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func bodyFieldNames(body []byte, contentType string) []string {
	if len(body) == 0 {
		return nil
	}
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "application/json"):
		return topLevelJSONKeys(body)
	case strings.Contains(ct, "application/x-www-form-urlencoded"):
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil
		}
		return sortedKeys(values)
	default:
		return nil
	}
}

func topLevelJSONKeys(body []byte) []string {
	var v map[string]json.RawMessage
	if err := json.Unmarshal(body, &v); err != nil {
		return nil
	}
	out := make([]string, 0, len(v))
	for k := range v {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func unionSorted(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		set[v] = true
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
