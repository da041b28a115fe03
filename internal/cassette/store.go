package cassette

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"vcrproxy/internal/logger"
)

// SaveResult reports whether a save actually wrote a new file.
type SaveResult string

const (
	Recorded SaveResult = "recorded"
	Skipped  SaveResult = "skipped"
)

var slugDisallowed = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)

// PathSlug turns a URL path into the filename-safe slug used in cassette
// filenames: "/" replaced with "_", anything outside [A-Za-z0-9_.-]
// stripped.
func PathSlug(path string) string {
	slug := strings.ReplaceAll(path, "/", "_")
	slug = slugDisallowed.ReplaceAllString(slug, "")
	if slug == "" {
		slug = "root"
	}
	return slug
}

// Filename is "<METHOD>_<path-slug>_<fingerprint8>.json"; the truncated
// fingerprint is for human browsing only, lookup is always by the full
// fingerprint stored inside the file.
func Filename(method, path, fingerprint string) string {
	fp8 := fingerprint
	if len(fp8) > 8 {
		fp8 = fp8[:8]
	}
	return fmt.Sprintf("%s_%s_%s.json", strings.ToUpper(method), PathSlug(path), fp8)
}

// Store is the filesystem-backed, content-addressed cassette store.
type Store struct {
	dir string
	log logger.Logger
}

// New returns a Store rooted at dir.
func New(dir string, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{dir: dir, log: log}
}

func (s *Store) domainDir(domain string) string {
	return filepath.Join(s.dir, domain)
}

// Lookup finds the cassette matching fingerprint under domain. Multiple
// files can share the 8-char filename prefix; Lookup disambiguates by
// comparing the full fingerprint recorded inside each candidate file.
func (s *Store) Lookup(domain, fingerprint string) (*Cassette, bool, error) {
	dir := s.domainDir(domain)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("vcrproxy: list cassette dir %s: %w", dir, err)
	}

	fp8 := fingerprint
	if len(fp8) > 8 {
		fp8 = fp8[:8]
	}
	suffix := "_" + fp8 + ".json"

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		c, err := s.readFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, false, err
		}
		if c.Fingerprint == fingerprint {
			return c, true, nil
		}
	}
	return nil, false, nil
}

// Save writes cassette to disk via write-temp-then-fsync-then-rename. If
// the final name already exists and overwrite is false, Save is a no-op
// and returns Skipped.
func (s *Store) Save(c *Cassette, overwrite bool) (SaveResult, string, error) {
	domain := c.Meta.Domain
	dir := s.domainDir(domain)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("vcrproxy: create cassette dir: %w", err)
	}

	filename := Filename(c.Request.Method, c.Request.Path, c.Fingerprint)
	finalPath := filepath.Join(dir, filename)

	if !overwrite {
		if _, err := os.Stat(finalPath); err == nil {
			return Skipped, finalPath, nil
		} else if !os.IsNotExist(err) {
			return "", "", fmt.Errorf("vcrproxy: stat cassette: %w", err)
		}
	}

	c.Request.prepare()
	c.Response.prepare()

	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("vcrproxy: marshal cassette: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cassette-*.tmp")
	if err != nil {
		return "", "", fmt.Errorf("vcrproxy: create temp cassette: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", "", fmt.Errorf("vcrproxy: write temp cassette: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", "", fmt.Errorf("vcrproxy: sync temp cassette: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", "", fmt.Errorf("vcrproxy: close temp cassette: %w", err)
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		os.Remove(tmpName)
		return "", "", fmt.Errorf("vcrproxy: rename cassette: %w", err)
	}

	s.log.Info("recorded cassette", "domain", domain, "path", finalPath, "fingerprint", c.Fingerprint)
	return Recorded, finalPath, nil
}

func (s *Store) readFile(path string) (*Cassette, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vcrproxy: read cassette %s: %w", path, err)
	}
	var c Cassette
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("vcrproxy: parse cassette %s: %w", path, err)
	}
	if err := c.Request.hydrate(); err != nil {
		return nil, fmt.Errorf("vcrproxy: decode cassette request body %s: %w", path, err)
	}
	if err := c.Response.hydrate(); err != nil {
		return nil, fmt.Errorf("vcrproxy: decode cassette response body %s: %w", path, err)
	}
	return &c, nil
}

// ID identifies one cassette file for admin listing/deletion: its domain
// and filename stem.
type ID struct {
	Domain string
	ID     string
	Method string
	Path   string
}

// List enumerates cassette ids. If domain is "", it lists across all
// domains.
func (s *Store) List(domain string) ([]ID, error) {
	if domain != "" {
		return s.listDomain(domain)
	}

	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vcrproxy: list cassette root: %w", err)
	}
	var all []ID
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "_routes" {
			continue
		}
		ids, err := s.listDomain(e.Name())
		if err != nil {
			return nil, err
		}
		all = append(all, ids...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Domain != all[j].Domain {
			return all[i].Domain < all[j].Domain
		}
		return all[i].ID < all[j].ID
	})
	return all, nil
}

func (s *Store) listDomain(domain string) ([]ID, error) {
	dir := s.domainDir(domain)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vcrproxy: list cassette domain %s: %w", domain, err)
	}
	var ids []ID
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".json")
		method, path := splitStem(stem)
		ids = append(ids, ID{Domain: domain, ID: stem, Method: method, Path: path})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].ID < ids[j].ID })
	return ids, nil
}

// splitStem best-effort recovers method and slugged path from a cassette
// filename stem "<METHOD>_<slug>_<fp8>" for admin listing display.
func splitStem(stem string) (method, path string) {
	parts := strings.SplitN(stem, "_", 2)
	if len(parts) != 2 {
		return stem, ""
	}
	method = parts[0]
	rest := parts[1]
	if idx := strings.LastIndex(rest, "_"); idx >= 0 {
		return method, rest[:idx]
	}
	return method, rest
}

// Delete removes one cassette by domain and id (filename stem).
func (s *Store) Delete(domain, id string) (bool, error) {
	fp := filepath.Join(s.domainDir(domain), id+".json")
	if _, err := os.Stat(fp); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("vcrproxy: stat cassette: %w", err)
	}
	if err := os.Remove(fp); err != nil {
		return false, fmt.Errorf("vcrproxy: delete cassette: %w", err)
	}
	return true, nil
}

// DeleteDomain removes all cassettes for domain and returns the count
// deleted.
func (s *Store) DeleteDomain(domain string) (int, error) {
	ids, err := s.listDomain(domain)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if _, err := s.Delete(domain, id.ID); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// DeleteAll removes every cassette across every domain.
func (s *Store) DeleteAll() (int, error) {
	ids, err := s.List("")
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if _, err := s.Delete(id.Domain, id.ID); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}
