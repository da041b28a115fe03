// Package adminapi is the admin REST surface from spec §6: runtime mode
// control, counters, and cassette listing/deletion. It is grounded on
// cdpnetool's pkg/api.Service (a small interface describing the runtime
// operations a caller can perform against the running engine), realized
// here as a concrete chi router instead of a Wails-bound service, since
// this repo has no desktop client.
package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vcrproxy/internal/cassette"
	"vcrproxy/internal/config"
	"vcrproxy/internal/modeengine"
	"vcrproxy/internal/statsdb"
)

// Engine is the subset of proxy state the admin API manages.
type Engine struct {
	Mode      *modeengine.Engine
	Cassettes *cassette.Store
	// StatsDB, when set, backs cassette listing with the SQLite index
	// instead of a filesystem scan, and is kept in sync on deletion.
	StatsDB *statsdb.DB
}

// NewRouter builds the admin HTTP API described in spec §6's table.
func NewRouter(e *Engine) http.Handler {
	r := chi.NewRouter()

	r.Get("/api/mode", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"mode": string(e.Mode.Mode())})
	})

	r.Put("/api/mode", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		m := config.Mode(body.Mode)
		if err := e.Mode.SetMode(m); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid mode"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"mode": string(m)})
	})

	r.Get("/api/stats", func(w http.ResponseWriter, req *http.Request) {
		s := e.Mode.Snapshot()
		writeJSON(w, http.StatusOK, map[string]int64{
			"total":    s.Total,
			"hits":     s.Hits,
			"misses":   s.Misses,
			"recorded": s.Recorded,
			"errors":   s.Errors,
		})
	})

	r.Get("/api/cassettes", func(w http.ResponseWriter, req *http.Request) {
		e.listCassettes(w, req, "")
	})

	r.Get("/api/cassettes/{domain}", func(w http.ResponseWriter, req *http.Request) {
		e.listCassettes(w, req, chi.URLParam(req, "domain"))
	})

	r.Delete("/api/cassettes", func(w http.ResponseWriter, req *http.Request) {
		n, err := e.Cassettes.DeleteAll()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if e.StatsDB != nil {
			if idxErr := e.StatsDB.RemoveAll(req.Context()); idxErr != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": idxErr.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
	})

	r.Delete("/api/cassettes/{domain}", func(w http.ResponseWriter, req *http.Request) {
		domain := chi.URLParam(req, "domain")
		n, err := e.Cassettes.DeleteDomain(domain)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if e.StatsDB != nil {
			if idxErr := e.StatsDB.RemoveDomain(req.Context(), domain); idxErr != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": idxErr.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
	})

	r.Delete("/api/cassettes/{domain}/{id}", func(w http.ResponseWriter, req *http.Request) {
		domain := chi.URLParam(req, "domain")
		id := chi.URLParam(req, "id")
		deleted, err := e.Cassettes.Delete(domain, id)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if deleted && e.StatsDB != nil {
			if idxErr := e.StatsDB.RemoveCassette(req.Context(), domain, id); idxErr != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": idxErr.Error()})
				return
			}
		}
		n := 0
		if deleted {
			n = 1
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
	})

	return r
}

type cassetteInfo struct {
	Domain string `json:"domain"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

// listCassettes serves from the SQLite index when available, so listing
// scales past a directory scan; it falls back to the filesystem store
// when StatsDB isn't configured.
func (e *Engine) listCassettes(w http.ResponseWriter, req *http.Request, domain string) {
	if e.StatsDB != nil {
		rows, err := e.StatsDB.ListCassettes(req.Context(), domain)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		out := make([]cassetteInfo, 0, len(rows))
		for _, row := range rows {
			out = append(out, cassetteInfo{Domain: row.Domain, ID: row.CassetteID, Method: row.Method, Path: row.Path})
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	ids, err := e.Cassettes.List(domain)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	out := make([]cassetteInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, cassetteInfo{Domain: id.Domain, ID: id.ID, Method: id.Method, Path: id.Path})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
