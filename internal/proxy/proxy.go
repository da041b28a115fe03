// Package proxy is the request handler (spec §4.7): it orchestrates
// Normalizer → Fingerprinter → route-config lookup → cassette lookup →
// (forward+record | serve | miss) according to the current mode. It is
// grounded on cdpnetool's internal/handler.Handler (a constructor-injected
// Config struct, a single orchestration entrypoint, structured logging at
// each decision point), generalized from CDP-intercepted events to plain
// net/http requests.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"vcrproxy/internal/cassette"
	"vcrproxy/internal/config"
	"vcrproxy/internal/fingerprint"
	"vcrproxy/internal/hooks"
	"vcrproxy/internal/logger"
	"vcrproxy/internal/modeengine"
	"vcrproxy/internal/normalize"
	"vcrproxy/internal/routeconfig"
	"vcrproxy/internal/singleflight"
	"vcrproxy/internal/statsdb"
)

// hopByHopHeaders are stripped from the inbound request before it is
// forwarded upstream. Response headers are captured and replayed as the
// upstream sent them; this list is not applied to them.
var hopByHopHeaders = []string{
	"connection", "keep-alive", "proxy-authenticate", "proxy-authorization",
	"te", "trailers", "transfer-encoding", "upgrade",
}

// Config wires a Handler's collaborators.
type Config struct {
	Targets             map[string]string
	AlwaysIgnoreHeaders []string
	ProxyTimeout        time.Duration
	MaxBodySize         int64
	CassetteOverwrite   bool

	// Forward, when true, makes the handler resolve its upstream
	// dynamically per request (from the request's Host and scheme) instead
	// of from the static Targets path-prefix table — the forward/
	// intercepting proxy deployment shape from spec §1. Targets is
	// ignored when Forward is true.
	Forward bool

	Mode      *modeengine.Engine
	Cassettes *cassette.Store
	Routes    *routeconfig.Store
	StatsDB   *statsdb.DB
	Hooks     *hooks.Runner

	HTTPClient *http.Client
	Logger     logger.Logger
}

// Handler is the request handler described in spec §4.7.
type Handler struct {
	targets             []target
	forward             bool
	alwaysIgnoreHeaders []string
	proxyTimeout        time.Duration
	maxBodySize         int64
	overwrite           bool

	mode      *modeengine.Engine
	cassettes *cassette.Store
	routes    *routeconfig.Store
	statsdb   *statsdb.DB
	hooks     *hooks.Runner

	client *http.Client
	log    logger.Logger

	sf singleflight.Group
}

// New builds a Handler from cfg.
func New(cfg Config) (*Handler, error) {
	ts, err := resolveTargets(cfg.Targets)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Handler{
		targets:             ts,
		forward:             cfg.Forward,
		alwaysIgnoreHeaders: cfg.AlwaysIgnoreHeaders,
		proxyTimeout:        cfg.ProxyTimeout,
		maxBodySize:         cfg.MaxBodySize,
		overwrite:           cfg.CassetteOverwrite,
		mode:                cfg.Mode,
		cassettes:           cfg.Cassettes,
		routes:              cfg.Routes,
		statsdb:             cfg.StatsDB,
		hooks:               cfg.Hooks,
		client:              client,
		log:                 log,
	}, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mode.IncTotal()

	tgt, remainder, ok := h.resolveTarget(r)
	if !ok {
		h.mode.IncError()
		h.writeError(w, http.StatusBadGateway, KindUpstreamUnavailable, "no target configured for path "+r.URL.Path)
		return
	}
	dom := domain(tgt.base)

	body, err := readLimitedBody(r.Body, h.maxBodySize)
	if err != nil {
		if errors.Is(err, normalize.ErrBodyTooLarge) {
			h.writeError(w, http.StatusBadRequest, KindBodyTooLarge, err.Error())
		} else {
			h.writeError(w, http.StatusBadRequest, KindInvalidRequest, err.Error())
		}
		return
	}

	raw := normalize.Raw{
		Method:      r.Method,
		Path:        r.URL.Path,
		Query:       r.URL.Query(),
		Headers:     map[string][]string(r.Header),
		Body:        body,
		ContentType: r.Header.Get("Content-Type"),
	}

	mode := h.mode.Mode()

	if mode == config.ModeRecord || mode == config.ModeSpy {
		if err := h.routes.EnsureDefault(dom, raw); err != nil {
			h.log.Warn("route config auto-write failed", "domain", dom, "error", err)
		}
	}

	routeCfg, _, err := h.routes.Lookup(dom, raw.Method, raw.Path)
	if err != nil {
		h.log.Warn("route config lookup failed", "domain", dom, "error", err)
	}

	canonical, err := normalize.Normalize(raw, h.alwaysIgnoreHeaders, routeCfg.Policy())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, KindInvalidRequest, err.Error())
		return
	}
	fp := fingerprint.Fingerprint(canonical)

	switch mode {
	case config.ModeReplay:
		h.handleReplay(w, r, dom, fp)
	case config.ModeRecord:
		h.handleRecord(w, r, tgt, remainder, dom, fp, raw)
	case config.ModeSpy:
		h.handleSpy(w, r, tgt, remainder, dom, fp, raw)
	default:
		h.mode.IncError()
		h.writeError(w, http.StatusInternalServerError, KindModeInvalid, "unrecognized mode")
	}
}

func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request, dom, fp string) {
	c, found, err := h.cassettes.Lookup(dom, fp)
	if err != nil {
		h.mode.IncError()
		h.writeError(w, http.StatusInternalServerError, KindStoreIO, err.Error())
		return
	}
	if !found {
		h.mode.IncMiss()
		h.writeCassetteMiss(w, fp)
		return
	}
	h.mode.IncHit()
	writeCassetteResponse(w, c)
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request, tgt target, remainder, dom, fp string, raw normalize.Raw) {
	h.forwardAndRecord(w, r, tgt, remainder, dom, fp, raw)
}

func (h *Handler) handleSpy(w http.ResponseWriter, r *http.Request, tgt target, remainder, dom, fp string, raw normalize.Raw) {
	c, found, err := h.cassettes.Lookup(dom, fp)
	if err != nil {
		h.mode.IncError()
		h.writeError(w, http.StatusInternalServerError, KindStoreIO, err.Error())
		return
	}
	if found {
		h.mode.IncHit()
		writeCassetteResponse(w, c)
		return
	}
	h.mode.IncMiss()
	h.forwardAndRecord(w, r, tgt, remainder, dom, fp, raw)
}

type upstreamResult struct {
	cassette *cassette.Cassette
	path     string
}

// forwardAndRecord forwards the request upstream (deduplicated per
// fingerprint via single-flight), saves the resulting cassette, and
// writes the response to w. It is shared by record mode and spy-on-miss.
func (h *Handler) forwardAndRecord(w http.ResponseWriter, r *http.Request, tgt target, remainder, dom, fp string, raw normalize.Raw) {
	res := h.sf.Do(fp, func(traceID string) (any, error) {
		return h.doForwardAndRecord(r.Context(), tgt, remainder, dom, fp, traceID, raw)
	})

	if res.Err != nil {
		h.mode.IncError()
		h.log.Warn("upstream forward failed", "domain", dom, "trace_id", res.TraceID, "error", res.Err)
		writeUpstreamError(w, res.Err)
		return
	}

	ur := res.Val.(upstreamResult)
	h.mode.IncRecorded()
	h.log.Info("recorded upstream response", "domain", dom, "trace_id", res.TraceID, "path", ur.path)
	writeCassetteResponse(w, ur.cassette)
}

// doForwardAndRecord performs the actual upstream call and cassette save;
// it is the function single-flight runs at most once per fingerprint at a
// time. traceID is the single-flight leader's id, stamped on the upstream
// request as X-Vcr-Trace-Id so it can be correlated in upstream logs with
// every follower this call served.
func (h *Handler) doForwardAndRecord(ctx context.Context, tgt target, remainder, dom, fp, traceID string, raw normalize.Raw) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, h.proxyTimeout)
	defer cancel()

	upstreamURL := joinURL(tgt.base, remainder, raw.Query)
	req, err := http.NewRequestWithContext(ctx, raw.Method, upstreamURL.String(), bytes.NewReader(raw.Body))
	if err != nil {
		return nil, err
	}
	copyForwardHeaders(req.Header, raw.Headers)
	req.Host = tgt.base.Host
	req.Header.Set("X-Vcr-Trace-Id", traceID)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	reqHeaders, respHeaders := cassette.Header{}, cassette.Header{}
	for name, vs := range raw.Headers {
		k := strings.ToLower(name)
		reqHeaders[k] = append(reqHeaders[k], vs...)
	}
	for name, vs := range resp.Header {
		k := strings.ToLower(name)
		respHeaders[k] = append(respHeaders[k], vs...)
	}

	c := &cassette.Cassette{
		Meta: cassette.Meta{
			RecordedAt: time.Now().UTC(),
			Target:     upstreamURL.String(),
			Domain:     dom,
			Version:    fingerprint.FormatVersion,
		},
		Request: cassette.Request{
			Method:      raw.Method,
			Path:        raw.Path,
			Query:       cassette.Header(raw.Query),
			Headers:     reqHeaders,
			Body:        raw.Body,
			ContentType: raw.ContentType,
		},
		Response: cassette.Response{
			StatusCode: resp.StatusCode,
			Headers:    respHeaders,
			Body:       respBody,
		},
		Fingerprint: fp,
	}

	result, cassettePath, err := h.cassettes.Save(c, h.overwrite)
	if err != nil {
		return nil, err
	}
	if result == cassette.Recorded {
		if h.statsdb != nil {
			idxCtx := statsdb.WithTraceID(ctx, traceID)
			cassetteID := strings.TrimSuffix(path.Base(cassettePath), ".json")
			if idxErr := h.statsdb.IndexCassette(idxCtx, dom, fp, c.Request.Method, c.Request.Path, cassetteID, c.Meta.RecordedAt); idxErr != nil {
				h.log.Warn("stats index update failed", "trace_id", traceID, "error", idxErr)
			}
		}
		if h.hooks != nil {
			h.hooks.OnCassetteWritten(cassettePath)
		}
	}

	return upstreamResult{cassette: c, path: cassettePath}, nil
}

func readLimitedBody(r io.Reader, limit int64) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	limited := io.LimitReader(r, limit+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, normalize.ErrBodyTooLarge
	}
	return body, nil
}

func copyForwardHeaders(dst http.Header, src map[string][]string) {
	hop := toLowerSet(hopByHopHeaders)
	for name, values := range src {
		lower := strings.ToLower(name)
		if lower == "host" || hop[lower] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func toLowerSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[strings.ToLower(item)] = true
	}
	return set
}

// joinURL builds the upstream URL by joining the inbound remainder path
// onto the configured target's own path. The query is the inbound query;
// any query on the target URL itself is replaced, not merged.
func joinURL(base *url.URL, remainder string, query url.Values) *url.URL {
	u := *base
	u.Path = path.Join(base.Path, remainder)
	if strings.HasSuffix(remainder, "/") && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery = query.Encode()
	return &u
}

func writeCassetteResponse(w http.ResponseWriter, c *cassette.Cassette) {
	for name, values := range c.Response.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(c.Response.StatusCode)
	_, _ = w.Write(c.Response.Body)
}

func (h *Handler) writeCassetteMiss(w http.ResponseWriter, fp string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":       string(KindCassetteMiss),
		"fingerprint": fp,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, kind Kind, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":  string(kind),
		"detail": detail,
	})
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGatewayTimeout)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":  string(KindUpstreamTimeout),
			"detail": err.Error(),
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":  string(KindUpstreamUnavailable),
		"detail": err.Error(),
	})
}
