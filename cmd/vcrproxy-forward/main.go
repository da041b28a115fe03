// Command vcrproxy-forward runs the forward/intercepting-proxy deployment
// of the record/replay engine (spec §1's second deployment shape): clients
// point their HTTP_PROXY/HTTPS_PROXY at this process instead of routing by
// path prefix. Plain HTTP requests are proxied directly; HTTPS traffic
// arrives as a CONNECT tunnel, MITM'd by github.com/elazarl/goproxy using a
// locally generated CA (internal/mitm), and the decrypted request is
// re-presented to the same engine used by cmd/vcrproxy.
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elazarl/goproxy"

	"vcrproxy/internal/adminapi"
	"vcrproxy/internal/cassette"
	"vcrproxy/internal/config"
	"vcrproxy/internal/hooks"
	"vcrproxy/internal/logger"
	"vcrproxy/internal/mitm"
	"vcrproxy/internal/modeengine"
	"vcrproxy/internal/proxy"
	"vcrproxy/internal/routeconfig"
	"vcrproxy/internal/statsdb"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to vcr-proxy.yaml (default ./vcr-proxy.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vcrproxy-forward: config error:", err)
		return 1
	}

	log := logger.New(logger.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Writers:  cfg.Logging.Writer,
		FilePath: cfg.Logging.File,
	})

	ca, err := mitm.LoadOrCreate(cfg.MitmConfDir)
	if err != nil {
		log.Error("failed to load mitm ca", "error", err)
		return 1
	}

	hookRunner := hooks.New(cfg.Hooks.OnStart, cfg.Hooks.OnStop, cfg.Hooks.OnCassetteWritten, log)

	cassettes := cassette.New(cfg.Cassettes.Dir, log)
	routes := routeconfig.New(cfg.Cassettes.Dir, log)

	var statsDB *statsdb.DB
	if cfg.StatsDBPath != "" {
		db, err := statsdb.Open(cfg.StatsDBPath, log)
		if err != nil {
			log.Error("failed to open stats database", "error", err)
		} else {
			statsDB = db
			defer statsDB.Close()
		}
	}

	mode := modeengine.New(cfg.Mode)
	if statsDB != nil {
		if snap, found, err := statsDB.LoadCounters(); err == nil && found {
			mode.Restore(modeengine.Counters{
				Total: snap.Total, Hits: snap.Hits, Misses: snap.Misses,
				Recorded: snap.Recorded, Errors: snap.Errors,
			})
		}
	}

	handler, err := proxy.New(proxy.Config{
		Forward:             true,
		AlwaysIgnoreHeaders: cfg.Matching.AlwaysIgnoreHeaders,
		ProxyTimeout:        cfg.ProxyTimeout,
		MaxBodySize:         cfg.MaxBodySize,
		CassetteOverwrite:   cfg.Cassettes.Overwrite,
		Mode:                mode,
		Cassettes:           cassettes,
		Routes:              routes,
		StatsDB:             statsDB,
		Hooks:               hookRunner,
		HTTPClient:          &http.Client{Timeout: cfg.ProxyTimeout + 5*time.Second},
		Logger:              log.With("component", "proxy-forward"),
	})
	if err != nil {
		log.Error("failed to build proxy handler", "error", err)
		return 1
	}

	forwardProxy, err := newInterceptingProxy(ca, handler, cfg.Logging.Level == "debug")
	if err != nil {
		log.Error("failed to configure mitm proxy", "error", err)
		return 1
	}

	adminRouter := adminapi.NewRouter(&adminapi.Engine{Mode: mode, Cassettes: cassettes, StatsDB: statsDB})

	forwardSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ForwardProxyPort), Handler: forwardProxy}
	adminSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.AdminPort), Handler: adminRouter}

	errCh := make(chan error, 2)
	go func() { errCh <- listenAndServe(forwardSrv) }()
	go func() { errCh <- listenAndServe(adminSrv) }()

	hookRunner.OnStart()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server failed to start", "error", err)
			hookRunner.OnStop()
			return 2
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = forwardSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)

	if statsDB != nil {
		snap := mode.Snapshot()
		_ = statsDB.SaveCounters(snap.Total, snap.Hits, snap.Misses, snap.Recorded, snap.Errors)
	}

	hookRunner.OnStop()
	return 0
}

// newInterceptingProxy builds a goproxy.ProxyHttpServer that MITMs every
// CONNECT tunnel with ca and runs both plain HTTP and decrypted HTTPS
// requests through handler, relaying whatever handler writes back to the
// client as the response goproxy would otherwise have fetched upstream
// itself.
func newInterceptingProxy(ca *mitm.CA, handler http.Handler, verbose bool) (*goproxy.ProxyHttpServer, error) {
	caCert, err := tls.X509KeyPair(ca.CertPEM(), ca.KeyPEM())
	if err != nil {
		return nil, fmt.Errorf("vcrproxy: install mitm ca: %w", err)
	}
	goproxy.GoproxyCa = caCert

	p := goproxy.NewProxyHttpServer()
	p.Verbose = verbose
	p.OnRequest().HandleConnect(goproxy.AlwaysMitm)
	p.OnRequest().DoFunc(func(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		rec := newResponseRecorder()
		handler.ServeHTTP(rec, req)
		return req, rec.toResponse(req)
	})
	return p, nil
}

// responseRecorder is a minimal http.ResponseWriter that captures the
// handler's output so it can be replayed into an *http.Response for
// goproxy to send back to the client, in place of goproxy's own upstream
// round trip.
type responseRecorder struct {
	header http.Header
	status int
	body   *bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), status: http.StatusOK, body: &bytes.Buffer{}}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) Write(b []byte) (int, error) { return r.body.Write(b) }

func (r *responseRecorder) WriteHeader(status int) { r.status = status }

func (r *responseRecorder) toResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    r.status,
		Status:        http.StatusText(r.status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.header,
		Body:          io.NopCloser(bytes.NewReader(r.body.Bytes())),
		ContentLength: int64(r.body.Len()),
		Request:       req,
	}
}

func listenAndServe(srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
