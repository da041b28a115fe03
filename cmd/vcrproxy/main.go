// Command vcrproxy runs the reverse-proxy deployment of the record/replay
// engine: it accepts inbound traffic on the proxy port and routes by
// longest path-prefix match to the configured targets, while the admin
// API runs alongside on a second port.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vcrproxy/internal/adminapi"
	"vcrproxy/internal/cassette"
	"vcrproxy/internal/config"
	"vcrproxy/internal/hooks"
	"vcrproxy/internal/logger"
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
		fmt.Fprintln(os.Stderr, "vcrproxy: config error:", err)
		return 1
	}

	log := logger.New(logger.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Writers:  cfg.Logging.Writer,
		FilePath: cfg.Logging.File,
	})

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
		Targets:             cfg.Targets,
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
		Logger:              log.With("component", "proxy"),
	})
	if err != nil {
		log.Error("failed to build proxy handler", "error", err)
		return 1
	}

	adminRouter := adminapi.NewRouter(&adminapi.Engine{Mode: mode, Cassettes: cassettes, StatsDB: statsDB})

	proxySrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler}
	adminSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.AdminPort), Handler: adminRouter}

	errCh := make(chan error, 2)
	go func() { errCh <- listenAndServe(proxySrv) }()
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
	_ = proxySrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)

	if statsDB != nil {
		snap := mode.Snapshot()
		_ = statsDB.SaveCounters(snap.Total, snap.Hits, snap.Misses, snap.Recorded, snap.Errors)
	}

	hookRunner.OnStop()
	return 0
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
