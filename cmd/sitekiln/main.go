// Command sitekiln is the thin CLI collaborator: it loads configuration,
// provisions or loads a TLS certificate, wires logger -> caches -> executor
// -> router -> server, and blocks serving until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sitekiln/sitekiln/internal/accesslog"
	"github.com/sitekiln/sitekiln/internal/certprovision"
	"github.com/sitekiln/sitekiln/internal/config"
	"github.com/sitekiln/sitekiln/internal/eventsource"
	"github.com/sitekiln/sitekiln/internal/exchange"
	"github.com/sitekiln/sitekiln/internal/router"
	"github.com/sitekiln/sitekiln/internal/server"
	"github.com/sitekiln/sitekiln/internal/taskqueue"
)

func main() {
	configPath := flag.String("config", "Sitefile", "path to the site configuration")
	flag.Parse()

	logger, err := newLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sitekiln: failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("exiting", zap.Error(err))
	}
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("SITEKILN_ENV") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(configPath string, logger *zap.Logger) error {
	site, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var ledger *server.SessionLedger
	if site.SessionLedger != "" {
		ledger, err = server.OpenSessionLedger(site.SessionLedger)
		if err != nil {
			return fmt.Errorf("open session ledger: %w", err)
		}
		defer ledger.Close()
	}

	access, err := accesslog.New(logger, site.AnalyticsDB)
	if err != nil {
		return fmt.Errorf("open access log sink: %w", err)
	}
	defer access.Close()

	executor := taskqueue.New(site.ExecutorCapacity)
	warmStaticCache(executor, site.Root, logger)

	statsDone := make(chan struct{})
	go logExecutorStats(executor, logger, statsDone)
	defer close(statsDone)

	rt := buildRouter(site, logger)

	srv := server.New(rt, server.Options{
		Origin:     originFor(site),
		Production: site.Production,
		FileOpener: &exchange.DiskFileOpener{Root: site.Root},
		Logger:     logger,
		Ledger:     ledger,
		AccessLog:  access,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(srv, site, configPath, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		executor.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Close(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildRouter(site config.Site, logger *zap.Logger) *router.Router {
	rt := router.New()

	es := eventsource.New(eventsource.Options{
		HeartbeatMS: int(time.Duration(site.SSEHeartbeat).Milliseconds()),
		Reconnect:   int(time.Duration(site.SSEReconnect).Milliseconds()),
		Timer:       newHeartbeatTicker(),
		Logger:      logger,
	})
	rt.Route("/.sitekiln/events", es.Middleware())

	rt.UseScaffold(func(ex *exchange.Exchange, next func() error) error {
		path := ex.Request.Headers.Get(":path")
		if path == "" {
			path = "/"
		}
		ex.PrepareFile(path)
		return nil
	})
	return rt
}

func originFor(site config.Site) string {
	scheme := "http"
	if site.TLSCert != "" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, site.Listen)
}

func serve(srv *server.Server, site config.Site, configPath string, logger *zap.Logger) error {
	if site.TLSCert == "" {
		return srv.ListenH2C(site.Listen)
	}

	if _, err := os.Stat(site.TLSCert); errors.Is(err, os.ErrNotExist) {
		cacheDir := filepath.Join(filepath.Dir(configPath), ".sitekiln")
		p, err := certprovision.New(filepath.Join(cacheDir, "certcache.db"), logger)
		if err != nil {
			return fmt.Errorf("build cert provisioner: %w", err)
		}
		defer p.Close()

		if _, err := p.Ensure(context.Background(), site.TLSCert, site.TLSKey, certprovision.Options{
			CommonName: "localhost",
			SANs:       []string{"localhost", "127.0.0.1"},
			Logger:     logger,
		}); err != nil {
			return fmt.Errorf("provision certificate: %w", err)
		}
	}

	cert, err := loadCertificate(site.TLSCert, site.TLSKey)
	if err != nil {
		return fmt.Errorf("load certificate: %w", err)
	}
	return srv.ListenTLS(site.Listen, cert)
}

// warmStaticCache submits one async task per top-level directory entry
// under root, priming the OS page cache before the first request arrives —
// the Executor's bounded-concurrency queue exists for exactly this kind of
// parallel I/O fan-out (spec §4.3).
func warmStaticCache(executor *taskqueue.Executor, root string, logger *zap.Logger) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		entry := entry
		_, err := executor.Submit(context.Background(), func(ctx context.Context, args any) (any, error) {
			path := filepath.Join(root, entry.Name())
			_, statErr := os.Stat(path)
			return nil, statErr
		}, nil)
		if err != nil {
			logger.Warn("warm cache submission failed", zap.Error(err))
		}
	}
}

// logExecutorStats periodically logs the executor's counters, the way the
// teacher surfaces its own internal counts to its logger.
func logExecutorStats(executor *taskqueue.Executor, logger *zap.Logger, done <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := executor.Stats()
			logger.Debug("executor stats",
				zap.Int("capacity", stats.Capacity),
				zap.Int("in_flight", stats.InFlight),
				zap.Int("queued", stats.Queued),
				zap.Int("completed", stats.Completed),
				zap.String("state", stats.State.String()))
		case <-done:
			return
		}
	}
}
