package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/feed"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/ws"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("error").Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var store storage.EntityStore
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN, logger)
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}

	var changeFeed feed.Bus
	if len(cfg.KafkaBrokers) > 0 {
		changeFeed = feed.NewKafkaFeed(cfg.KafkaBrokers, logger)
	} else {
		changeFeed = feed.NewBroker()
	}

	var locations geo.Locations
	if cfg.RedisAddr != "" {
		locations = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		locations = geo.NewIndex()
	}

	disp := dispatch.NewDispatcher(
		dispatch.NewRelayMailer(cfg.MailEndpoint, cfg.MailKey),
		store, store, dispatch.NewTemplates(nil), logger,
	)
	if cfg.StripeEnabled {
		disp = disp.WithPayments(payments.NewStripeClient())
	}

	var router maps.Service
	if cfg.GoogleMapsKey != "" {
		gs, err := maps.NewGoogleService(cfg.GoogleMapsKey)
		if err != nil {
			logger.Error("maps client failed", "error", err)
			os.Exit(1)
		}
		router = maps.NewCached(gs, 10*time.Minute)
	} else if cfg.OSRMEndpoint != "" {
		router = maps.NewCached(maps.NewOSRMService(cfg.OSRMEndpoint), 10*time.Minute)
	}

	svc := lifecycle.NewService(store, changeFeed, disp, logger)
	hub := ws.NewHub(changeFeed, logger)

	srv := httpapi.NewServer(httpapi.Deps{
		Store:           store,
		Lifecycle:       svc,
		Dispatcher:      disp,
		Locations:       locations,
		Throttle:        geo.NewThrottle(cfg.LocationInterval),
		Publisher:       changeFeed,
		Hub:             hub,
		Router:          router,
		DefaultTenantID: cfg.DefaultTenantID,
		Currency:        cfg.Currency,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go srv.RunLocationFlusher(ctx, cfg.LocationInterval)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("http server stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	hub.CloseAll()
}

// runMigrations applies the SQL files in migrations/ in lexical order.
func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	files, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		logger.Error("migration glob error", "error", err)
		return
	}
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			logger.Error("migration read error", "file", f, "error", err)
			continue
		}
		if _, err := db.Exec(string(b)); err != nil {
			logger.Error("migration exec error", "file", f, "error", err)
			continue
		}
		logger.Info("migration applied", "file", f)
	}
}
