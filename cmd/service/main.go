package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gitlab.com/dirk.krummacker/phonebook-service/internal/directory"
	"gitlab.com/dirk.krummacker/phonebook-service/internal/platform/config"
	"gitlab.com/dirk.krummacker/phonebook-service/internal/platform/logger"
	"gitlab.com/dirk.krummacker/phonebook-service/internal/platform/metrics"
	"gitlab.com/dirk.krummacker/phonebook-service/internal/service"
	"gitlab.com/dirk.krummacker/phonebook-service/internal/store"
)

// storage is what the service needs from a store implementation.
type storage interface {
	directory.Store
	service.HealthChecker
}

// Usage example on the command line:
// > PORT=8080 DBHOST=localhost DBUSER=dirk DBPWD=bullo92 GIN_MODE=release GIN_LOGGING=OFF go run main.go
// > DB_DRIVER=memory go run main.go
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("could not load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, os.Stdout)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var contactStore storage
	if cfg.DBDriver == store.DriverMemory {
		log.Warn("using in-memory storage, contacts are lost on shutdown")
		contactStore = store.NewMemoryStore()
	} else {
		db, err := store.Open(ctx, cfg.DBDriver, cfg.DSN(), cfg.Pool())
		if err != nil {
			return err
		}
		defer db.Close()
		m.RegisterDBStats(db.DB, "contacts")
		contactStore = store.NewSQLStore(db)
		log.Info("connected to database", "driver", cfg.DBDriver, "host", cfg.DBHost)
	}

	contacts := directory.New(contactStore, log, directory.WithRecorder(m))
	router := service.New(contacts, contactStore, log, m).SetupHttpRouter(cfg.RequestLogging())
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down HTTP server", "timeout", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
