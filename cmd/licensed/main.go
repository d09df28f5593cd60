package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"licentra.org/internal/access"
	"licentra.org/internal/alert"
	"licentra.org/internal/auth"
	"licentra.org/internal/compliance"
	"licentra.org/internal/config"
	"licentra.org/internal/engine"
	"licentra.org/internal/inventory"
	"licentra.org/internal/obs"
	"licentra.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	cfg := config.Load()
	log := obs.Logger()
	defer func() { _ = log.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Postgres when a DSN is configured, in-memory otherwise. The in-memory
	// store is for evaluation runs; its state dies with the process.
	var store inventory.Store
	var pgStore *pg.Store
	if cfg.PostgresDSN != "" {
		var err error
		pgStore, err = pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatal("open postgres", zap.Error(err))
		}
		defer func() { _ = pgStore.Close() }()
		store = pgStore
		log.Info("using postgres store")
	} else {
		store = inventory.NewInMemory()
		log.Warn("no LICENTRA_PG_DSN set, using in-memory store")
	}

	svc := engine.New(store, cfg.StoreTimeout, log)

	eval := compliance.NewEvaluator(store, cfg.ExpiryWarnDays, cfg.DeviceRiskWarnDays, cfg.OverUtilizationRatio, log)
	notifier := alert.NewLogNotifier(log, 5, 20)
	sched := compliance.NewScheduler(eval, notifier, cfg.ScanInterval, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if pgStore != nil {
			if err := pgStore.Ping(r.Context()); err != nil {
				http.Error(w, "db unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		// A read through the guarded engine proves the whole stack answers,
		// not just the connection.
		readyCtx := auth.ContextWithActor(r.Context(), auth.Actor{ID: "system-readiness", Role: access.RoleAuditor})
		if _, err := svc.ListVendors(readyCtx); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("starting licensed", zap.String("version", version), zap.String("addr", srv.Addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("stopped")
}
