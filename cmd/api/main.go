package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"freightaudit/internal/audit"
	"freightaudit/internal/config"
	"freightaudit/internal/db"
	"freightaudit/internal/logging"
	"freightaudit/internal/notify"
	"freightaudit/internal/rate"
	"freightaudit/internal/rating"
	"freightaudit/internal/server"
	"freightaudit/internal/store"
	"freightaudit/internal/tariff"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// Workers plus headroom for HTTP reads.
	pool, err := db.NewPool(connectCtx, cfg.DatabaseURL, int32(cfg.RatingWorkers)+4)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer pool.Close()

	st := store.New(pool)
	if err := st.Migrate(connectCtx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var src tariff.Source = st
	if cfg.TariffSource != config.TariffSourceDB {
		src = tariff.FileSource{Path: cfg.TariffSource}
	}
	cache := tariff.NewCache(src, log)

	surcharge := rate.Surcharge{Fuel: cfg.SurchargeFuel, Tax: cfg.SurchargeTax, Margin: cfg.SurchargeMargin}
	engine := rating.NewEngine(rate.NewCalculator(surcharge, cfg.DeficitWeight), cfg.RatingWorkers, log)

	opts := audit.Options{TopN: cfg.ConsolidationTopN}
	if cfg.RedisAddr != "" {
		rn, err := notify.NewRedis(connectCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TariffRefreshChannel, log)
		if err != nil {
			return err
		}
		defer func() { _ = rn.Close() }()
		opts.Notifier = rn
		go func() {
			if err := rn.Listen(ctx, cache.Invalidate); err != nil {
				log.Error("tariff refresh listener stopped", zap.Error(err))
			}
		}()
	}
	svc := audit.NewService(st, cache, engine, log, opts)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.New(svc, st, log),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening",
			zap.String("addr", srv.Addr),
			zap.String("tariff_source", cfg.TariffSource),
			zap.Int("rating_workers", cfg.RatingWorkers),
			zap.Bool("redis_refresh", cfg.RedisAddr != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
