// Command server runs the Lightning-paid API gateway: L402-gated upstream
// proxying, prepaid account top-ups, and the task marketplace.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/alittlebitofmoney/server/internal/btcprice"
	"github.com/alittlebitofmoney/server/internal/circuitbreaker"
	"github.com/alittlebitofmoney/server/internal/config"
	"github.com/alittlebitofmoney/server/internal/dbpool"
	"github.com/alittlebitofmoney/server/internal/hire"
	"github.com/alittlebitofmoney/server/internal/httpserver"
	"github.com/alittlebitofmoney/server/internal/l402"
	"github.com/alittlebitofmoney/server/internal/ledger"
	"github.com/alittlebitofmoney/server/internal/lifecycle"
	"github.com/alittlebitofmoney/server/internal/lightning"
	"github.com/alittlebitofmoney/server/internal/logger"
	"github.com/alittlebitofmoney/server/internal/metrics"
	"github.com/alittlebitofmoney/server/internal/monitoring"
	"github.com/alittlebitofmoney/server/internal/paywall"
	"github.com/alittlebitofmoney/server/internal/proxy"
	"github.com/alittlebitofmoney/server/internal/usedhash"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Secrets come from the environment; .env is a development convenience.
	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "abl-gateway",
		Version:     version,
		Environment: cfg.Logging.Environment,
	})
	log.Info().Str("address", cfg.Server.Address).Msg("server.starting")

	lm := lifecycle.NewManager()
	defer lm.Close()

	minter, err := l402.NewMinter(cfg.L402.RootKeyHex, cfg.L402.Location, log)
	if err != nil {
		return fmt.Errorf("init macaroon minter: %w", err)
	}

	used := usedhash.New(
		time.Duration(cfg.UsedHashTTLSeconds)*time.Second,
		time.Duration(cfg.UsedHashCleanupIntervalSeconds)*time.Second,
	)
	lm.Register("usedhash", used)

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)
	phoenix := lightning.New(cfg.Phoenix.URL, cfg.Phoenix.Password, cfg.Phoenix.Timeout.Duration, breakers)
	btc := btcprice.New(
		cfg.BTCPrice.Source,
		time.Duration(cfg.BTCPrice.CacheSeconds)*time.Second,
		cfg.BTCPrice.Timeout.Duration,
		breakers,
	)

	monitor := monitoring.NewBalanceMonitor(cfg.Monitoring, phoenix, log)
	monitor.Start(context.Background())
	lm.Register("balance_monitor", monitor)

	ledgerStore, hireStore := buildStores(cfg, lm, log)

	m := metrics.New(prometheus.DefaultRegisterer)
	gate := paywall.NewGate(cfg, minter, used, ledgerStore, phoenix, log)

	server := httpserver.New(httpserver.Deps{
		Config:  cfg,
		Gate:    gate,
		Proxy:   proxy.New(log),
		Ledger:  ledgerStore,
		Hire:    hireStore,
		Phoenix: phoenix,
		BTC:     btc,
		Used:    used,
		Metrics: m,
		Logger:  log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("server.shutdown_requested")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server.stopped")
	return nil
}

// buildStores connects Postgres-backed ledger and marketplace stores, falling
// back to in-memory stores when no database candidate answers. The fallback
// keeps local development working without Postgres; balances do not survive a
// restart.
func buildStores(cfg *config.Config, lm *lifecycle.Manager, log zerolog.Logger) (ledger.Store, hire.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := dbpool.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Warn().Err(err).Msg("server.database_unavailable_using_memory_stores")
		mem := ledger.NewMemoryStore()
		if !cfg.Hire.Enabled {
			return mem, nil
		}
		return mem, hire.NewMemoryStore(mem)
	}
	lm.Register("dbpool", pool)

	ledgerStore, err := ledger.NewPostgresStore(ctx, pool.Pgx())
	if err != nil {
		log.Error().Err(err).Msg("server.ledger_schema_failed")
		mem := ledger.NewMemoryStore()
		if !cfg.Hire.Enabled {
			return mem, nil
		}
		return mem, hire.NewMemoryStore(mem)
	}

	if !cfg.Hire.Enabled {
		return ledgerStore, nil
	}
	hireStore, err := hire.NewPostgresStore(ctx, pool.Pgx())
	if err != nil {
		log.Error().Err(err).Msg("server.hire_schema_failed")
		return ledgerStore, nil
	}
	return ledgerStore, hireStore
}
