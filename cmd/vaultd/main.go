// Command vaultd runs the Omnivault custody service: the HTTP API, the venue
// liquidity watcher, and the audit journal.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc"

	"github.com/custodix/omnivault/config"
	"github.com/custodix/omnivault/internal/custody"
	"github.com/custodix/omnivault/internal/journal"
	journalpg "github.com/custodix/omnivault/internal/journal/postgres"
	"github.com/custodix/omnivault/internal/observability"
	httpserver "github.com/custodix/omnivault/internal/server/http"
	"github.com/custodix/omnivault/internal/telemetry"
	"github.com/custodix/omnivault/internal/vault"
	"github.com/custodix/omnivault/internal/venue"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("vaultd: %v", err)
	}
}

func run(configPath string) error {
	cfg := config.FromEnv()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.NewStdLogger(log.New(os.Stderr, "vaultd ", log.LstdFlags|log.LUTC), cfg.Environment != config.EnvProd)
	observability.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	observability.SetMetrics(metrics)
	defer func() {
		if err := metrics.Shutdown(context.Background()); err != nil {
			observability.Log().Error("telemetry shutdown failed",
				observability.F("error", err.Error()))
		}
	}()

	exchange := venue.NewRESTClient(cfg.Venue.BaseURL, cfg.Venue.HTTPTimeout, cfg.Venue.RequestsPerSecond)

	var auditLog journal.Journal = journal.NewMemory()
	if cfg.DatabaseDSN != "" {
		store, err := journalpg.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		auditLog = store
	}

	v, err := vault.New(cfg, exchange, custody.NewMemory(), vault.WithJournal(auditLog))
	if err != nil {
		return err
	}

	watcher := venue.NewLiquidityWatcher(cfg.Venue.StreamURL, nil)
	server := httpserver.NewServer(v)

	observability.Log().Info("vaultd starting",
		observability.F("listen_addr", cfg.ListenAddr),
		observability.F("settlement_asset", cfg.SettlementAsset),
		observability.F("environment", string(cfg.Environment)))

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := watcher.Run(ctx); err != nil {
			observability.Log().Error("liquidity watcher stopped",
				observability.F("error", err.Error()))
		}
	})

	err = server.Run(ctx, cfg.ListenAddr)
	stop()
	wg.Wait()
	return err
}
