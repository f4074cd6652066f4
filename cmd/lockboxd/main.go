package main

import (
	"context"
	"flag"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"lockboxd/config"
	"lockboxd/core"
	"lockboxd/core/state"
	"lockboxd/observability/logging"
	"lockboxd/observability/otel"
	"lockboxd/rpc"
	"lockboxd/storage"
)

func main() {
	configPath := flag.String("config", "lockboxd.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("lockboxd", "", "").Error("load config", "err", err)
		os.Exit(1)
	}

	log := logging.Setup("lockboxd", cfg.Environment, cfg.LogFile)

	ctx := context.Background()
	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "lockboxd",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			log.Error("init telemetry", "err", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Error("create data dir", "err", err)
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		log.Error("open ledger database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	node, err := core.NewNode(manager)
	if err != nil {
		log.Error("build node", "err", err)
		os.Exit(1)
	}
	node.SetBlockSource(core.NewTickingSource(time.Now(), time.Duration(cfg.BlockIntervalSeconds)*time.Second))

	for _, genesis := range cfg.GenesisAccounts {
		amount, ok := new(big.Int).SetString(genesis.Amount, 10)
		if !ok {
			log.Error("invalid genesis amount", "address", genesis.Address, "amount", genesis.Amount)
			os.Exit(1)
		}
		if err := node.Credit(genesis.Address, genesis.Denom, amount); err != nil {
			log.Error("apply genesis credit", "address", genesis.Address, "err", err)
			os.Exit(1)
		}
	}

	audit, err := rpc.NewAuditStore(cfg.AuditDBPath)
	if err != nil {
		log.Error("open audit store", "err", err)
		os.Exit(1)
	}
	defer func() { _ = audit.Close() }()

	server := rpc.NewServer(node, audit, log)
	server.SetRateLimit(rpc.RateLimit{RequestsPerMinute: cfg.RateLimitPerMinute, Burst: cfg.RateLimitBurst})

	if err := server.Start(cfg.RPCAddress); err != nil {
		log.Error("rpc server stopped", "err", err)
		os.Exit(1)
	}
}
