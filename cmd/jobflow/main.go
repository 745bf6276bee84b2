// jobflow runs the job-graph orchestration engine from the command line.
//
// Usage:
//
//	jobflow run --goal "..."              # decompose and execute a goal
//	jobflow run --config config.yaml --goal "..."
//	jobflow version
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/jobflow/config"
	"github.com/BaSui01/jobflow/internal/metrics"
	"github.com/BaSui01/jobflow/ledger"
	"github.com/BaSui01/jobflow/store"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runGoal(os.Args[2:])
	case "version":
		fmt.Printf("jobflow %s (built %s)\n", Version, BuildTime)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `jobflow - job-graph orchestration engine

Commands:
  run      decompose a goal into sub-jobs and execute the graph
  version  print version information
  help     show this message

Run flags:
  --config  path to a YAML config file
  --goal    the goal to execute (required)
  --session session id to attach to the job
`)
}

func runGoal(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	goal := fs.String("goal", "", "goal to execute")
	session := fs.String("session", "", "session id")
	_ = fs.Parse(args)

	if *goal == "" {
		fmt.Fprintln(os.Stderr, "run requires --goal")
		os.Exit(1)
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	collector := metrics.NewCollector(prometheus.DefaultRegisterer, logger)
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	if err := run(cfg, logger, collector, *goal, *session); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// buildMessageStore selects redis when an address is configured,
// falling back to the in-memory store.
func buildMessageStore(cfg config.RedisConfig, logger *zap.Logger) (store.MessageStore, error) {
	if cfg.Addr == "" {
		return store.NewMemoryMessageStore(), nil
	}
	logger.Info("using redis message store", zap.String("addr", cfg.Addr))
	return store.NewRedisMessageStore(store.RedisConfig{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		KeyPrefix:   cfg.KeyPrefix,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})
}

// buildLedger selects the sqlite-backed ledger when persistence is
// configured.
func buildLedger(cfg config.LedgerConfig, logger *zap.Logger) (ledger.Ledger, error) {
	if cfg.Persistent {
		return ledger.OpenPersistentLedger(cfg.DSN, logger)
	}
	return ledger.NewMemoryLedger(logger), nil
}
