package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"dynakv/internal/config"
	"dynakv/internal/logger"
	"dynakv/internal/node"
)

var version = "dev"

type flags struct {
	configFile string
	envFile    string
	nodeID     string
	listen     string
	advertise  string
	peers      string
	dataDir    string
	engine     string
	timeout    time.Duration
	workers    int
	rangeWork  int
	logLevel   string
	logEnv     string
	logFile    string
	noMetrics  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "kvnode",
		Short:         "Run one node of a replicated key-value cluster",
		Version:       version,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), &f)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	bindFlags(cmd.Flags(), &f)
	return cmd
}

func bindFlags(fs *pflag.FlagSet, f *flags) {
	fs.StringVar(&f.configFile, "config", "", "YAML config file")
	fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file read before DYNAKV_* variables")
	fs.StringVar(&f.nodeID, "node-id", "", "node ID, unique in the cluster")
	fs.StringVar(&f.listen, "listen", "", "listen address, e.g. :8080")
	fs.StringVar(&f.advertise, "advertise", "", "base URL peers use to reach this node")
	fs.StringVar(&f.peers, "peers", "", "cluster members as id=addr,id=addr")
	fs.StringVar(&f.dataDir, "data-dir", "", "leveldb data directory")
	fs.StringVar(&f.engine, "engine", "", "storage engine: leveldb or memory")
	fs.DurationVar(&f.timeout, "timeout", 0, "timeout for every call to a peer")
	fs.IntVar(&f.workers, "workers", 0, "entity requests handled concurrently")
	fs.IntVar(&f.rangeWork, "range-workers", 0, "range scans streamed concurrently")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&f.logEnv, "log-env", "", "dev (console) or prod (JSON)")
	fs.StringVar(&f.logFile, "log-file", "", "rotate logs into this file instead of stderr")
	fs.BoolVar(&f.noMetrics, "no-metrics", false, "do not serve /metrics")
}

// loadConfig layers defaults, the YAML file, the environment and finally
// the flags that were set explicitly.
func loadConfig(fs *pflag.FlagSet, f *flags) (config.Config, error) {
	if f.envFile != "" {
		if err := godotenv.Load(f.envFile); err != nil && fs.Changed("env-file") {
			return config.Config{}, fmt.Errorf("load %s: %w", f.envFile, err)
		}
	}

	cfg := config.Default()
	if f.configFile != "" {
		var err error
		if cfg, err = config.Load(f.configFile); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}

	if fs.Changed("node-id") {
		cfg.NodeID = f.nodeID
	}
	if fs.Changed("listen") {
		cfg.ListenAddr = f.listen
	}
	if fs.Changed("advertise") {
		cfg.AdvertiseAddr = f.advertise
	}
	if fs.Changed("peers") {
		peers, err := config.ParsePeers(f.peers)
		if err != nil {
			return cfg, err
		}
		cfg.Peers = peers
	}
	if fs.Changed("data-dir") {
		cfg.Storage.DataDir = f.dataDir
	}
	if fs.Changed("engine") {
		cfg.Storage.Engine = f.engine
	}
	if fs.Changed("timeout") {
		cfg.RemoteTimeout = f.timeout
	}
	if fs.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fs.Changed("range-workers") {
		cfg.RangeWorkers = f.rangeWork
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fs.Changed("log-env") {
		cfg.Log.Env = f.logEnv
	}
	if fs.Changed("log-file") {
		cfg.Log.File = f.logFile
	}
	if f.noMetrics {
		cfg.Metrics = false
	}
	return cfg, cfg.Validate()
}

func run(cfg config.Config) error {
	cfg.Log.ServiceName = "kvnode"
	cfg.Log.Version = version
	log := logger.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	n, err := node.New(cfg, node.WithLogger(log))
	if err != nil {
		log.Error("failed to create node", zap.Error(err))
		return err
	}
	if err := n.Start(); err != nil {
		log.Error("failed to start node", zap.Error(err))
		_ = n.Stop(context.Background())
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	for {
		select {
		case err := <-n.Done():
			log.Error("server exited", zap.Error(err))
			_ = n.Stop(context.Background())
			return err
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				log.Info("compacting storage")
				if err := n.Compact(); err != nil {
					log.Warn("compaction failed", zap.Error(err))
				}
				continue
			}
			log.Info("got signal to exit", zap.Stringer("signal", sig))
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
			err := n.Stop(ctx)
			cancel()
			return err
		}
	}
}
