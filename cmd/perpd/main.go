package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/luxfi/perps/pkg/api"
	"github.com/luxfi/perps/pkg/config"
	"github.com/luxfi/perps/pkg/events"
	"github.com/luxfi/perps/pkg/metrics"
	"github.com/luxfi/perps/pkg/node"
	"github.com/luxfi/perps/pkg/oracle"
	"github.com/luxfi/perps/pkg/store"
	"github.com/luxfi/perps/pkg/websocket"
)

// Daemon wires the node to its transports.
type Daemon struct {
	config  *config.Config
	logger  log.Logger
	store   *store.Store
	node    *node.Node
	hub     *websocket.Server
	metrics *metrics.Metrics
	nats    *nats.Conn
	rpc     *api.JSONRPCServer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDaemon(cfg *config.Config) (*Daemon, error) {
	level, _ := log.ToLevel(cfg.Node.LogLevel)
	logger := log.NewTestLogger(level)
	logger.Info("Initializing perpd")

	dataDir := expandHome(cfg.Node.DataDir)
	if !cfg.Node.InMemory {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	st, err := store.Open(store.Config{
		DataDir:   dataDir,
		Namespace: cfg.Node.Namespace,
		InMemory:  cfg.Node.InMemory,
	}, logger)
	if err != nil {
		return nil, err
	}

	feed := oracle.NewFeed(cfg.Node.OracleMaxAge)
	pairs, collaterals := cfg.Market.Prices()
	for index, price := range pairs {
		if err := feed.SetPrice(index, price); err != nil {
			return nil, err
		}
	}
	for index, price := range collaterals {
		if err := feed.SetCollateralPrice(index, price); err != nil {
			return nil, err
		}
	}

	m := metrics.New(cfg.Node.MetricsNamespace)
	hub := websocket.NewServer(logger, websocket.DefaultConfig())
	publishers := events.Multi{hub}

	var nc *nats.Conn
	if cfg.Node.NATSURL != "" {
		publisher, conn, err := events.ConnectNATS(cfg.Node.NATSURL, cfg.Node.NATSSubject, logger)
		if err != nil {
			logger.Warn("NATS unavailable, events stay local", "url", cfg.Node.NATSURL, "error", err)
		} else {
			nc = conn
			publishers = append(publishers, publisher)
		}
	}

	n, err := node.New(st, feed, logger,
		node.WithPublisher(publishers),
		node.WithMetrics(m),
		node.WithVault(cfg.Node.VaultAccount),
	)
	if err != nil {
		st.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		config:  cfg,
		logger:  logger,
		store:   st,
		node:    n,
		hub:     hub,
		metrics: m,
		nats:    nc,
		rpc: api.NewJSONRPCServer(n, api.Config{
			RateLimit: cfg.Node.RateLimit,
			RateBurst: cfg.Node.RateBurst,
			Admin:     cfg.Node.AdminAPI,
		}, logger),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (d *Daemon) Start() error {
	switch err := d.node.ApplyGenesis(d.config.Market.Commands()); err {
	case nil:
	case node.ErrGenesisApplied:
		d.logger.Info("genesis already applied", "height", d.node.Height())
	default:
		return err
	}

	d.hub.Start()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.node.Run(d.ctx, d.config.Node.Interval())
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.metrics.CollectSystemMetrics(d.ctx, 10*time.Second)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		router := api.NewRouter(d.rpc, d.hub, d.metrics)
		if err := api.Serve(d.ctx, d.config.Node.HTTPAddr, router, d.logger); err != nil {
			d.logger.Error("HTTP server failed", "error", err)
			d.cancel()
		}
	}()

	d.wg.Add(1)
	go d.printStats()

	d.logger.Info("perpd started",
		"http", d.config.Node.HTTPAddr,
		"height", d.node.Height(),
		"blockInterval", d.config.Node.Interval())
	return nil
}

func (d *Daemon) printStats() {
	defer d.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.logger.Info("node status",
				"height", d.node.Height(),
				"pending", d.node.Pending(),
				"ws", d.hub.GetStats())
			d.metrics.LogMetrics()
		}
	}
}

func (d *Daemon) Shutdown() {
	d.logger.Info("Shutting down perpd")
	d.cancel()
	d.wg.Wait()
	d.hub.Stop()

	if d.nats != nil {
		if err := d.nats.Drain(); err != nil {
			d.logger.Warn("failed to drain NATS", "error", err)
		}
	}
	if err := d.store.Close(); err != nil {
		d.logger.Error("failed to close store", "error", err)
	}
	d.logger.Info("perpd shutdown complete")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config (defaults are used when empty)")
	dataDir := flag.String("data-dir", "", "Data directory")
	httpAddr := flag.String("http-addr", "", "HTTP listen address for /rpc, /ws, /metrics")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	inMemory := flag.Bool("in-memory", false, "Keep state in memory only")
	natsURL := flag.String("nats-url", "", "NATS server for event publishing")
	blockInterval := flag.Duration("block-interval", 0, "Block interval")
	flag.Parse()

	rootLogger := log.Root()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			rootLogger.Crit("Failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg.Node.DataDir = *dataDir
	}
	if *httpAddr != "" {
		cfg.Node.HTTPAddr = *httpAddr
	}
	if *logLevel != "" {
		cfg.Node.LogLevel = *logLevel
	}
	if *inMemory {
		cfg.Node.InMemory = true
	}
	if *natsURL != "" {
		cfg.Node.NATSURL = *natsURL
	}
	if *blockInterval > 0 {
		cfg.Node.BlockInterval = blockInterval.String()
	}
	if err := cfg.Validate(); err != nil {
		rootLogger.Crit("Invalid config", "error", err)
		os.Exit(1)
	}

	rootLogger.Info("System information",
		"platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		"cpus", runtime.NumCPU(),
		"dataDir", cfg.Node.DataDir,
		"inMemory", cfg.Node.InMemory)

	daemon, err := NewDaemon(cfg)
	if err != nil {
		rootLogger.Crit("Failed to create node", "error", err)
		os.Exit(1)
	}
	if err := daemon.Start(); err != nil {
		rootLogger.Crit("Failed to start node", "error", err)
		daemon.Shutdown()
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		rootLogger.Info("Received shutdown signal", "signal", sig)
	case <-daemon.ctx.Done():
	}
	daemon.Shutdown()
}
