package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/SudokuMesh-Engine/api"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/config"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/logging"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/monitoring"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/node"
)

// Version information
const (
	Version = api.Version
	Name    = "SudokuMesh-Engine"
)

type flags struct {
	configPath  string
	httpPort    int
	p2pPort     int
	anchor      string
	handicapMS  int
	transport   string
	dataDir     string
	metricsAddr string
	logLevel    string
	printConfig bool
	version     bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "TOML configuration file")
	flag.IntVar(&f.httpPort, "p", 0, "HTTP port of the node (default 8007)")
	flag.IntVar(&f.p2pPort, "s", 0, "P2P port of the node (default 5007)")
	flag.StringVar(&f.anchor, "a", "", `anchor node to join: "host:port", or "host port" when given last`)
	flag.IntVar(&f.handicapMS, "hd", -1, "validation handicap in milliseconds (default 1)")
	flag.StringVar(&f.transport, "transport", "", "P2P transport: udp or zmq")
	flag.StringVar(&f.dataDir, "data", "", "directory for the persistent stats ledger")
	flag.StringVar(&f.metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	flag.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.BoolVar(&f.printConfig, "print-config", false, "print the effective configuration and exit")
	flag.BoolVar(&f.version, "version", false, "print the version and exit")
	flag.Parse()

	// "-a host port" leaves the port as the first positional argument.
	if f.anchor != "" && !strings.Contains(f.anchor, ":") && flag.NArg() > 0 {
		f.anchor = f.anchor + " " + flag.Arg(0)
	}
	return f
}

// apply overrides file values with the flags that were set.
func (f flags) apply(cfg *config.Config) error {
	if f.httpPort > 0 {
		host := "0.0.0.0"
		if h, _, ok := strings.Cut(cfg.HTTP.Listen, ":"); ok && h != "" {
			host = h
		}
		cfg.HTTP.Listen = fmt.Sprintf("%s:%d", host, f.httpPort)
	}
	if f.p2pPort > 0 {
		cfg.Node.Port = f.p2pPort
	}
	if f.anchor != "" {
		anchor, err := normalizeAnchor(f.anchor)
		if err != nil {
			return err
		}
		cfg.Node.Anchor = anchor
	}
	if f.handicapMS >= 0 {
		cfg.Node.Handicap = config.D(time.Duration(f.handicapMS) * time.Millisecond)
	}
	if f.transport != "" {
		cfg.Node.Transport = f.transport
	}
	if f.dataDir != "" {
		cfg.Node.DataDir = f.dataDir
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = f.metricsAddr
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	return cfg.Validate()
}

func normalizeAnchor(s string) (string, error) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 1:
		return fields[0], nil
	case 2:
		if _, err := strconv.Atoi(fields[1]); err != nil {
			return "", fmt.Errorf("invalid anchor port %q", fields[1])
		}
		return fields[0] + ":" + fields[1], nil
	default:
		return "", fmt.Errorf("invalid anchor %q", s)
	}
}

func main() {
	f := parseFlags()
	if f.version {
		fmt.Printf("%s v%s\n", Name, Version)
		return
	}

	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := f.apply(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if f.printConfig {
		if err := cfg.Encode(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger, err := logging.New(cfg.LogOptions())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("node exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	nodeCfg, err := cfg.NodeConfig()
	if err != nil {
		return err
	}

	metrics := monitoring.NewMetrics(cfg.Metrics.Namespace)
	n, err := node.New(nodeCfg, node.WithLogger(logger), node.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	logger.Info("starting",
		zap.String("name", Name),
		zap.String("version", Version),
		zap.String("node_id", nodeCfg.NodeID),
		zap.Stringer("p2p", n.Addr()),
	)
	if err := n.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	var httpServer *api.Server
	if cfg.HTTP.Enabled {
		httpServer, err = api.NewServer(&api.ServerConfig{
			Address:      cfg.HTTP.Listen,
			ReadTimeout:  cfg.HTTP.ReadTimeout.Duration,
			WriteTimeout: cfg.HTTP.WriteTimeout.Duration,
		}, n,
			api.WithLogger(logger),
			api.WithMetrics(api.NewMetrics(cfg.Metrics.Namespace, metrics.Registry())),
		)
		if err != nil {
			_ = n.Stop()
			return err
		}
		g.Go(httpServer.Start)
	}

	var metricsServer *monitoring.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = monitoring.NewMetricsServer(cfg.Metrics.Listen, metrics)
		g.Go(metricsServer.Start)
		logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Listen))
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var errs []error
		if httpServer != nil {
			errs = append(errs, httpServer.Stop(shutdownCtx))
		}
		if metricsServer != nil {
			errs = append(errs, metricsServer.Stop(shutdownCtx))
		}
		errs = append(errs, n.Stop())
		return errors.Join(errs...)
	})

	return g.Wait()
}
