// Package main is the entry point for the machine monitor.
// It loads configuration, pre-fills every machine's history, starts the
// generation scheduler, the Prometheus exporter and the HTTP/WebSocket API,
// and shuts them all down on SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Guliveer/vitalis/monitor/internal/analysis"
	"github.com/Guliveer/vitalis/monitor/internal/api"
	"github.com/Guliveer/vitalis/monitor/internal/collector"
	"github.com/Guliveer/vitalis/monitor/internal/config"
	"github.com/Guliveer/vitalis/monitor/internal/exporter"
	"github.com/Guliveer/vitalis/monitor/internal/generator"
	"github.com/Guliveer/vitalis/monitor/internal/models"
	"github.com/Guliveer/vitalis/monitor/internal/publisher"
	"github.com/Guliveer/vitalis/monitor/internal/scheduler"
	"github.com/Guliveer/vitalis/monitor/internal/store"
)

// prefillReadings is the history every machine starts with.
const prefillReadings = 10

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath  = pflag.StringP("config", "c", "", "Path to configuration file (default: search standard locations)")
	dumpConfig  = pflag.String("dump-config", "", "Write the effective configuration to this path and exit")
	showVersion = pflag.Bool("version", false, "Show version and exit")
	addr        = pflag.String("addr", "", "API listen address")
	machines    = pflag.Int("machines", 0, "Number of simulated machines")
	interval    = pflag.Duration("interval", 0, "Reading generation interval")
	logLevel    = pflag.String("log-level", "", "Log level (debug, info, warn, error)")
)

func main() {
	pflag.Parse()

	if *showVersion {
		fmt.Printf("machine-monitor %s\n", version)
		os.Exit(0)
	}

	path := *configPath
	if path == "" {
		path = config.Locate()
	}

	cfg, err := config.LoadLayered(config.CLIOverrides{
		Addr:     *addr,
		Machines: *machines,
		Interval: *interval,
		LogLevel: *logLevel,
	}, embeddedConfig, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *dumpConfig != "" {
		if err := config.WriteConfig(cfg, *dumpConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting machine monitor",
		zap.String("version", version),
		zap.String("config", path),
		zap.Int("machines", cfg.Monitor.Machines))

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run(ctx, cfg, logger)
	logger.Info("Monitor stopped")
}

// run wires all components and blocks until ctx is cancelled and every
// component has stopped.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := store.New(cfg.MachineIDs(), cfg.Monitor.HistorySize)
	gen := generator.New(generator.Baselines{
		Profiles: cfg.Baselines,
		Default:  cfg.DefaultBaseline,
	}, time.Now().UnixNano())
	engine := analysis.New(analysis.Options{
		Contamination: cfg.Monitor.Contamination,
		Trees:         cfg.Monitor.Trees,
		Seed:          cfg.Monitor.Seed,
	}, logger.Named("analysis"))

	exp, err := exporter.New(prometheus.NewRegistry())
	if err != nil {
		logger.Fatal("Failed to create metrics exporter", zap.Error(err))
	}

	sched := scheduler.New(st, gen, exp, cfg.Monitor.Interval.Duration, logger.Named("scheduler"))

	var wg sync.WaitGroup
	start := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
			logger.Debug("Component stopped", zap.String("component", name))
		}()
	}

	if cfg.Publisher.URL != "" {
		pub := publisher.New(cfg.Publisher, logger.Named("publisher"))
		sched.OnBatchReady(func(batch []models.Reading) {
			pub.Enqueue(batch)
		})
		start("publisher", func() { pub.Run(ctx) })
		logger.Info("Publishing readings", zap.String("url", cfg.Publisher.URL), zap.String("topic", cfg.Publisher.Topic))
	}

	sched.Prefill(prefillReadings)

	ln, err := exporter.Listen(cfg.Server.MetricsAddr)
	if err != nil {
		logger.Error("Metrics exporter disabled", zap.Error(err))
	} else {
		start("exporter", func() {
			if err := exp.Serve(ctx, ln, logger.Named("exporter")); err != nil {
				logger.Error("Metrics exporter failed", zap.Error(err))
			}
		})
	}

	hosts := collector.NewRegistry(logger.Named("collector"))
	hosts.Register(collector.NewHostInfoCollector())
	hosts.Register(collector.NewCPUCollector(500 * time.Millisecond))
	hosts.Register(collector.NewMemoryCollector())
	hosts.Register(collector.NewTemperatureCollector(logger.Named("collector")))

	srv := api.New(st, sched, engine, hosts, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StreamInterval: cfg.Monitor.StreamInterval.Duration,
	}, logger.Named("api"))
	start("api", func() {
		if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
			logger.Error("API server failed", zap.Error(err))
			cancel()
		}
	})

	logger.Info("Monitor running",
		zap.Duration("interval", cfg.Monitor.Interval.Duration),
		zap.Int("history_size", cfg.Monitor.HistorySize))
	sched.Start(ctx)

	wg.Wait()
}

// initLogger creates a zap logger based on the configuration.
// It outputs to both console (human-readable) and optionally a JSON log file.
func initLogger(cfg *config.Config) *zap.Logger {
	var level zapcore.Level
	switch cfg.Logging.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			level,
		),
	}

	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			cores = append(cores, zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			))
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}
