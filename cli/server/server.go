// Package server contains the CLI command that runs the wallet coordination
// service.
package server

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/obytehq/walletsrv/pkg/config"
	"github.com/obytehq/walletsrv/pkg/explorer"
	"github.com/obytehq/walletsrv/pkg/hub"
	"github.com/obytehq/walletsrv/pkg/services/broker"
	"github.com/obytehq/walletsrv/pkg/services/coordinator"
	"github.com/obytehq/walletsrv/pkg/services/fiatrate"
	"github.com/obytehq/walletsrv/pkg/services/metrics"
	"github.com/obytehq/walletsrv/pkg/services/monitor"
	"github.com/obytehq/walletsrv/pkg/services/rest"
	"github.com/obytehq/walletsrv/pkg/storage"
	"github.com/urfave/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewCommands returns the server command set.
func NewCommands() []cli.Command {
	return []cli.Command{
		{
			Name:   "server",
			Usage:  "start the wallet coordination service",
			Action: startServer,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "config-path, c",
					Usage: "path to the YAML configuration file",
				},
				cli.BoolFlag{
					Name:  "debug, d",
					Usage: "enable debug logging regardless of the configured level",
				},
			},
		},
	}
}

// handleLoggingParams builds a production zap logger honouring the
// configured level and the debug override.
func handleLoggingParams(ctx *cli.Context, cfg config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.LogLevel != "" {
		var err error
		level, err = zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log setting: %w", err)
		}
	}
	if ctx.Bool("debug") {
		level = zapcore.DebugLevel
	}
	cc := zap.NewProductionConfig()
	cc.DisableCaller = true
	cc.DisableStacktrace = true
	cc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cc.Encoding = "console"
	cc.Level = zap.NewAtomicLevelAt(level)
	return cc.Build()
}

func startServer(ctx *cli.Context) error {
	cfgPath := ctx.String("config-path")
	if cfgPath == "" {
		return cli.NewExitError("config-path is required", 1)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	log, err := handleLoggingParams(ctx, cfg)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer func() { _ = log.Sync() }()

	store, err := storage.NewStore(cfg.DB)
	if err != nil {
		return cli.NewExitError(fmt.Errorf("could not initialize storage: %w", err), 1)
	}
	defer store.Close()
	dao, err := storage.NewDAO(store)
	if err != nil {
		return cli.NewExitError(fmt.Errorf("could not initialize DAO: %w", err), 1)
	}

	expl := explorer.NewHTTPClient(cfg.Explorer, log)
	hubClient := hub.NewWSClient(cfg.Hub, log)
	msgBroker := broker.New(log)

	engine, err := coordinator.New(coordinator.Options{
		Config:   cfg.Wallet,
		Logger:   log,
		DAO:      dao,
		Explorer: expl,
		Hub:      hubClient,
		Broker:   msgBroker,
	})
	if err != nil {
		return cli.NewExitError(fmt.Errorf("could not initialize engine: %w", err), 1)
	}

	mon := monitor.New(cfg.Monitor, log, engine, hubClient, expl, msgBroker)
	api := rest.New(cfg, log, engine)
	prometheus := metrics.NewPrometheusService(cfg.Prometheus, log)
	pprof := metrics.NewPprofService(cfg.Pprof, log)

	var rates *fiatrate.Service
	if cfg.FiatRates.Enabled {
		rates = fiatrate.New(cfg.FiatRates, log, dao, nil, nil)
	}

	log.Info("starting service", zap.String("network", cfg.Network))
	hubClient.Start()
	if cfg.Monitor.Enabled {
		mon.Start()
	}
	if rates != nil {
		rates.Start()
	}
	api.Start()
	prometheus.Start()
	pprof.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down service", zap.Stringer("signal", sig))

	api.Shutdown()
	if cfg.Monitor.Enabled {
		mon.Shutdown()
	}
	if rates != nil {
		rates.Shutdown()
	}
	hubClient.Shutdown()
	msgBroker.Shutdown()
	pprof.ShutDown()
	prometheus.ShutDown()
	return nil
}
