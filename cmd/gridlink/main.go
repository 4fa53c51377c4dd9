package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/shaunagostinho/gridlink/internal/eventlog"
	"github.com/shaunagostinho/gridlink/internal/grid"
	"github.com/shaunagostinho/gridlink/internal/link"
	"github.com/shaunagostinho/gridlink/internal/logging"
	"github.com/shaunagostinho/gridlink/internal/server"
)

func main() {
	configPath := flag.String("config", server.DefaultConfigPath, "Path to config file")
	demo := flag.Bool("demo", false, "Use the simulated light controller instead of a serial port")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	if err := run(*configPath, *demo, *listenAddr); err != nil {
		fmt.Fprintf(os.Stderr, "gridlink: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, demo bool, listenAddr string) (err error) {
	// The config is loaded before the real logger exists.
	bootLog, err := zap.NewProduction()
	if err != nil {
		bootLog = zap.NewNop()
	}
	cfg, err := server.LoadConfig(configPath, bootLog)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	_ = bootLog.Sync()

	if demo {
		cfg.Link.Type = server.LinkDemo
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		// stderr/stdout syncers report EINVAL on terminals
		if serr := logger.Sync(); serr != nil && !errors.Is(serr, syscall.EINVAL) && !errors.Is(serr, syscall.ENOTTY) {
			err = multierr.Append(err, serr)
		}
	}()
	log := logger.With(zap.String("component", "main"))
	log.Info("gridlink starting",
		zap.String("config", configPath),
		zap.String("link_type", cfg.Link.Type),
		zap.String("listen_addr", cfg.Server.ListenAddr),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var acq link.Acquirer
	switch cfg.Link.Type {
	case server.LinkDemo:
		acq = link.NewDemoAcquirer(link.DemoConfig{
			Lights:        cfg.Board.NumLights,
			Interval:      time.Duration(cfg.Link.Demo.IntervalMs) * time.Millisecond,
			FaultDuration: time.Duration(cfg.Link.Demo.FaultDurationMs) * time.Millisecond,
		})
	default:
		acq = &link.SerialAcquirer{PortPath: cfg.Link.PortPath}
	}

	mgr := link.NewManager(acq, logger,
		link.WithBaudRate(cfg.Link.BaudRate),
		link.WithReadTimeout(time.Duration(cfg.Link.ReadTimeoutMs)*time.Millisecond),
	)
	board := grid.NewBoard(cfg.Board.NumLights, cfg.Board.MaxEvents)
	events := eventlog.New(cfg.EventLog, logger)

	srv := server.New(cfg, mgr, board, events, logger)
	runErr := srv.Run(ctx)
	if runErr != nil {
		log.Error("Server exited", zap.Error(runErr))
	}

	log.Info("Shutting down")
	srv.Disconnect()
	return multierr.Combine(runErr, events.Close())
}
