// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anselor/ankermake-m5-protocol/internal/config"
	"github.com/anselor/ankermake-m5-protocol/internal/dumparchive"
	"github.com/anselor/ankermake-m5-protocol/internal/logging"
	"github.com/anselor/ankermake-m5-protocol/internal/monitor"
	"github.com/anselor/ankermake-m5-protocol/internal/pppp"
	"github.com/anselor/ankermake-m5-protocol/internal/service"
	"github.com/anselor/ankermake-m5-protocol/internal/video"
	"github.com/anselor/ankermake-m5-protocol/internal/wire"
)

func main() {
	configPath := flag.String("config", "/etc/pppp-agent.yaml", "path to agent config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	if err := runDaemon(*configPath, cfg, logger); err != nil {
		logger.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

// workerSet is everything runDaemon needs to tear down and rebuild on a
// SIGHUP reload: the P2P service and one service.Runner per supervised
// worker (components D, F, I, J).
type workerSet struct {
	pppSvc  *pppp.PPPPService
	logger  *slog.Logger
	runners []*service.Runner
}

// buildWorkers wires components D (pppp), F (video), I (dump archiver,
// when enabled), and J (system monitor) into their own supervised
// runners, mirroring cmd/pppp-agent's responsibility (spec.md §6 NEW:
// "wiring D, F, I, J under one service.Runner set").
func buildWorkers(cfg *config.Config, logger *slog.Logger) (*workerSet, error) {
	printer := cfg.ActivePrinter()
	duid := wire.DuidFromString(printer.P2PDuid)

	pppSvc := pppp.New(pppp.Config{
		Duid:      duid,
		PrinterIP: printer.IPAddr,
		DumpPath:  cfg.PPPPDump,
	}, logger)

	videoSvc := video.New(video.Config{
		// The original implementation sends these as literal placeholder
		// strings, not real per-printer secrets (web/service/video.py).
		EncryptKey: "x",
		AccountID:  "y",
	}, pppSvc, logger)

	archiver, err := dumparchive.NewFromConfig(context.Background(), cfg.DumpArchive, pppSvc.DumpWriter, logger)
	if err != nil {
		return nil, fmt.Errorf("building dump archiver: %w", err)
	}

	mon := monitor.New(logger, "/")

	runners := []*service.Runner{
		service.NewRunner(pppSvc, logger, pppp.HeartbeatInterval,
			service.NewBackoff(pppp.BackoffInitial, pppp.BackoffMax).WithIdleReset(pppp.MaxRetryInterval)),
		service.NewRunner(videoSvc, logger, video.FrameRateCheckInterval,
			service.NewBackoff(2*time.Second, 30*time.Second)),
		service.NewRunner(mon, logger, monitor.Interval,
			service.NewBackoff(2*time.Second, 30*time.Second)),
	}
	if archiver != nil {
		runners = append(runners, service.NewRunner(archiver, logger, 5*time.Second,
			service.NewBackoff(2*time.Second, 30*time.Second)))
	}

	return &workerSet{pppSvc: pppSvc, logger: logger, runners: runners}, nil
}

func (ws *workerSet) start() {
	for _, r := range ws.runners {
		r.Start()
	}
}

// stop asks every runner to stop against the same ctx; one slow worker
// logs a warning but never blocks the rest from being asked to stop.
func (ws *workerSet) stop(ctx context.Context) {
	for _, r := range ws.runners {
		if err := r.Stop(ctx); err != nil {
			ws.logger.Warn("worker did not stop cleanly", "error", err)
		}
	}
}

// runDaemon starts every supervised worker and blocks until SIGTERM or
// SIGINT. On SIGHUP it reloads the configuration, stops every worker,
// then rebuilds and restarts them — the same three-signal shape as
// internal/agent/daemon.go's RunDaemon.
func runDaemon(configPath string, cfg *config.Config, logger *slog.Logger) error {
	printer := cfg.ActivePrinter()
	logger.Info("starting daemon", "printer", printer.Name)

	ws, err := buildWorkers(cfg, logger)
	if err != nil {
		return fmt.Errorf("building workers: %w", err)
	}
	ws.start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for {
		sig := <-sigCh

		if sig == syscall.SIGHUP {
			logger.Info("received SIGHUP, reloading config", "path", configPath)

			newCfg, loadErr := config.Load(configPath)
			if loadErr != nil {
				logger.Error("reload failed, keeping current config", "error", loadErr)
				continue
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			ws.stop(stopCtx)
			stopCancel()

			cfg = newCfg
			ws, err = buildWorkers(cfg, logger)
			if err != nil {
				logger.Error("failed to rebuild workers after reload", "error", err)
				return fmt.Errorf("reload workers: %w", err)
			}
			ws.start()

			logger.Info("config reloaded successfully", "printer", cfg.ActivePrinter().Name)
			continue
		}

		logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		ws.stop(ctx)
		cancel()
		return nil
	}
}
