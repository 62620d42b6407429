// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/anselor/ankermake-m5-protocol/internal/config"
	"github.com/anselor/ankermake-m5-protocol/internal/logging"
	"github.com/anselor/ankermake-m5-protocol/internal/pppp"
	"github.com/anselor/ankermake-m5-protocol/internal/service"
	"github.com/anselor/ankermake-m5-protocol/internal/transfer"
	"github.com/anselor/ankermake-m5-protocol/internal/wire"
)

const defaultConfigPath = "/etc/pppp-agent.yaml"

// countFlag implements flag.Value, incrementing once per occurrence —
// the Go equivalent of argparse's action='count', used for -v/--verbose.
type countFlag int

func (c *countFlag) String() string { return strconv.Itoa(int(*c)) }
func (c *countFlag) Set(string) error {
	*c++
	return nil
}

func main() {
	var verbose countFlag
	flag.Var(&verbose, "v", "increase verbosity (repeatable)")
	flag.Var(&verbose, "verbose", "increase verbosity (repeatable)")

	var printerIndex int
	flag.IntVar(&printerIndex, "p", 0, "printer index")
	flag.IntVar(&printerIndex, "printer", 0, "printer index")

	var rate float64
	flag.Float64Var(&rate, "r", transfer.DefaultRateMbps, "upload rate limit in Mbps")
	flag.Float64Var(&rate, "rate", transfer.DefaultRateMbps, "upload rate limit in Mbps")

	var configPath string
	flag.StringVar(&configPath, "c", defaultConfigPath, "path to config file")
	flag.StringVar(&configPath, "config", defaultConfigPath, "path to config file")

	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: pppp-transfer [flags] FILENAME")
		os.Exit(1)
	}
	filename := flag.Arg(0)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Logging.Level
	if verbose >= 1 {
		// Both -v and -vv collapse to the same debug level: this
		// system keeps one info/debug split, not the original's
		// VERBOSE/DEBUG/TRACE ladder (see internal/logging.LevelCritical's
		// doc comment).
		level = "debug"
	}
	logger, logCloser := logging.NewCLILogger(level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	if printerIndex < 0 || printerIndex >= len(cfg.Printers) {
		fmt.Fprintf(os.Stderr, "printer index %d out of range [0,%d)\n", printerIndex, len(cfg.Printers))
		os.Exit(1)
	}
	printer := cfg.Printers[printerIndex]

	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", filename, err)
		os.Exit(1)
	}

	// user_id/machine_id have no real source on this CLI tool, so they
	// carry the same "-" placeholder the original test harness passes;
	// user_name comes from the OS login, matching send_file's required
	// caller-supplied identity.
	userName := "-"
	if u, err := user.Current(); err == nil && u.Username != "" {
		userName = u.Username
	}
	fui := transfer.NewFileUploadInfo(filepath.Base(filename), data, userName, "-", "-")
	logger.Info("uploading file", "name", fui.Name, "size", fui.Size, "printer", printer.Name)
	logger.Debug("file digest", "md5", fui.MD5)

	duid := wire.DuidFromString(printer.P2PDuid)
	svc := pppp.New(pppp.Config{Duid: duid, PrinterIP: printer.IPAddr}, logger)

	runner := service.NewRunner(svc, logger, pppp.HeartbeatInterval,
		service.NewBackoff(pppp.BackoffInitial, pppp.BackoffMax).WithIdleReset(pppp.MaxRetryInterval))
	runner.Start()
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		runner.Stop(stopCtx)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), pppp.HandshakeDeadline)
	defer cancel()

	if err := transfer.SendFile(ctx, svc, fui, data, rate); err != nil {
		// A failed transfer is the standalone tool's unrecoverable case
		// (spec.md §6/§7): log at critical, which exits the process with
		// code 127 via the CLI logger's supervisor trap.
		logger.Log(ctx, logging.LevelCritical, "transfer failed", "error", err)
		return
	}

	logger.Info("transfer complete")
}
