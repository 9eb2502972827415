// Command lightdmd is the login/display manager daemon: it reads the INI
// configuration file internal/config parses, brings up one internal/seat.Seat
// per configured seat, and optionally publishes the
// org.freedesktop.DisplayManager D-Bus surface dm-toolctl and other admin
// tools talk to.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/godbus/dbus/v5"

	"github.com/lightdm-go/lightdmd/internal/config"
	"github.com/lightdm-go/lightdmd/internal/daemon"
	"github.com/lightdm-go/lightdmd/internal/daemonlog"
	"github.com/lightdm-go/lightdmd/internal/rungroup"
	"github.com/lightdm-go/lightdmd/internal/sessiontracker"
)

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, ring := buildLogger(opts)

	if err := run(opts, logger, ring); err != nil {
		logger.Error("lightdmd exiting", "err", err)
		os.Exit(1)
	}
}

func buildLogger(opts *options) (*slog.Logger, *daemonlog.Ring) {
	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}

	ring := daemonlog.NewRing(1000)
	ml := daemonlog.New(
		daemonlog.NewFileHandler(filepath.Join(opts.logDir, "lightdmd.log"), level),
		ring.Handler(&slog.HandlerOptions{Level: level}),
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	)
	return ml.Logger, ring
}

func run(opts *options, logger *slog.Logger, ring *daemonlog.Ring) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	for _, dir := range []string{opts.runDir, opts.logDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	daemonOpts := daemon.Options{
		RunDir:  opts.runDir,
		LogDir:  opts.logDir,
		Logger:  logger,
		LogRing: ring,
	}

	if !opts.noDBus {
		if conn, err := dbus.ConnectSystemBus(); err != nil {
			logger.Warn("no system bus reachable, running without the D-Bus admin surface", "err", err)
		} else {
			defer conn.Close()
			daemonOpts.DBusConn = conn
		}
	}

	if tracker, err := sessiontracker.Connect(logger); err != nil {
		logger.Warn("logind not reachable, sessions will not be registered", "err", err)
	} else {
		defer tracker.Close()
		daemonOpts.Tracker = tracker
	}

	root, err := daemon.New(cfg, daemonOpts)
	if err != nil {
		return fmt.Errorf("building daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group := rungroup.NewRunGroup()
	group.SetSlogger(logger)

	sigChannel := make(chan os.Signal, 1)
	listener := newSignalListener(sigChannel, cancel, logger)
	group.Add("signal-listener", listener.Execute, listener.Interrupt)

	group.Add("daemon", func() error {
		return root.Run(ctx)
	}, func(error) { cancel() })

	return group.Run()
}
