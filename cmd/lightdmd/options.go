package main

import (
	"flag"

	"github.com/peterbourgon/ff/v3"
)

// options are the daemon's command-line/environment-configurable
// settings, separate from the INI file internal/config parses (that file
// governs seats; these flags govern where the daemon looks for it and how
// it runs). Adapted from cmd/launcher/options.go's flagset+ff.Parse shape.
type options struct {
	configPath string
	runDir     string
	logDir     string
	debug      bool
	noDBus     bool
}

func parseOptions(args []string) (*options, error) {
	flagset := flag.NewFlagSet("lightdmd", flag.ExitOnError)

	var (
		flConfig = flagset.String("config", "/etc/lightdmd/lightdmd.conf", "path to the lightdmd INI configuration file")
		flRunDir = flagset.String("run-dir", "/run/lightdmd", "directory for sockets, Xauthority files, and other runtime state")
		flLogDir = flagset.String("log-dir", "/var/log/lightdmd", "directory for per-display and per-session log files")
		flDebug  = flagset.Bool("debug", false, "enable debug-level logging")
		flNoDBus = flagset.Bool("no-dbus", false, "do not publish the org.freedesktop.DisplayManager D-Bus surface")
	)

	if err := ff.Parse(flagset, args, ff.WithEnvVarPrefix("LIGHTDMD")); err != nil {
		return nil, err
	}

	return &options{
		configPath: *flConfig,
		runDir:     *flRunDir,
		logDir:     *flLogDir,
		debug:      *flDebug,
		noDBus:     *flNoDBus,
	}, nil
}
