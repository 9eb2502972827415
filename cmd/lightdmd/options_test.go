package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseOptions_Defaults(t *testing.T) { //nolint:paralleltest
	os.Clearenv()

	opts, err := parseOptions(nil)
	require.NoError(t, err)

	require.Equal(t, "/etc/lightdmd/lightdmd.conf", opts.configPath)
	require.Equal(t, "/run/lightdmd", opts.runDir)
	require.Equal(t, "/var/log/lightdmd", opts.logDir)
	require.False(t, opts.debug)
	require.False(t, opts.noDBus)
}

func TestParseOptions_Flags(t *testing.T) { //nolint:paralleltest
	os.Clearenv()

	opts, err := parseOptions([]string{
		"-config", "/tmp/lightdmd.conf",
		"-run-dir", "/tmp/run",
		"-log-dir", "/tmp/log",
		"-debug",
		"-no-dbus",
	})
	require.NoError(t, err)

	require.Equal(t, "/tmp/lightdmd.conf", opts.configPath)
	require.Equal(t, "/tmp/run", opts.runDir)
	require.Equal(t, "/tmp/log", opts.logDir)
	require.True(t, opts.debug)
	require.True(t, opts.noDBus)
}

func TestParseOptions_EnvironmentOverridesDefaults(t *testing.T) { //nolint:paralleltest
	os.Clearenv()
	os.Setenv("LIGHTDMD_CONFIG", "/env/lightdmd.conf")
	defer os.Clearenv()

	opts, err := parseOptions(nil)
	require.NoError(t, err)

	require.Equal(t, "/env/lightdmd.conf", opts.configPath)
}
