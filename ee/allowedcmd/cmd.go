// Package allowedcmd wraps access to exec.Cmd in order to consolidate path
// lookup logic for the handful of external binaries lightdmd shells out to
// (loginctl, xrdb). We mostly use hardcoded (known, safe) paths to
// executables, but make an exception to allow for looking up executable
// locations when it's not possible to know these locations in advance --
// e.g. on NixOS, we cannot know the specific store path ahead of time.
package allowedcmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
)

var ErrCommandNotFound = errors.New("command not found")

type AllowedCommand struct {
	knownPaths []string
	env        []string
}

func newAllowedCommand(knownPaths ...string) AllowedCommand {
	return AllowedCommand{
		knownPaths: knownPaths,
	}
}

func (ac AllowedCommand) WithEnv(env string) AllowedCommand {
	ac.env = append(ac.env, env)
	return ac
}

func (ac AllowedCommand) Name() string {
	if len(ac.knownPaths) == 0 {
		return "~unknown~"
	}

	return ac.knownPaths[0]
}

// Cmd resolves ac to one of its known paths, falling back to a PATH search
// only when allowSearchPath permits it, and returns an *exec.Cmd bound to
// ctx ready to run with arg.
func (ac AllowedCommand) Cmd(ctx context.Context, arg ...string) (*exec.Cmd, error) {
	for _, knownPath := range ac.knownPaths {
		knownPath = filepath.Clean(knownPath)

		if _, err := os.Stat(knownPath); err == nil {
			return ac.newCmd(ctx, knownPath, arg...), nil
		}
	}

	// Not found at a known location -- return an error unless this host
	// allows searching PATH (NixOS, where store paths can't be known ahead
	// of time).
	if !allowSearchPath() {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, ac.Name())
	}

	for _, knownPath := range ac.knownPaths {
		cmdName := filepath.Base(knownPath)
		if foundPath, err := exec.LookPath(cmdName); err == nil {
			return ac.newCmd(ctx, foundPath, arg...), nil
		}
	}

	return nil, fmt.Errorf("%w: not found at %s and could not be located elsewhere", ErrCommandNotFound, ac.Name())
}

func (ac AllowedCommand) newCmd(ctx context.Context, fullPathToCmd string, arg ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, fullPathToCmd, arg...) //nolint:forbidigo // approved usage of exec.CommandContext
	if len(ac.env) > 0 {
		cmd.Env = append(cmd.Environ(), ac.env...)
	}
	return cmd
}

func allowSearchPath() bool {
	return IsNixOS()
}

// Save results of lookup so we don't have to stat for /etc/NIXOS every time
// we want to know.
var (
	checkedIsNixOS = &atomic.Bool{}
	isNixOS        = &atomic.Bool{}
)

func IsNixOS() bool {
	if checkedIsNixOS.Load() {
		return isNixOS.Load()
	}

	if _, err := os.Stat("/etc/NIXOS"); err == nil {
		isNixOS.Store(true)
	}

	checkedIsNixOS.Store(true)
	return isNixOS.Load()
}
