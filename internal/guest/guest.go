// Package guest invokes the configured guest-account provisioning
// script: "$script add" prints a new username on stdout and exits 0;
// "$script remove $username" removes it. Any non-zero exit aborts guest
// login. Grounded on ee/allowedcmd's known-path/context-bounded
// command-wrapping shape, generalized from a fixed allowlist to one
// operator-configured script path.
package guest

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Helper wraps one guest-account-script.
type Helper struct {
	script string
}

// New wraps script, the guest-account-script config key.
func New(script string) *Helper {
	return &Helper{script: script}
}

// Add provisions a new transient guest account and returns its username.
func (h *Helper) Add(ctx context.Context) (string, error) {
	if h.script == "" {
		return "", fmt.Errorf("guest: no guest-account-script configured")
	}

	out, err := exec.CommandContext(ctx, h.script, "add").Output()
	if err != nil {
		return "", fmt.Errorf("guest: %s add: %w", h.script, err)
	}

	username := strings.TrimSpace(string(out))
	if username == "" {
		return "", fmt.Errorf("guest: %s add produced no username", h.script)
	}

	return username, nil
}

// Remove tears down a guest account previously created by Add.
func (h *Helper) Remove(ctx context.Context, username string) error {
	if h.script == "" {
		return fmt.Errorf("guest: no guest-account-script configured")
	}

	if err := exec.CommandContext(ctx, h.script, "remove", username).Run(); err != nil {
		return fmt.Errorf("guest: %s remove %s: %w", h.script, username, err)
	}

	return nil
}
