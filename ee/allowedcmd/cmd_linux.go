//go:build linux

package allowedcmd

// Loginctl backs the systemd-logind session queries in internal/identity
// (CurrentConsoleUsers).
var Loginctl = newAllowedCommand("/usr/bin/loginctl", "/bin/loginctl")

// Xrdb resolves the xrdb binary, which merges a user's X resource
// database; no code path in lightdmd runs it.
var Xrdb = newAllowedCommand("/usr/bin/xrdb")
