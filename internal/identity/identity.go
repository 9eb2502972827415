// Package identity resolves host user records and the set of graphical
// console sessions currently logged in, the two pieces of host state the
// rest of lightdmd treats as ground truth for "who is this seat's user".
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os/user"
	"strconv"
	"strings"

	"github.com/lightdm-go/lightdmd/ee/allowedcmd"
)

// Identity is the resolved host identity of a session's target user.
// uid == 0 is never a valid target identity.
type Identity struct {
	UID   uint32
	GID   uint32
	Name  string
	Home  string
	Shell string
	Gecos string
}

// ErrRootTarget is returned by Lookup when asked to resolve uid 0.
var ErrRootTarget = fmt.Errorf("identity: uid 0 is never a valid session target")

// Lookup resolves name from the host user database.
func Lookup(name string) (Identity, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: looking up %q: %w", name, err)
	}
	return fromOSUser(u)
}

// LookupUID resolves uid from the host user database.
func LookupUID(uid uint32) (Identity, error) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return Identity{}, fmt.Errorf("identity: looking up uid %d: %w", uid, err)
	}
	return fromOSUser(u)
}

func fromOSUser(u *user.User) (Identity, error) {
	uid64, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: parsing uid %q: %w", u.Uid, err)
	}
	gid64, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: parsing gid %q: %w", u.Gid, err)
	}
	if uid64 == 0 {
		return Identity{}, ErrRootTarget
	}

	// /etc/passwd's gecos field often carries "Full Name,,,," -- user.User
	// only exposes the first comma-delimited component as Name. Shell isn't
	// exposed by os/user at all, so read it directly.
	shell := lookupShell(u.Username)

	return Identity{
		UID:   uint32(uid64),
		GID:   uint32(gid64),
		Name:  u.Username,
		Home:  u.HomeDir,
		Shell: shell,
		Gecos: u.Name,
	}, nil
}

// ConsoleUser is one active graphical (seat-bearing) login session.
type ConsoleUser struct {
	UID     uint32
	Session string
	Seat    string
}

type loginctlSession struct {
	Session string `json:"session"`
	UID     int    `json:"uid"`
	Seat    string `json:"seat"`
}

// CurrentConsoleUsers lists the uids of users with an active graphical
// session on some seat, via loginctl.
func CurrentConsoleUsers(ctx context.Context) ([]ConsoleUser, error) {
	listCmd, err := allowedcmd.Loginctl.Cmd(ctx, "list-sessions", "--no-legend", "--no-pager", "--output=json")
	if err != nil {
		return nil, fmt.Errorf("identity: resolving loginctl: %w", err)
	}
	output, err := listCmd.Output()
	if err != nil {
		return nil, fmt.Errorf("identity: loginctl list-sessions: %w", err)
	}

	var sessions []loginctlSession
	if err := json.Unmarshal(output, &sessions); err != nil {
		return nil, fmt.Errorf("identity: parsing loginctl list-sessions output: %w", err)
	}

	var users []ConsoleUser
	for _, s := range sessions {
		if s.Seat == "" {
			// Not a graphical session.
			continue
		}

		activeCmd, err := allowedcmd.Loginctl.Cmd(ctx, "show-session", s.Session, "--value", "--property=Active")
		if err != nil {
			return nil, fmt.Errorf("identity: resolving loginctl: %w", err)
		}
		activeOut, err := activeCmd.Output()
		if err != nil {
			return nil, fmt.Errorf("identity: loginctl show-session %s: %w", s.Session, err)
		}
		if strings.TrimSpace(string(activeOut)) != "yes" {
			continue
		}

		users = append(users, ConsoleUser{UID: uint32(s.UID), Session: s.Session, Seat: s.Seat})
	}

	return users, nil
}
