package daemon

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lightdm-go/lightdmd/internal/config"
	"github.com/lightdm-go/lightdmd/internal/identity"
)

func fakeIdentity(username string) (identity.Identity, error) {
	return identity.Identity{Name: username, UID: 999, GID: 999, Home: "/var/lib/lightdm"}, nil
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		RunDir:          t.TempDir(),
		LogDir:          t.TempDir(),
		ResolveIdentity: fakeIdentity,
	}
}

func TestNew_CreatesDefaultSeatWhenConfigHasNone(t *testing.T) {
	cfg := &config.Config{SeatDefaults: config.SeatDefaults{XServerCommand: "/usr/bin/X"}}

	root, err := New(cfg, testOptions(t))
	require.NoError(t, err)

	_, ok := root.Seat("seat0")
	require.True(t, ok)
}

func TestNew_CreatesOneSeatPerConfiguredSection(t *testing.T) {
	cfg := &config.Config{
		SeatDefaults: config.SeatDefaults{XServerCommand: "/usr/bin/X"},
		Seats: []config.SeatConfig{
			{Name: "seat0", SeatDefaults: config.SeatDefaults{XServerCommand: "/usr/bin/X"}},
			{Name: "seat1", SeatDefaults: config.SeatDefaults{XServerCommand: "/usr/bin/X"}},
		},
	}

	root, err := New(cfg, testOptions(t))
	require.NoError(t, err)

	_, ok0 := root.Seat("seat0")
	_, ok1 := root.Seat("seat1")
	require.True(t, ok0)
	require.True(t, ok1)
}

func TestNew_PropagatesGreeterIdentityResolutionError(t *testing.T) {
	cfg := &config.Config{SeatDefaults: config.SeatDefaults{XServerCommand: "/usr/bin/X"}}
	opts := testOptions(t)
	opts.ResolveIdentity = func(string) (identity.Identity, error) {
		return identity.Identity{}, errors.New("no such user")
	}

	_, err := New(cfg, opts)
	require.Error(t, err)
}

func TestSeat_UnknownNameReturnsFalse(t *testing.T) {
	cfg := &config.Config{SeatDefaults: config.SeatDefaults{XServerCommand: "/usr/bin/X"}}

	root, err := New(cfg, testOptions(t))
	require.NoError(t, err)

	_, ok := root.Seat("seat-nonexistent")
	require.False(t, ok)
}
