package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lightdm-go/lightdmd/internal/identity"
	"github.com/lightdm-go/lightdmd/internal/xauth"
	"github.com/stretchr/testify/require"
)

func testIdentity(t *testing.T) identity.Identity {
	t.Helper()
	home := t.TempDir()
	return identity.Identity{
		UID:   uint32(os.Getuid()),
		GID:   uint32(os.Getgid()),
		Name:  "testuser",
		Home:  home,
		Shell: "/bin/sh",
		Gecos: "Test User",
	}
}

func TestEnvBase_ContainsInvariantFields(t *testing.T) {
	id := testIdentity(t)
	env := envBase(id, ClassUser, TypeX11, "seat0", 7)

	require.Equal(t, id.Name, env["USER"])
	require.Equal(t, id.Name, env["LOGNAME"])
	require.Equal(t, id.Home, env["HOME"])
	require.Equal(t, id.Shell, env["SHELL"])
	require.Equal(t, "user", env["XDG_SESSION_CLASS"])
	require.Equal(t, "x11", env["XDG_SESSION_TYPE"])
	require.Equal(t, "seat0", env["XDG_SEAT"])
	require.Equal(t, "7", env["XDG_VTNR"])
}

func TestEnvBase_OmitsVTNRWhenZero(t *testing.T) {
	id := testIdentity(t)
	env := envBase(id, ClassGreeter, TypeX11, "seat0", 0)
	_, ok := env["XDG_VTNR"]
	require.False(t, ok)
}

func TestUserSession_PrepareMergesPamEnvOverBase(t *testing.T) {
	id := testIdentity(t)
	s := NewUserSession(id, nil, nil)

	cookie, err := xauth.NewCookie()
	require.NoError(t, err)
	f := &xauth.File{Path: filepath.Join(t.TempDir(), ".Xauthority"), Cookie: cookie, DisplayNo: "0"}

	err = s.Prepare([]string{"/bin/true"}, ClassUser, TypeX11, "seat0", 1, f, map[string]string{"HOME": "/override", "XDG_CURRENT_DESKTOP": "GNOME"}, "gnome")
	require.NoError(t, err)

	require.Equal(t, "/override", s.Env["HOME"])
	require.Equal(t, "GNOME", s.Env["XDG_CURRENT_DESKTOP"])
	require.Equal(t, ":0", s.Env["DISPLAY"])
	require.Equal(t, f.Path, s.Env["XAUTHORITY"])
}

func TestUserSession_PrepareWritesDmrc(t *testing.T) {
	id := testIdentity(t)
	s := NewUserSession(id, nil, nil)

	err := s.Prepare([]string{"/bin/true"}, ClassUser, TypeX11, "seat0", 1, nil, nil, "gnome")
	require.NoError(t, err)

	contents, err := os.ReadFile(filepath.Join(id.Home, ".dmrc"))
	require.NoError(t, err)
	require.Contains(t, string(contents), "Session=gnome")
}

type fakeTracker struct {
	registered bool
	released   bool
}

func (f *fakeTracker) Register(ctx context.Context, uid uint32, seat string, vtnr int) (string, error) {
	f.registered = true
	return "sess-1", nil
}

func (f *fakeTracker) Release(ctx context.Context, sessionID string) error {
	f.released = true
	return nil
}

func TestUserSession_StartAndStop_RegistersAndReleasesTracker(t *testing.T) {
	id := testIdentity(t)
	tracker := &fakeTracker{}
	s := NewUserSession(id, tracker, nil)

	require.NoError(t, s.Prepare([]string{"/bin/sh", "-c", "sleep 5"}, ClassUser, TypeX11, "seat0", 1, nil, nil, ""))
	require.NoError(t, s.Start(filepath.Join(t.TempDir(), "session.log"), "seat0", 1))
	require.True(t, tracker.registered)

	require.NoError(t, s.Stop())
	require.True(t, tracker.released)
}

func TestGreeterSession_StartWiresPipes(t *testing.T) {
	id := testIdentity(t)
	g := NewGreeterSession(id, nil)
	g.Prepare(ClassGreeter, TypeX11, "seat0", 1, nil, filepath.Join(t.TempDir(), "greeter.sock"))

	err := g.Start([]string{"/bin/sh", "-c", "exit 0"}, t.TempDir(), filepath.Join(t.TempDir(), "greeter.log"))
	require.NoError(t, err)
	require.NotNil(t, g.ToServer())
	require.NotNil(t, g.FromServer())

	select {
	case <-g.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("greeter child did not exit in time")
	}

	require.NoError(t, g.Stop())
}
