package xauth

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".Xauthority")

	cookie, err := NewCookie()
	require.NoError(t, err)

	uid := uint32(os.Getuid())
	gid := uint32(os.Getgid())

	f, err := Write(path, "0", cookie, uid, gid)
	require.NoError(t, err)
	require.Equal(t, path, f.Path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, cookie, got.Cookie)
	require.Equal(t, "0", got.DisplayNo)
}

func TestWriteOwnership(t *testing.T) {
	if syscall.Getuid() != 0 {
		t.Skip("skipping -- chown to an arbitrary uid requires root")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, ".Xauthority")

	cookie, err := NewCookie()
	require.NoError(t, err)

	f, err := Write(path, "7", cookie, 65534, 65534)
	require.NoError(t, err)
	require.Equal(t, uint32(65534), f.OwnerUID)

	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, uint32(65534), got.OwnerUID)
}

func TestRemoveIsBestEffort(t *testing.T) {
	require.NoError(t, Remove(nil))
	require.NoError(t, Remove(&File{Path: filepath.Join(t.TempDir(), "missing")}))
}
