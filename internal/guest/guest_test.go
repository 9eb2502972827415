package guest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guest-account.sh")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0755))
	return path
}

func TestAdd_ReturnsUsername(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\necho guest-0001\n")
	h := New(script)

	username, err := h.Add(context.Background())
	require.NoError(t, err)
	require.Equal(t, "guest-0001", username)
}

func TestAdd_PropagatesNonZeroExit(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\nexit 1\n")
	h := New(script)

	_, err := h.Add(context.Background())
	require.Error(t, err)
}

func TestAdd_RejectsEmptyOutput(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\nexit 0\n")
	h := New(script)

	_, err := h.Add(context.Background())
	require.Error(t, err)
}

func TestRemove_PropagatesNonZeroExit(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\n[ \"$1\" = remove ] && exit 3\n")
	h := New(script)

	err := h.Remove(context.Background(), "guest-0001")
	require.Error(t, err)
}

func TestRemove_Succeeds(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\nexit 0\n")
	h := New(script)

	require.NoError(t, h.Remove(context.Background(), "guest-0001"))
}

func TestHelper_NoScriptConfigured(t *testing.T) {
	h := New("")
	_, err := h.Add(context.Background())
	require.Error(t, err)
	require.Error(t, h.Remove(context.Background(), "x"))
}
