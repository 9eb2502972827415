package childproc

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawn_ExitCodeDelivered(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "child.log")
	p, err := Spawn(Spec{
		Argv:    []string{"/bin/sh", "-c", "exit 7"},
		Env:     os.Environ(),
		Cwd:     t.TempDir(),
		UID:     uint32(os.Getuid()),
		GID:     uint32(os.Getgid()),
		LogPath: logPath,
	})
	require.NoError(t, err)

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit in time")
	}

	var exitErr *exec.ExitError
	require.ErrorAs(t, p.ExitErr(), &exitErr)
	require.Equal(t, 7, exitErr.ExitCode())
}

func TestSpawn_LogRedirect(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "child.log")
	p, err := Spawn(Spec{
		Argv:    []string{"/bin/sh", "-c", "echo hello-from-child"},
		Env:     os.Environ(),
		Cwd:     t.TempDir(),
		UID:     uint32(os.Getuid()),
		GID:     uint32(os.Getgid()),
		LogPath: logPath,
	})
	require.NoError(t, err)
	<-p.Done()
	require.NoError(t, p.ExitErr())

	contents, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(contents), "hello-from-child")
}

func TestStop_GracefulExit(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "child.log")
	p, err := Spawn(Spec{
		Argv:    []string{"/bin/sh", "-c", "trap 'exit 0' TERM; while true; do sleep 0.05; done"},
		Env:     os.Environ(),
		Cwd:     t.TempDir(),
		UID:     uint32(os.Getuid()),
		GID:     uint32(os.Getgid()),
		LogPath: logPath,
	})
	require.NoError(t, err)

	// give the shell a moment to install its trap before signaling it
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, p.Stop())
}

func TestStop_EscalatesToSIGKILL(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "child.log")
	p, err := Spawn(Spec{
		Argv:    []string{"/bin/sh", "-c", "trap '' TERM; while true; do sleep 0.05; done"},
		Env:     os.Environ(),
		Cwd:     t.TempDir(),
		UID:     uint32(os.Getuid()),
		GID:     uint32(os.Getgid()),
		LogPath: logPath,
	})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- p.Stop() }()

	select {
	case err := <-done:
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr)
		require.False(t, exitErr.Success())
	case <-time.After(gracePeriod + 5*time.Second):
		t.Fatal("Stop did not escalate to SIGKILL in time")
	}
}

func TestStop_IsIdempotent(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "child.log")
	p, err := Spawn(Spec{
		Argv:    []string{"/bin/sh", "-c", "exit 0"},
		Env:     os.Environ(),
		Cwd:     t.TempDir(),
		UID:     uint32(os.Getuid()),
		GID:     uint32(os.Getgid()),
		LogPath: logPath,
	})
	require.NoError(t, err)
	<-p.Done()

	err1 := p.Stop()
	err2 := p.Stop()
	require.Equal(t, err1, err2)
}

func TestDone_ObservableByMultipleWaiters(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "child.log")
	p, err := Spawn(Spec{
		Argv:    []string{"/bin/sh", "-c", "exit 3"},
		Env:     os.Environ(),
		Cwd:     t.TempDir(),
		UID:     uint32(os.Getuid()),
		GID:     uint32(os.Getgid()),
		LogPath: logPath,
	})
	require.NoError(t, err)

	const waiters = 5
	results := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			<-p.Done()
			results <- p.ExitErr()
		}()
	}

	for i := 0; i < waiters; i++ {
		select {
		case err := <-results:
			var exitErr *exec.ExitError
			require.ErrorAs(t, err, &exitErr)
			require.Equal(t, 3, exitErr.ExitCode())
		case <-time.After(5 * time.Second):
			t.Fatal("waiter did not observe Done in time")
		}
	}
}

func TestSpawn_EmptyArgv(t *testing.T) {
	t.Parallel()

	_, err := Spawn(Spec{LogPath: filepath.Join(t.TempDir(), "child.log")})
	require.Error(t, err)
	require.False(t, errors.Is(err, nil))
}
