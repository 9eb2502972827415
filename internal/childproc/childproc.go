// Package childproc forks and execs a child under a controlled environment,
// working directory, identity, and log redirection, and reaps its exit
// asynchronously.
package childproc

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// gracePeriod is how long Stop waits after SIGTERM before escalating to
// SIGKILL.
const gracePeriod = 5 * time.Second

// Spec describes how to start a child process.
type Spec struct {
	Argv    []string
	Env     []string
	Cwd     string
	UID     uint32
	GID     uint32
	LogPath string
	// ExtraFiles are inherited by the child starting at fd 3, in order --
	// used for the greeter-facing daemon<->greeter pipe pair.
	ExtraFiles []*os.File
}

// Process is a running (or exited) child, with its exit delivered
// asynchronously through Done rather than a blocking call. Multiple
// goroutines may observe the same exit: Done is closed exactly once, after
// which ExitErr is safe to read from any number of callers.
type Process struct {
	cmd      *exec.Cmd
	logFile  *lumberjack.Logger
	done     chan struct{}
	exitErr  error
	stopOnce sync.Once
	pid      int
}

// Spawn forks+execs per spec, dropping privileges to (uid, gid) in the
// child, redirecting stdout+stderr to logPath (rotated, not truncated, per
// spec's "append | truncate_with_backup" policy), and detaching into a new
// session and process group so the child survives the daemon's own
// controlling terminal, if any.
//
// Spawn never blocks on the child; its exit is delivered by closing the
// returned Process's Done channel once SIGCHLD is reaped by the Go
// runtime's own os/exec machinery.
func Spawn(spec Spec) (*Process, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("childproc: empty argv")
	}

	logFile := &lumberjack.Logger{
		Filename:   spec.LogPath,
		MaxBackups: 1,
		MaxSize:    10, // MB
		Compress:   false,
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...) //nolint:gosec // argv is daemon-constructed, not user input
	cmd.Env = spec.Env
	cmd.Dir = spec.Cwd
	cmd.Stdin = nil // reopened from /dev/null below
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.ExtraFiles = spec.ExtraFiles
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{
			Uid: spec.UID,
			Gid: spec.GID,
		},
		Setsid: true,
	}

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return nil, fmt.Errorf("childproc: opening %s: %w", os.DevNull, err)
	}
	defer devNull.Close()
	cmd.Stdin = devNull

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("childproc: starting %v: %w", spec.Argv, err)
	}

	p := &Process{
		cmd:     cmd,
		logFile: logFile,
		done:    make(chan struct{}),
		pid:     cmd.Process.Pid,
	}
	p.waitAsync()

	return p, nil
}

// waitAsync blocks on cmd.Wait in its own goroutine so the caller never has
// to, and so the child doesn't become a zombie: one goroutine per child,
// reporting its exit instead of decrementing a shared WaitGroup.
func (p *Process) waitAsync() {
	go func() {
		p.exitErr = p.cmd.Wait()
		close(p.done)
	}()
}

// PID returns the child's process ID.
func (p *Process) PID() int { return p.pid }

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitErr returns the child's exit error (nil on a clean exit(0)). Only
// valid to call after Done is closed.
func (p *Process) ExitErr() error { return p.exitErr }

// Signal sends sig to the child's process group (it was started with
// Setsid, so -pid addresses the whole group).
func (p *Process) Signal(sig syscall.Signal) error {
	if err := syscall.Kill(-p.pid, sig); err != nil {
		return fmt.Errorf("childproc: signaling pid %d: %w", p.pid, err)
	}
	return nil
}

// Stop sends SIGTERM, then escalates to SIGKILL after gracePeriod if the
// child has not exited. It returns once the child has been reaped. Safe to
// call more than once or concurrently with Done being awaited elsewhere.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		if err := p.Signal(syscall.SIGTERM); err != nil {
			return
		}

		select {
		case <-p.done:
		case <-time.After(gracePeriod):
			_ = p.Signal(syscall.SIGKILL)
			<-p.done
		}
	})
	<-p.done
	return p.exitErr
}
