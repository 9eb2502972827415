// Package displayserver manages the lifecycle of one X server process for
// a seat: VT/display-number allocation, spawn, readiness probing, and
// crash detection.
package displayserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lightdm-go/lightdmd/internal/childproc"
	"github.com/lightdm-go/lightdmd/internal/xauth"
)

// State is the DisplayServer's own lifecycle.
type State int32

const (
	StateNew State = iota
	StateStarting
	StateReady
	StateExiting
	StateExited
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateExiting:
		return "exiting"
	case StateExited:
		return "exited"
	default:
		return "new"
	}
}

// probeTimeout bounds how long Start waits for the server to start
// accepting connections before giving up.
const probeTimeout = 10 * time.Second

// probeInterval is how often the readiness probe retries.
const probeInterval = 50 * time.Millisecond

// Spec describes how to start one X server.
type Spec struct {
	// Command is the xserver-command from config, e.g. {"/usr/bin/X"}.
	Command []string
	// MinVT is the lowest virtual terminal to consider (config
	// minimum-vt, default 7).
	MinVT int
	// LogPath is where the server's stdout/stderr are redirected.
	LogPath string
	// AuthPath is where the server's own Xauthority (distinct from any
	// per-session XAuthority) is written.
	AuthPath string
}

// DisplayServer owns one X server child process.
type DisplayServer struct {
	mu       sync.Mutex
	state    State
	number   int
	vt       int
	cookie   xauth.Cookie
	authFile *xauth.File
	child    *childproc.Process
	crashed  chan struct{}
	logger   *slog.Logger
}

// New creates an idle DisplayServer. Call Start to spawn it.
func New(logger *slog.Logger) *DisplayServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DisplayServer{logger: logger, crashed: make(chan struct{})}
}

// State returns the server's current lifecycle state.
func (d *DisplayServer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Number is the allocated X display number (":N"). Valid after Start.
func (d *DisplayServer) Number() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.number
}

// VT is the allocated virtual terminal number. Valid after Start.
func (d *DisplayServer) VT() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vt
}

// Cookie is the server's MIT-MAGIC-COOKIE-1. Per-session XAuthority files
// are written as separate files carrying this same cookie.
func (d *DisplayServer) Cookie() xauth.Cookie {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cookie
}

// Crashed is closed if the server exits on its own while in StateReady
// (as opposed to being stopped deliberately via Stop).
func (d *DisplayServer) Crashed() <-chan struct{} {
	return d.crashed
}

func (d *DisplayServer) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Start allocates a display number/VT, writes the server's Xauthority,
// forks the X server, and blocks until it is accepting connections or
// probeTimeout elapses.
func (d *DisplayServer) Start(ctx context.Context, spec Spec) error {
	d.setState(StateStarting)

	number, vt, err := allocateDisplay(spec.MinVT)
	if err != nil {
		d.setState(StateExited)
		return fmt.Errorf("displayserver: %w", err)
	}

	cookie, err := xauth.NewCookie()
	if err != nil {
		d.setState(StateExited)
		return fmt.Errorf("displayserver: generating cookie: %w", err)
	}

	authFile, err := xauth.Write(spec.AuthPath, fmt.Sprintf("%d", number), cookie, uint32(os.Getuid()), uint32(os.Getgid()))
	if err != nil {
		d.setState(StateExited)
		return fmt.Errorf("displayserver: writing authority file: %w", err)
	}

	argv := make([]string, 0, len(spec.Command)+4)
	argv = append(argv, spec.Command...)
	argv = append(argv,
		fmt.Sprintf(":%d", number),
		"-novtswitch",
		fmt.Sprintf("vt%d", vt),
		"-auth", authFile.Path,
	)

	proc, err := childproc.Spawn(childproc.Spec{
		Argv:    argv,
		Env:     os.Environ(),
		Cwd:     "/",
		UID:     uint32(os.Getuid()),
		GID:     uint32(os.Getgid()),
		LogPath: spec.LogPath,
	})
	if err != nil {
		_ = xauth.Remove(authFile)
		d.setState(StateExited)
		return fmt.Errorf("displayserver: spawning %v: %w", argv, err)
	}

	d.mu.Lock()
	d.number = number
	d.vt = vt
	d.cookie = cookie
	d.authFile = authFile
	d.child = proc
	d.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := probeReady(probeCtx, x11SocketPath(number)); err != nil {
		_ = proc.Stop()
		_ = xauth.Remove(authFile)
		d.setState(StateExited)
		return fmt.Errorf("displayserver: server on :%d never became ready: %w", number, err)
	}

	d.setState(StateReady)
	d.logger.Debug("display server ready", "display", number, "vt", vt, "pid", proc.PID())
	go d.watch()

	return nil
}

// watch reports an unsolicited exit (one the server made on its own
// while StateReady) on Crashed.
func (d *DisplayServer) watch() {
	<-d.child.Done()

	d.mu.Lock()
	wasReady := d.state == StateReady
	d.state = StateExited
	d.mu.Unlock()

	if wasReady {
		close(d.crashed)
	}
}

// Stop terminates the X server and removes its authority file. Idempotent.
func (d *DisplayServer) Stop() error {
	d.setState(StateExiting)

	var stopErr error
	if d.child != nil {
		stopErr = d.child.Stop()
	}
	if d.authFile != nil {
		_ = xauth.Remove(d.authFile)
	}

	d.setState(StateExited)
	return stopErr
}

// allocateDisplay finds the lowest free X display number by probing
// /tmp/.X%d-lock. This is best-effort and racy: a collision surfaces as
// the spawned server failing to start, reported up through Start's
// error return.
func allocateDisplay(minVT int) (number, vt int, err error) {
	if minVT <= 0 {
		minVT = 7
	}

	var st unix.Stat_t
	for n := 0; n < 64; n++ {
		lockPath := fmt.Sprintf("/tmp/.X%d-lock", n)
		if statErr := unix.Stat(lockPath, &st); statErr == unix.ENOENT {
			return n, minVT + n, nil
		}
	}

	return 0, 0, fmt.Errorf("no free X display number in range [0, 64)")
}

func x11SocketPath(number int) string {
	return fmt.Sprintf("/tmp/.X11-unix/X%d", number)
}

// probeReady dials sockPath until it accepts a connection or ctx expires.
// This establishes that the server is accepting connections; it does not
// perform a full X11 authentication handshake.
func probeReady(ctx context.Context, sockPath string) error {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		conn, err := net.Dial("unix", sockPath)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("probing %s: %w", sockPath, ctx.Err())
		}
	}
}
