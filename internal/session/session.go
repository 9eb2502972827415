// Package session implements the two concrete Session kinds: a
// GreeterSession running as a fixed low-privilege system user, and a
// UserSession running as the authenticated user. Both compose an
// environment, fork+exec via internal/childproc, and expose a uniform
// stop/wait surface.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lightdm-go/lightdmd/internal/childproc"
	"github.com/lightdm-go/lightdmd/internal/identity"
	"github.com/lightdm-go/lightdmd/internal/privilege"
	"github.com/lightdm-go/lightdmd/internal/xauth"
)

// Kind distinguishes the two concrete Session types.
type Kind int

const (
	KindGreeter Kind = iota
	KindUser
)

// Class is XDG_SESSION_CLASS.
type Class int

const (
	ClassGreeter Class = iota
	ClassUser
	ClassLockScreen
)

func (c Class) String() string {
	switch c {
	case ClassGreeter:
		return "greeter"
	case ClassLockScreen:
		return "lock-screen"
	default:
		return "user"
	}
}

// Type is XDG_SESSION_TYPE.
type Type int

const (
	TypeX11 Type = iota
	TypeWayland
	TypeTTY
)

func (t Type) String() string {
	switch t {
	case TypeWayland:
		return "wayland"
	case TypeTTY:
		return "tty"
	default:
		return "x11"
	}
}

// stopGrace is how long Stop waits for the child to exit after SIGTERM
// before childproc itself escalates to SIGKILL.
const stopGrace = 5 * time.Second

// base holds the fields and behavior common to both session kinds.
type base struct {
	Kind     Kind
	Identity identity.Identity
	Env      map[string]string
	Cookie   *xauth.File

	child  *childproc.Process
	logger *slog.Logger
}

func newBase(kind Kind, id identity.Identity, logger *slog.Logger) base {
	if logger == nil {
		logger = slog.Default()
	}
	return base{Kind: kind, Identity: id, Env: map[string]string{}, logger: logger}
}

// Done reports when the session's child has exited. Nil until Start has
// been called successfully.
func (b *base) Done() <-chan struct{} {
	if b.child == nil {
		ch := make(chan struct{})
		return ch
	}
	return b.child.Done()
}

// ExitErr is only meaningful after Done is closed.
func (b *base) ExitErr() error {
	if b.child == nil {
		return nil
	}
	return b.child.ExitErr()
}

// PID is 0 until the child has been spawned.
func (b *base) PID() int {
	if b.child == nil {
		return 0
	}
	return b.child.PID()
}

func (b *base) stopChild() error {
	if b.child == nil {
		return nil
	}
	return b.child.Stop()
}

// envBase computes the invariant environment fields every session must
// export, before the caller layers on kind-specific additions
// (DISPLAY/XAUTHORITY, PAM-supplied vars, ...).
func envBase(id identity.Identity, class Class, typ Type, seat string, vtnr int) map[string]string {
	env := map[string]string{
		"USER":              id.Name,
		"LOGNAME":           id.Name,
		"HOME":              id.Home,
		"SHELL":             id.Shell,
		"PATH":              os.Getenv("PATH"),
		"XDG_SESSION_CLASS": class.String(),
		"XDG_SESSION_TYPE":  typ.String(),
		"XDG_SEAT":          seat,
	}
	if vtnr > 0 {
		env["XDG_VTNR"] = strconv.Itoa(vtnr)
	}
	return env
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// GreeterSession runs the greeter binary as the dedicated system user
// (conventionally "lightdm"), with two inherited pipe FDs alongside the
// UNIX socket transport, for legacy pipe-based greeters.
type GreeterSession struct {
	base

	toServer   *os.File // daemon writes here, greeter reads its end on fd 3
	fromServer *os.File // daemon reads here, greeter writes its end on fd 4
}

// NewGreeterSession prepares (but does not start) a greeter session
// running as id, which must be the configured greeter system account.
func NewGreeterSession(id identity.Identity, logger *slog.Logger) *GreeterSession {
	return &GreeterSession{base: newBase(KindGreeter, id, logger)}
}

// Prepare composes the greeter's environment. cookie may be nil for
// headless/Wayland greeters.
func (g *GreeterSession) Prepare(class Class, typ Type, seat string, vtnr int, cookie *xauth.File, socketPath string) {
	env := envBase(g.Identity, class, typ, seat, vtnr)
	env["LIGHTDM_GREETER_SOCKET"] = socketPath
	if cookie != nil {
		env["DISPLAY"] = ":" + cookie.DisplayNo
		env["XAUTHORITY"] = cookie.Path
	}
	g.Cookie = cookie
	g.Env = env
}

// Start forks the greeter, wiring the daemon<->greeter pipe pair onto fd
// 3 (to-server) and fd 4 (from-server) in the child, per
// LIGHTDM_TO_SERVER_FD / LIGHTDM_FROM_SERVER_FD.
func (g *GreeterSession) Start(argv []string, cwd, logPath string) error {
	toServerR, toServerW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("session: creating to-greeter pipe: %w", err)
	}
	fromServerR, fromServerW, err := os.Pipe()
	if err != nil {
		toServerR.Close()
		toServerW.Close()
		return fmt.Errorf("session: creating from-greeter pipe: %w", err)
	}

	env := g.Env
	if env == nil {
		env = map[string]string{}
	}
	env["LIGHTDM_TO_SERVER_FD"] = "3"
	env["LIGHTDM_FROM_SERVER_FD"] = "4"

	proc, err := childproc.Spawn(childproc.Spec{
		Argv:       argv,
		Env:        envSlice(env),
		Cwd:        cwd,
		UID:        g.Identity.UID,
		GID:        g.Identity.GID,
		LogPath:    logPath,
		ExtraFiles: []*os.File{toServerR, fromServerW},
	})

	// The child has its own duplicated copies of these two FDs now; the
	// daemon's references to the child's ends are no longer needed.
	toServerR.Close()
	fromServerW.Close()

	if err != nil {
		toServerW.Close()
		fromServerR.Close()
		return fmt.Errorf("session: spawning greeter: %w", err)
	}

	g.child = proc
	g.toServer = toServerW
	g.fromServer = fromServerR
	g.logger.Debug("greeter session started", "uid", g.Identity.UID, "pid", proc.PID())
	return nil
}

// ToServer is the daemon's write end of the daemon->greeter pipe.
func (g *GreeterSession) ToServer() *os.File { return g.toServer }

// FromServer is the daemon's read end of the greeter->daemon pipe.
func (g *GreeterSession) FromServer() *os.File { return g.fromServer }

// Stop closes the greeter-facing pipe FDs and terminates the child.
func (g *GreeterSession) Stop() error {
	if g.toServer != nil {
		g.toServer.Close()
	}
	if g.fromServer != nil {
		g.fromServer.Close()
	}
	return g.stopChild()
}

// Tracker registers and releases sessions with the host's session-tracking
// service (logind or ConsoleKit). Implemented by internal/sessiontracker;
// declared here so UserSession doesn't depend on godbus directly.
type Tracker interface {
	Register(ctx context.Context, uid uint32, seat string, vtnr int) (sessionID string, err error)
	Release(ctx context.Context, sessionID string) error
}

// UserSession runs as the authenticated user.
type UserSession struct {
	base

	tracker   Tracker
	sessionID string
	argv      []string
}

// NewUserSession prepares (but does not start) a session for id, using
// tracker to register/release with the host's session service. tracker
// may be nil, in which case registration is skipped entirely.
func NewUserSession(id identity.Identity, tracker Tracker, logger *slog.Logger) *UserSession {
	return &UserSession{base: newBase(KindUser, id, logger), tracker: tracker}
}

// Prepare composes the user session's environment and command line.
// pamEnv is the PAM-supplied environment from the authenticator's exit,
// merged over the daemon-supplied base. sessionName is the chosen
// session's display name, recorded to .dmrc for "last used session"
// defaults.
func (s *UserSession) Prepare(argv []string, class Class, typ Type, seat string, vtnr int, cookie *xauth.File, pamEnv map[string]string, sessionName string) error {
	env := envBase(s.Identity, class, typ, seat, vtnr)
	for k, v := range pamEnv {
		env[k] = v
	}
	if cookie != nil {
		env["DISPLAY"] = ":" + cookie.DisplayNo
		env["XAUTHORITY"] = cookie.Path
	}

	s.Env = env
	s.Cookie = cookie
	s.argv = argv

	if sessionName != "" {
		if err := s.writeDmrc(sessionName); err != nil {
			// Non-fatal: a missing/unwritable .dmrc only loses the "last
			// used session" convenience, never blocks login.
			s.logger.Warn("failed writing .dmrc", "uid", s.Identity.UID, "err", err)
		}
	}

	return nil
}

func (s *UserSession) writeDmrc(sessionName string) error {
	path := filepath.Join(s.Identity.Home, ".dmrc")
	contents := fmt.Sprintf("[Desktop]\nSession=%s\n", sessionName)

	return privilege.RunAs(s.Identity.UID, s.Identity.GID, func() error {
		return os.WriteFile(path, []byte(contents), 0644)
	})
}

// Start forks the user's session command and, if a Tracker is
// configured, registers the session with logind/ConsoleKit. Tracker
// failures are logged but non-fatal.
func (s *UserSession) Start(logPath string, seat string, vtnr int) error {
	proc, err := childproc.Spawn(childproc.Spec{
		Argv:    s.argv,
		Env:     envSlice(s.Env),
		Cwd:     s.Identity.Home,
		UID:     s.Identity.UID,
		GID:     s.Identity.GID,
		LogPath: logPath,
	})
	if err != nil {
		return fmt.Errorf("session: spawning user session: %w", err)
	}
	s.child = proc
	s.logger.Debug("user session started", "uid", s.Identity.UID, "pid", proc.PID())

	if s.tracker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		id, err := s.tracker.Register(ctx, s.Identity.UID, seat, vtnr)
		if err != nil {
			s.logger.Warn("session tracker registration failed", "uid", s.Identity.UID, "err", err)
		} else {
			s.sessionID = id
		}
	}

	return nil
}

// Stop terminates the child and, if registered, releases the tracked
// session.
func (s *UserSession) Stop() error {
	err := s.stopChild()

	if s.tracker != nil && s.sessionID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if relErr := s.tracker.Release(ctx, s.sessionID); relErr != nil {
			s.logger.Warn("session tracker release failed", "session_id", s.sessionID, "err", relErr)
		}
	}

	return err
}
