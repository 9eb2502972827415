// Package display implements the Display state machine: one physical
// login surface composed of a DisplayServer, the current Session
// (greeter or user), and the greeter IPC that connects them. Every
// transition is driven by an event, dispatched one at a time on a
// single goroutine so the rest of the state stays lock-free from the
// inside.
//
// The single event-dispatch goroutine follows the same "one actor,
// serialized execute" shape internal/rungroup uses for the daemon's
// top-level actors, scaled down to one Display's own lifecycle.
package display

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/lightdm-go/lightdmd/internal/authenticator"
	"github.com/lightdm-go/lightdmd/internal/daemonerr"
	"github.com/lightdm-go/lightdmd/internal/displayserver"
	"github.com/lightdm-go/lightdmd/internal/greeterproto"
	"github.com/lightdm-go/lightdmd/internal/guest"
	"github.com/lightdm-go/lightdmd/internal/identity"
	"github.com/lightdm-go/lightdmd/internal/session"
	"github.com/lightdm-go/lightdmd/internal/sessiondesc"
	"github.com/lightdm-go/lightdmd/internal/xauth"
)

// State is the Display's own lifecycle.
type State int32

const (
	StateNew State = iota
	StateStartingServer
	StateServerReady
	StateGreeterRunning
	StateAuthenticating
	StateAuthDone
	StateStartingUserSession
	StateUserSessionRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStartingServer:
		return "starting_server"
	case StateServerReady:
		return "server_ready"
	case StateGreeterRunning:
		return "greeter_running"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthDone:
		return "auth_done"
	case StateStartingUserSession:
		return "starting_user_session"
	case StateUserSessionRunning:
		return "user_session_running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "new"
	}
}

// maxRestartAttempts bounds how many failed server start attempts the
// Display makes in a row before it gives up (the first attempt plus at most
// two retries).
const maxRestartAttempts = 3

// restartBackoff is how long Display waits before retrying a crashed
// server.
const restartBackoff = time.Second

// greeterStopGrace is how long a greeter is given to exit on its own
// after END_SESSION before it is killed.
const greeterStopGrace = 5 * time.Second

// Config wires a Display to everything it needs from the rest of the
// daemon: host paths, identities, and policy decided by Seat/DaemonRoot.
type Config struct {
	Seat  string
	MinVT int

	ServerCommand []string
	RunDir        string // base directory for sockets/logs/auth files
	LogDir        string

	GreeterIdentity identity.Identity
	GreeterArgv     []string
	SessionWrapper  string

	SessionDescriptors []sessiondesc.Descriptor
	DefaultSessionKey  string

	PAMService          string
	PAMAutologinService string
	AutoLoginUser       string
	// AutoLoginIsGuest marks AutoLoginUser as a transient guest account
	// already minted by the Seat (switch_to_guest), so the session it
	// starts gets torn down with GuestHelper.Remove on exit instead of
	// being left behind.
	AutoLoginIsGuest bool
	// AutologinUserTimeout is how long GreeterRunning waits without any
	// greeter activity before logging AutoLoginUser in on its own. Zero
	// means log in as soon as the greeter connects.
	AutologinUserTimeout time.Duration

	Tracker     session.Tracker
	GuestHelper *guest.Helper

	// VTMutex serializes display-number/VT allocation across every Seat's
	// Displays in the daemon (two seats must not race the same VT).
	// Shared by reference from DaemonRoot; nil is treated as
	// "no daemon-wide contention" (a single-seat daemon, or a test).
	VTMutex *sync.Mutex

	Logger *slog.Logger
}

// Display owns one DisplayServer and, at any instant, zero or one
// running Session.
type Display struct {
	cfg    Config
	name   string
	logger *slog.Logger

	mu              sync.Mutex
	state           State
	restartAttempts int
	hostedUser      string
	hostedUserGuest bool
	vtnr            int // the VT this Display's X server actually landed on, set once the server is ready

	userSessionStartedAt time.Time
	userSessionCrashed   bool

	server         *displayserver.DisplayServer
	socket         *greeterproto.Socket
	greeterSess    *session.GreeterSession
	greeter        *greeterproto.Greeter
	userSess       *session.UserSession
	authr          *authenticator.Authenticator
	autologinTimer *time.Timer

	events  chan func()
	stopped chan struct{}
	stopReq sync.Once
}

// New creates a Display in StateNew. Call Start to run it.
func New(name string, cfg Config) *Display {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Display{
		cfg:     cfg,
		name:    name,
		logger:  cfg.Logger.With("display", name, "seat", cfg.Seat),
		events:  make(chan func(), 16),
		stopped: make(chan struct{}),
	}
}

// State returns the Display's current state.
func (d *Display) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// HostedUser returns the username of the running user session, if any.
func (d *Display) HostedUser() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hostedUser, d.hostedUser != ""
}

// Stopped is closed once the Display reaches StateStopped.
func (d *Display) Stopped() <-chan struct{} {
	return d.stopped
}

func (d *Display) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	d.logger.Debug("display state change", "state", s.String())
}

// post queues fn to run on the Display's single event-dispatch goroutine.
// Safe to call from any goroutine, including from within fn itself.
func (d *Display) post(fn func()) {
	select {
	case d.events <- fn:
	case <-d.stopped:
	}
}

// Start launches the event loop and the first DisplayServer. Returns once
// the loop goroutine is running; startup failures surface as a
// transition to StateStopped, observable via Stopped().
func (d *Display) Start(ctx context.Context) {
	go d.run(ctx)
	d.post(func() { d.startServer(ctx) })
}

func (d *Display) run(ctx context.Context) {
	for {
		select {
		case fn := <-d.events:
			fn()
		case <-ctx.Done():
			d.stopReq.Do(func() {
				d.post(func() { d.stopLocked(ctx, errors.New("context cancelled")) })
			})
		}

		d.mu.Lock()
		done := d.state == StateStopped
		d.mu.Unlock()
		if done {
			close(d.stopped)
			return
		}
	}
}

// Stop requests a graceful shutdown. Idempotent; safe to call from any
// goroutine.
func (d *Display) Stop() {
	d.stopReq.Do(func() {
		d.post(func() { d.stopLocked(context.Background(), nil) })
	})
}

func (d *Display) socketPath() string {
	return filepath.Join(d.cfg.RunDir, fmt.Sprintf("%s.sock", d.name))
}

func (d *Display) authPath() string {
	return filepath.Join(d.cfg.RunDir, fmt.Sprintf("%s.Xauthority", d.name))
}

func (d *Display) logPath(component string) string {
	return filepath.Join(d.cfg.LogDir, fmt.Sprintf("%s-%s.log", d.name, component))
}

// startServer spawns the DisplayServer and arranges for its readiness
// and crash signals to be re-delivered as Display events.
func (d *Display) startServer(ctx context.Context) {
	d.setState(StateStartingServer)

	d.server = displayserver.New(d.logger.With("component", "xserver"))
	server := d.server

	go func() {
		if d.cfg.VTMutex != nil {
			d.cfg.VTMutex.Lock()
		}
		err := server.Start(ctx, displayserver.Spec{
			Command:  d.cfg.ServerCommand,
			MinVT:    d.cfg.MinVT,
			LogPath:  d.logPath("xserver"),
			AuthPath: d.authPath(),
		})
		if d.cfg.VTMutex != nil {
			d.cfg.VTMutex.Unlock()
		}
		d.post(func() {
			if err != nil {
				d.onServerStartFailed(ctx, err)
				return
			}
			d.onServerReady(ctx)
		})
		if err == nil {
			<-server.Crashed()
			d.post(func() { d.onServerCrashed(ctx, server) })
		}
	}()
}

func (d *Display) onServerStartFailed(ctx context.Context, err error) {
	d.restartAttempts++
	d.logger.Warn("display server failed to start", "attempt", d.restartAttempts, "err", err)
	if d.restartAttempts >= maxRestartAttempts {
		d.stopLocked(ctx, daemonerr.Wrap(daemonerr.KindSpawn, err))
		return
	}
	time.AfterFunc(restartBackoff, func() { d.post(func() { d.startServer(ctx) }) })
}

func (d *Display) onServerCrashed(ctx context.Context, crashedServer *displayserver.DisplayServer) {
	d.mu.Lock()
	sameServer := d.server == crashedServer
	state := d.state
	d.mu.Unlock()
	if !sameServer || state == StateStopping || state == StateStopped {
		return // already torn down deliberately; not a crash from our perspective
	}

	if state == StateUserSessionRunning {
		// Fatal for this Display only.
		d.logger.Error("display server crashed during user session")
		d.stopLocked(ctx, daemonerr.Newf(daemonerr.KindChildCrash, "display server exited during user session"))
		return
	}

	d.logger.Warn("display server exited unexpectedly, restarting")
	d.teardownSessions(ctx)
	d.startServer(ctx)
}

func (d *Display) onServerReady(ctx context.Context) {
	d.vtnr = d.server.VT()
	d.setState(StateServerReady)
	d.startGreeterFlow(ctx)
}

// startGreeterFlow opens the greeter socket, spawns the greeter process,
// and starts accepting the one greeter connection it expects.
func (d *Display) startGreeterFlow(ctx context.Context) {
	socket, err := greeterproto.Listen(d.socketPath(), d.logger.With("component", "greeter-socket"))
	if err != nil {
		d.stopLocked(ctx, daemonerr.Wrap(daemonerr.KindSpawn, err))
		return
	}
	d.socket = socket

	greeterSess := session.NewGreeterSession(d.cfg.GreeterIdentity, d.logger.With("component", "greeter"))
	authFile, err := d.writeSessionAuth(d.cfg.GreeterIdentity, "greeter")
	if err != nil {
		d.logger.Warn("failed writing greeter auth file, continuing without X auth", "err", err)
	}
	greeterSess.Prepare(session.ClassGreeter, session.TypeX11, d.cfg.Seat, d.vtnr, authFile, socket.Path())

	if err := greeterSess.Start(d.cfg.GreeterArgv, d.cfg.GreeterIdentity.Home, d.logPath("greeter")); err != nil {
		d.stopLocked(ctx, daemonerr.Wrap(daemonerr.KindSpawn, err))
		return
	}
	d.greeterSess = greeterSess
	d.setState(StateGreeterRunning)

	go d.acceptGreeter(ctx)
	go func() {
		<-greeterSess.Done()
		d.post(func() { d.onGreeterProcessExited(ctx) })
	}()
}

func (d *Display) acceptGreeter(ctx context.Context) {
	g, err := d.socket.Accept()
	if err != nil {
		return
	}
	connID := newConnectionID()
	d.post(func() {
		d.mu.Lock()
		d.greeter = g
		d.mu.Unlock()
		d.logger.Debug("greeter connected", "connection_id", connID)
		d.readGreeterFrames(ctx, g)
	})
}

func (d *Display) readGreeterFrames(ctx context.Context, g *greeterproto.Greeter) {
	go func() {
		for {
			frame, err := g.ReadFrame()
			if err != nil {
				d.post(func() { d.onGreeterDisconnected(ctx, g) })
				return
			}
			f := frame
			d.post(func() { d.handleGreeterFrame(ctx, g, f) })
		}
	}()
}

func (d *Display) onGreeterDisconnected(ctx context.Context, g *greeterproto.Greeter) {
	d.mu.Lock()
	same := d.greeter == g
	state := d.state
	d.mu.Unlock()
	if !same || state == StateStopping || state == StateStopped || state == StateUserSessionRunning {
		return
	}
	d.logger.Info("greeter disconnected (eof treated as crash)")
	d.stopLocked(ctx, nil)
}

func (d *Display) onGreeterProcessExited(ctx context.Context) {
	d.mu.Lock()
	state := d.state
	d.mu.Unlock()
	if state == StateStopping || state == StateStopped || state == StateUserSessionRunning {
		return
	}
	d.logger.Info("greeter process exited")
	d.stopLocked(ctx, nil)
}

// handleGreeterFrame dispatches one incoming greeter message according to
// the greeter protocol state, folded into the Display's own state since
// a Display only ever has one greeter.
func (d *Display) handleGreeterFrame(ctx context.Context, g *greeterproto.Greeter, frame greeterproto.Frame) {
	d.mu.Lock()
	state := d.state
	d.mu.Unlock()

	// Any frame from the greeter counts as activity: it pushes back the
	// autologin deadline rather than letting it fire out from under an
	// in-progress manual login.
	d.touchAutologinActivity()

	switch frame.Tag {
	case greeterproto.TagConnect:
		conn, err := greeterproto.DecodeConnect(frame.Body)
		if err != nil {
			d.protocolError(g, err)
			return
		}
		hints := map[string]string{"seat": d.cfg.Seat}
		for _, desc := range d.cfg.SessionDescriptors {
			hints["session."+desc.Key] = desc.Name
		}
		_ = conn
		_ = g.WriteFrame(greeterproto.TagConnected, greeterproto.EncodeConnected(greeterproto.Connected{Hints: hints}))

		if state == StateAuthenticating && d.authr != nil {
			// A greeter that reconnects mid-conversation starts over: the
			// in-flight Authenticator is cancelled and the Display returns
			// to GreeterRunning.
			d.authr.Cancel()
			d.authr = nil
			d.setState(StateGreeterRunning)
			state = StateGreeterRunning
		}

		if d.cfg.AutoLoginUser != "" && state == StateGreeterRunning {
			// Auto-login bypasses the greeter's own AUTHENTICATE request:
			// the greeter is shown, but if it sits idle for
			// AutologinUserTimeout, the Display drives the conversation
			// itself against the autologin PAM service, per this Display's
			// Config.AutoLoginUser (set by Seat when switch_to_user targets
			// a user with no existing session to reuse).
			d.armAutologinTimer(ctx)
		}

	case greeterproto.TagAuthenticate:
		if state != StateGreeterRunning {
			d.protocolError(g, fmt.Errorf("AUTHENTICATE while not greeter_running"))
			return
		}
		auth, err := greeterproto.DecodeAuthenticate(frame.Body)
		if err != nil {
			d.protocolError(g, err)
			return
		}
		d.startAuthentication(ctx, g, auth.Username, false)

	case greeterproto.TagAuthenticateAsGuest:
		if state != StateGreeterRunning {
			d.protocolError(g, fmt.Errorf("AUTHENTICATE_AS_GUEST while not greeter_running"))
			return
		}
		d.startAuthentication(ctx, g, "", true)

	case greeterproto.TagContinue:
		if state != StateAuthenticating {
			d.protocolError(g, fmt.Errorf("CONTINUE while not awaiting a response"))
			return
		}
		cont, err := greeterproto.DecodeContinue(frame.Body)
		if err != nil {
			d.protocolError(g, err)
			return
		}
		if d.authr == nil {
			return
		}
		var answer []byte
		if len(cont.Responses) > 0 {
			answer = []byte(cont.Responses[0])
		}
		d.authr.Respond(answer)

	case greeterproto.TagCancel:
		if d.authr != nil {
			d.authr.Cancel()
		}

	case greeterproto.TagStartSession:
		if state != StateAuthDone {
			d.protocolError(g, fmt.Errorf("START_SESSION while auth isn't complete"))
			return
		}
		ss, err := greeterproto.DecodeStartSession(frame.Body)
		if err != nil {
			d.protocolError(g, err)
			return
		}
		key := ss.SessionKey
		if key == "" {
			key = d.cfg.DefaultSessionKey
		}
		d.startUserSession(ctx, key)
	}
}

func (d *Display) protocolError(g *greeterproto.Greeter, err error) {
	d.logger.Warn("greeter protocol error", "err", err)
	_ = g.WriteFrame(greeterproto.TagPrompt, greeterproto.EncodePrompt(greeterproto.Prompt{
		Kind: greeterproto.PromptError,
		Text: err.Error(),
	}))
}

// armAutologinTimer schedules the configured autologin user to be logged
// in after AutologinUserTimeout of greeter inactivity. A zero timeout
// fires on the next event loop tick, preserving the historical
// log-in-immediately behavior for daemons that never set it.
func (d *Display) armAutologinTimer(ctx context.Context) {
	if d.cfg.AutoLoginUser == "" {
		return
	}
	d.stopAutologinTimer()
	d.autologinTimer = time.AfterFunc(d.cfg.AutologinUserTimeout, func() {
		d.post(func() { d.onAutologinTimeout(ctx) })
	})
}

// touchAutologinActivity pushes back a pending autologin deadline. A nil
// timer (no autologin configured, or it already fired/was stopped) makes
// this a no-op.
func (d *Display) touchAutologinActivity() {
	if d.autologinTimer != nil {
		d.autologinTimer.Reset(d.cfg.AutologinUserTimeout)
	}
}

// stopAutologinTimer cancels a pending autologin without firing it, e.g.
// because a manual login started first or the Display is tearing down.
func (d *Display) stopAutologinTimer() {
	if d.autologinTimer != nil {
		d.autologinTimer.Stop()
		d.autologinTimer = nil
	}
}

func (d *Display) onAutologinTimeout(ctx context.Context) {
	d.autologinTimer = nil

	d.mu.Lock()
	state := d.state
	g := d.greeter
	d.mu.Unlock()
	if state != StateGreeterRunning || g == nil {
		return // a manual login is already underway, or the greeter is gone
	}
	d.startAuthentication(ctx, g, d.cfg.AutoLoginUser, d.cfg.AutoLoginIsGuest)
}

// startAuthentication begins a PAM conversation for username. guestLogin
// marks the session as a guest login: if username is empty, a transient
// account is minted from the guest helper first; if username is already
// set (the Seat pre-minted it for switch_to_guest), it's used as-is. Either
// way a guest login is torn down with GuestHelper.Remove on session exit.
func (d *Display) startAuthentication(ctx context.Context, g *greeterproto.Greeter, username string, guestLogin bool) {
	d.stopAutologinTimer()

	service := d.cfg.PAMService
	if guestLogin {
		if d.cfg.GuestHelper == nil {
			d.protocolError(g, fmt.Errorf("guest login not configured"))
			return
		}
		if username == "" {
			guestUser, err := d.cfg.GuestHelper.Add(ctx)
			if err != nil {
				d.protocolError(g, fmt.Errorf("provisioning guest account: %w", err))
				return
			}
			username = guestUser
		}
	}
	if username == d.cfg.AutoLoginUser {
		service = d.cfg.PAMAutologinService
	}

	d.setState(StateAuthenticating)
	authr := authenticator.New(service, username)
	d.authr = authr
	authr.Start()

	go d.pumpAuthenticator(ctx, g, authr, username, guestLogin)
}

func (d *Display) pumpAuthenticator(ctx context.Context, g *greeterproto.Greeter, authr *authenticator.Authenticator, username string, guestLogin bool) {
	for {
		select {
		case msgs, ok := <-authr.Messages():
			if !ok {
				return
			}
			for _, m := range msgs {
				_ = g.WriteFrame(greeterproto.TagPrompt, greeterproto.EncodePrompt(greeterproto.Prompt{
					Kind: promptKindFromStyle(m.Kind),
					Text: m.Text,
				}))
			}
		case result := <-authr.Complete():
			r := result
			d.post(func() { d.onAuthComplete(ctx, g, authr, username, guestLogin, r) })
			return
		}
	}
}

func promptKindFromStyle(s authenticator.Style) greeterproto.PromptKind {
	switch s {
	case authenticator.StyleVisible:
		return greeterproto.PromptVisible
	case authenticator.StyleError:
		return greeterproto.PromptError
	case authenticator.StyleInfo:
		return greeterproto.PromptInfo
	default:
		return greeterproto.PromptSecret
	}
}

func (d *Display) onAuthComplete(ctx context.Context, g *greeterproto.Greeter, authr *authenticator.Authenticator, username string, guestLogin bool, result authenticator.Result) {
	d.mu.Lock()
	stale := d.authr != authr
	d.mu.Unlock()
	if stale {
		return // superseded by a reconnect/reset
	}

	_ = g.WriteFrame(greeterproto.TagAuthComplete, greeterproto.EncodeAuthComplete(greeterproto.AuthComplete{
		ResultCode: uint32(result),
		Username:   username,
	}))

	if result != authenticator.ResultAuthenticated {
		// system_error (and any other non-success) is reported to the
		// greeter; the Display stays in GREETER_RUNNING so the greeter
		// may retry.
		d.setState(StateGreeterRunning)
		d.authr = nil
		return
	}

	d.mu.Lock()
	d.hostedUser = username
	d.hostedUserGuest = guestLogin
	d.mu.Unlock()
	d.setState(StateAuthDone)

	id, err := identity.Lookup(username)
	if err != nil {
		d.logger.Error("authenticated user not resolvable on host", "user", username, "err", err)
		d.stopLocked(ctx, daemonerr.Wrap(daemonerr.KindSpawn, err))
		return
	}

	_ = g.WriteFrame(greeterproto.TagEndSession, nil)
	d.prepareUserSession(id)

	go func() {
		select {
		case <-d.greeterSess.Done():
		case <-time.After(greeterStopGrace):
			_ = d.greeterSess.Stop()
		}
	}()
}

func (d *Display) prepareUserSession(id identity.Identity) {
	d.userSess = session.NewUserSession(id, d.cfg.Tracker, d.logger.With("component", "user-session"))
}

func (d *Display) startUserSession(ctx context.Context, sessionKey string) {
	if d.userSess == nil {
		d.protocolError(d.greeter, fmt.Errorf("no authenticated user session prepared"))
		return
	}

	desc, ok := sessiondesc.Find(d.cfg.SessionDescriptors, sessionKey)
	if !ok && len(d.cfg.SessionDescriptors) > 0 {
		desc = d.cfg.SessionDescriptors[0]
	}
	argv := desc.Exec
	if d.cfg.SessionWrapper != "" {
		argv = append([]string{d.cfg.SessionWrapper}, argv...)
	}

	authFile, err := d.writeSessionAuth(d.userSess.Identity, "user")
	if err != nil {
		d.logger.Warn("failed writing user session auth file", "err", err)
	}

	var pamEnv map[string]string
	if d.authr != nil {
		pamEnv = d.authr.Env()
	}

	d.setState(StateStartingUserSession)
	if err := d.userSess.Prepare(argv, session.ClassUser, session.TypeX11, d.cfg.Seat, d.vtnr, authFile, pamEnv, desc.Name); err != nil {
		d.stopLocked(ctx, daemonerr.Wrap(daemonerr.KindSpawn, err))
		return
	}
	if err := d.userSess.Start(d.logPath("session"), d.cfg.Seat, d.vtnr); err != nil {
		d.stopLocked(ctx, daemonerr.Wrap(daemonerr.KindSpawn, err))
		return
	}

	d.mu.Lock()
	d.userSessionStartedAt = time.Now()
	d.mu.Unlock()

	d.setState(StateUserSessionRunning)
	userSess := d.userSess
	go func() {
		<-userSess.Done()
		d.post(func() { d.onUserSessionExited(ctx, userSess) })
	}()
}

// userSessionCrashWindow is how soon after start a signalled user-session
// exit counts as a crash rather than an ordinary session end.
const userSessionCrashWindow = 2 * time.Second

func (d *Display) onUserSessionExited(ctx context.Context, exited *session.UserSession) {
	if d.userSess != exited {
		return
	}
	exitErr := exited.ExitErr()
	d.logger.Info("user session exited", "exit_err", exitErr)

	d.mu.Lock()
	crashed := exitedBySignal(exitErr) && time.Since(d.userSessionStartedAt) < userSessionCrashWindow
	d.userSessionCrashed = crashed
	d.mu.Unlock()

	d.stopLocked(ctx, nil)
}

// exitedBySignal reports whether err is an *exec.ExitError for a process
// that terminated on a signal rather than calling exit().
func exitedBySignal(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled()
}

// CrashedUserSession reports whether this Display's most recent user
// session exited on a signal within userSessionCrashWindow of starting --
// the distinction a Seat uses to tell a genuine crash from a normal logout
// when deciding whether to keep respawning.
func (d *Display) CrashedUserSession() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userSessionCrashed
}

// writeSessionAuth writes a per-session Xauthority file, owned by id,
// binding the DisplayServer's cookie to its display address. suffix
// keeps the greeter's and the user session's files distinct since they
// are typically owned by different uids.
func (d *Display) writeSessionAuth(id identity.Identity, suffix string) (*xauth.File, error) {
	path := filepath.Join(d.cfg.RunDir, fmt.Sprintf("%s-%s.Xauthority", d.name, suffix))
	return xauth.Write(path, fmt.Sprintf("%d", d.server.Number()), d.server.Cookie(), id.UID, id.GID)
}

func (d *Display) teardownSessions(ctx context.Context) {
	d.stopAutologinTimer()
	if d.greeterSess != nil {
		_ = d.greeterSess.Stop()
		d.greeterSess = nil
	}
	if d.userSess != nil {
		_ = d.userSess.Stop()
		d.userSess = nil
	}
	if d.socket != nil {
		_ = d.socket.Close()
		d.socket = nil
	}
	if d.authr != nil {
		// Unblocks conversation()'s <-a.responses so the PAM worker goroutine
		// and its transaction (defer tx.End()) actually exit instead of
		// leaking forever once the greeter that would have answered is gone.
		d.authr.Cancel()
		d.authr = nil
	}

	d.mu.Lock()
	hostedUser := d.hostedUser
	guest := d.hostedUserGuest
	d.hostedUser = ""
	d.hostedUserGuest = false
	d.mu.Unlock()

	if guest && hostedUser != "" && d.cfg.GuestHelper != nil {
		if err := d.cfg.GuestHelper.Remove(ctx, hostedUser); err != nil {
			d.logger.Warn("removing guest account", "user", hostedUser, "err", err)
		}
	}
}

// stopLocked tears every owned resource down in reverse construction
// order and moves to StateStopped. Idempotent against repeated calls.
func (d *Display) stopLocked(ctx context.Context, cause error) {
	d.mu.Lock()
	if d.state == StateStopping || d.state == StateStopped {
		d.mu.Unlock()
		return
	}
	d.state = StateStopping
	d.mu.Unlock()
	if cause != nil {
		d.logger.Warn("display stopping", "cause", cause)
	}

	d.teardownSessions(ctx)
	if d.server != nil {
		_ = d.server.Stop()
		d.server = nil
	}

	d.setState(StateStopped)
}

// newConnectionID mints a short identifier for one greeter connection,
// used only to correlate log lines across the lifetime of that
// connection -- the way a request ID correlates an HTTP request's logs.
func newConnectionID() string {
	return uuid.NewString()[:8]
}
