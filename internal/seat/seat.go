// Package seat owns one physical seat's collection of Displays: which
// Display (if any) is showing its greeter, which already host a logged-in
// user's session, and the policy for switch-to-user/guest/greeter
// requests arriving from the D-Bus admin surface or the companion CLI.
package seat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightdm-go/lightdmd/internal/display"
	"github.com/lightdm-go/lightdmd/internal/guest"
)

// A Seat gives up respawning and stops outright once its user session has
// crashed maxUserSessionCrashes times within userSessionCrashWindow --
// repeated fast crashes point at a broken session, not a transient fault.
const (
	userSessionCrashWindow = 60 * time.Second
	maxUserSessionCrashes  = 3
)

// Template holds the parts of display.Config that are the same for every
// Display this Seat creates; Seat fills in the per-Display fields
// (Seat name and AutoLoginUser) itself.
type Template = display.Config

// Seat owns the Displays for one physical seat and serializes switch
// requests against them.
type Seat struct {
	name string
	tmpl Template

	allowGuest  bool
	guestHelper *guest.Helper
	logger      *slog.Logger

	// events serializes switch_to_*/lock/stop requests: only one switch
	// is in flight at a time, and subsequent requests queue FIFO -- the
	// same single-dispatch-goroutine shape internal/display uses for its
	// own event ordering guarantee.
	events  chan func()
	stopped chan struct{}
	stopReq sync.Once

	mu         sync.Mutex
	displays   []*display.Display
	stopping   bool
	nextID     atomic.Uint64
	crashTimes []time.Time
}

// New creates a Seat named name (e.g. "seat0"). tmpl is the shared
// display.Config every Display this Seat starts is built from; its Seat
// and AutoLoginUser fields are overwritten per Display.
func New(name string, tmpl Template, allowGuest bool, guestHelper *guest.Helper, logger *slog.Logger) *Seat {
	if logger == nil {
		logger = slog.Default()
	}
	tmpl.Seat = name
	tmpl.GuestHelper = guestHelper
	return &Seat{
		name:        name,
		tmpl:        tmpl,
		allowGuest:  allowGuest,
		guestHelper: guestHelper,
		logger:      logger.With("seat", name),
		events:      make(chan func(), 16),
		stopped:     make(chan struct{}),
	}
}

// Stopped is closed once every Display this Seat owns has stopped,
// following a call to Stop.
func (s *Seat) Stopped() <-chan struct{} { return s.stopped }

// Start shows the initial greeter, equivalent to switch_to_greeter.
func (s *Seat) Start(ctx context.Context) {
	go s.run(ctx)
	s.post(func() { s.switchToUser(ctx, "", false) })
}

func (s *Seat) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.stopped:
	}
}

func (s *Seat) run(ctx context.Context) {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-ctx.Done():
			return
		case <-s.stopped:
			return
		}
	}
}

// SwitchToGreeter always creates a new Display showing a fresh greeter
// rather than reusing an existing one.
func (s *Seat) SwitchToGreeter(ctx context.Context) {
	s.post(func() { s.switchToUser(ctx, "", false) })
}

// SwitchToUser activates username's existing session if one of this
// Seat's Displays already hosts it; otherwise it stops the current
// greeter and starts a new Display that auto-logs username in.
func (s *Seat) SwitchToUser(ctx context.Context, username string) {
	s.post(func() { s.switchToUser(ctx, username, false) })
}

// SwitchToGuest provisions a transient guest account via the configured
// helper and then proceeds exactly like SwitchToUser.
func (s *Seat) SwitchToGuest(ctx context.Context) error {
	if !s.allowGuest {
		return fmt.Errorf("seat %s: guest login not allowed", s.name)
	}
	if s.guestHelper == nil {
		return fmt.Errorf("seat %s: no guest-account-script configured", s.name)
	}

	username, err := s.guestHelper.Add(ctx)
	if err != nil {
		return fmt.Errorf("seat %s: provisioning guest account: %w", s.name, err)
	}

	s.post(func() { s.switchToUser(ctx, username, true) })
	return nil
}

// Lock reports that lock-screen overlay isn't supported: it would need a
// second concurrent greeter/authenticator pair layered over a still-running
// user session, which internal/display's single state machine doesn't
// model (see DESIGN.md). Surfaced here rather than half-wired further down.
func (s *Seat) Lock(context.Context) error {
	return fmt.Errorf("seat %s: lock is not supported", s.name)
}

// Stop stops every Display this Seat owns. Stopped is closed once the
// last one has exited. Routed through the same event queue as
// switch_to_*, so a switch already in flight finishes (and can't start a
// new Display that Stop would otherwise race past) before teardown runs.
func (s *Seat) Stop() {
	s.post(func() {
		s.mu.Lock()
		s.stopping = true
		displays := append([]*display.Display(nil), s.displays...)
		s.mu.Unlock()

		if len(displays) == 0 {
			s.closeStopped()
			return
		}
		for _, d := range displays {
			d.Stop()
		}
	})
}

func (s *Seat) closeStopped() {
	s.stopReq.Do(func() { close(s.stopped) })
}

// switchToUser reuses an already-logged-in Display for username if one
// exists, closing any stray greeter Displays found along the way;
// otherwise it stops the seat's current greeter (if any) and starts a
// fresh Display auto-logging username in (or showing a plain greeter,
// if username is empty).
func (s *Seat) switchToUser(ctx context.Context, username string, isGuest bool) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}

	var toStop []*display.Display
	for _, d := range s.displays {
		if d.State() == display.StateStopped || d.State() == display.StateStopping {
			continue
		}

		hosted, ok := d.HostedUser()
		if username != "" && ok && hosted == username {
			s.mu.Unlock()
			s.logger.Info("reusing existing session", "user", username)
			s.setActiveDisplay(d)
			return
		}

		if !ok {
			// Showing a greeter (or mid-authentication): stray, close it.
			toStop = append(toStop, d)
		}
	}
	s.mu.Unlock()

	for _, d := range toStop {
		d.Stop()
	}

	s.startNewDisplay(ctx, username, isGuest)
}

func (s *Seat) startNewDisplay(ctx context.Context, username string, isGuest bool) {
	cfg := s.tmpl
	cfg.Seat = s.name
	if isGuest || username != "" {
		cfg.AutoLoginUser = username
	}
	cfg.AutoLoginIsGuest = isGuest

	name := fmt.Sprintf("%s-%d", s.name, s.nextID.Add(1))
	d := display.New(name, cfg)

	s.mu.Lock()
	s.displays = append(s.displays, d)
	s.mu.Unlock()

	go func() {
		<-d.Stopped()
		s.onDisplayStopped(d)
	}()

	d.Start(ctx)
}

func (s *Seat) onDisplayStopped(stopped *display.Display) {
	crashed := stopped.CrashedUserSession()

	s.mu.Lock()
	kept := s.displays[:0]
	for _, d := range s.displays {
		if d != stopped {
			kept = append(kept, d)
		}
	}
	s.displays = kept
	stopping := s.stopping

	fatal := false
	if crashed && !stopping {
		if s.recordCrash() {
			fatal = true
			s.stopping = true
			stopping = true
		}
	}

	remaining := append([]*display.Display(nil), s.displays...)
	empty := len(s.displays) == 0
	s.mu.Unlock()

	if fatal {
		s.logger.Error("user session crashed repeatedly, stopping seat",
			"crashes", maxUserSessionCrashes, "window", userSessionCrashWindow)
		for _, d := range remaining {
			d.Stop()
		}
	}

	if stopping && empty {
		s.logger.Debug("seat stopped")
		s.closeStopped()
		return
	}

	if !stopping {
		// Respawn the greeter unless the seat is being shut down: a
		// Display that stopped on its own (crash, session exit, idle
		// timeout) is replaced with a fresh one.
		s.post(func() { s.switchToUser(context.Background(), "", false) })
	}
}

// recordCrash appends the current time to the crash window, pruning
// entries older than userSessionCrashWindow, and reports whether the seat
// has now seen maxUserSessionCrashes within that window. Caller must hold
// s.mu.
func (s *Seat) recordCrash() bool {
	now := time.Now()
	cutoff := now.Add(-userSessionCrashWindow)
	kept := s.crashTimes[:0]
	for _, t := range s.crashTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.crashTimes = append(kept, now)
	return len(s.crashTimes) >= maxUserSessionCrashes
}

// setActiveDisplay only logs that an existing Display was reused. It does
// not record an active Display on the Seat and issues no VT-switch ioctls
// (VT_ACTIVATE/VT_WAITACTIVE); the VT the X server was started on stays
// current until something else switches away from it.
func (s *Seat) setActiveDisplay(d *display.Display) {
	s.logger.Debug("display reused for already-logged-in session")
}

// CurrentDisplay returns the Display currently hosting username's session
// on this Seat, if any.
func (s *Seat) CurrentDisplay(username string) (*display.Display, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.displays {
		if hosted, ok := d.HostedUser(); ok && hosted == username {
			return d, true
		}
	}
	return nil, false
}
