// Package daemon wires internal/config into a running set of Seats. It
// owns the cross-seat VT-allocation mutex every Seat's Displays share,
// supervises the daemon's top-level goroutines
// with internal/rungroup, and (when given a bus connection) publishes the
// D-Bus admin surface through internal/dbusapi.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/lightdm-go/lightdmd/internal/config"
	"github.com/lightdm-go/lightdmd/internal/daemonerr"
	"github.com/lightdm-go/lightdmd/internal/daemonlog"
	"github.com/lightdm-go/lightdmd/internal/dbusapi"
	"github.com/lightdm-go/lightdmd/internal/display"
	"github.com/lightdm-go/lightdmd/internal/guest"
	"github.com/lightdm-go/lightdmd/internal/identity"
	"github.com/lightdm-go/lightdmd/internal/rungroup"
	"github.com/lightdm-go/lightdmd/internal/seat"
	"github.com/lightdm-go/lightdmd/internal/session"
	"github.com/lightdm-go/lightdmd/internal/sessiondesc"
	"github.com/lightdm-go/lightdmd/internal/sessiontracker"
)

// Options configures the pieces of the environment New needs beyond the
// parsed config file.
type Options struct {
	RunDir string
	LogDir string
	Logger *slog.Logger

	// DBusConn, if non-nil, is used to publish the
	// /org/freedesktop/DisplayManager object tree. A daemon started without
	// a reachable system bus (a container without logind, most tests) just
	// runs without the D-Bus surface.
	DBusConn *dbus.Conn

	// Tracker registers user sessions with logind. Nil disables session
	// tracking (UserSession.Start simply skips the CreateSession call).
	Tracker *sessiontracker.Tracker

	// LogRing backs the D-Bus RecentLogs method dm-toolctl doctor calls.
	// Nil disables it (RecentLogs then always returns no records).
	LogRing *daemonlog.Ring

	// ResolveIdentity resolves the account the greeter process runs as.
	// Defaults to identity.Lookup; overridable so tests don't depend on a
	// real "lightdm" system account existing.
	ResolveIdentity func(username string) (identity.Identity, error)
}

// Root is the DaemonRoot: every Seat the daemon runs, the template they're
// all built from, and the optional D-Bus/logind integrations.
type Root struct {
	cfg    *config.Config
	runDir string
	logDir string
	logger *slog.Logger

	resolveIdentity func(string) (identity.Identity, error)
	vtMutex         *sync.Mutex
	tracker         *sessiontracker.Tracker
	dbusMgr         *dbusapi.Manager

	mu            sync.Mutex
	seats         map[string]*seat.Seat
	nextDynamicID atomic.Uint64

	group *rungroup.RunGroup
}

// New builds every Seat cfg describes (or a single default "seat0" if cfg
// has no [Seat:*] sections) but starts nothing -- call Run to bring the
// daemon up.
func New(cfg *config.Config, opts Options) (*Root, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ResolveIdentity == nil {
		opts.ResolveIdentity = identity.Lookup
	}

	r := &Root{
		cfg:             cfg,
		runDir:          opts.RunDir,
		logDir:          opts.LogDir,
		logger:          opts.Logger,
		resolveIdentity: opts.ResolveIdentity,
		vtMutex:         &sync.Mutex{},
		tracker:         opts.Tracker,
		seats:           make(map[string]*seat.Seat),
		group:           rungroup.NewRunGroup(),
	}
	r.group.SetSlogger(opts.Logger)

	if opts.DBusConn != nil {
		r.dbusMgr = dbusapi.New(opts.DBusConn, r.provisionSeat, opts.LogRing, opts.Logger.With("component", "dbusapi"))
	}

	seatConfigs := cfg.Seats
	if len(seatConfigs) == 0 {
		seatConfigs = []config.SeatConfig{{Name: "seat0", SeatDefaults: cfg.SeatDefaults}}
	}

	for _, sc := range seatConfigs {
		if err := r.addConfiguredSeat(sc); err != nil {
			return nil, daemonerr.Wrap(daemonerr.KindConfig, err)
		}
	}

	return r, nil
}

func (r *Root) addConfiguredSeat(sc config.SeatConfig) error {
	tmpl, err := r.buildTemplate(sc.SeatDefaults)
	if err != nil {
		return fmt.Errorf("daemon: seat %s: %w", sc.Name, err)
	}

	s := seat.New(sc.Name, tmpl, sc.AllowGuest, r.guestHelperFor(sc.SeatDefaults), r.logger.With("seat", sc.Name))

	r.mu.Lock()
	r.seats[sc.Name] = s
	r.mu.Unlock()
	return nil
}

func (r *Root) guestHelperFor(sd config.SeatDefaults) *guest.Helper {
	if !sd.AllowGuest || r.cfg.LightDM.GuestAccountScript == "" {
		return nil
	}
	return guest.New(r.cfg.LightDM.GuestAccountScript)
}

// buildTemplate turns one [SeatDefaults]/[Seat:*] section into the
// display.Config every Display this Seat starts is built from.
func (r *Root) buildTemplate(sd config.SeatDefaults) (display.Config, error) {
	greeterID, err := r.resolveIdentity("lightdm")
	if err != nil {
		return display.Config{}, fmt.Errorf("resolving greeter identity: %w", err)
	}

	serverCommand := strings.Fields(sd.XServerCommand)
	if sd.XServerLayout != "" {
		serverCommand = append(serverCommand, "-layout", sd.XServerLayout)
	}

	greeterDescs, err := sessiondesc.Load(r.cfg.LightDM.GreetersDirectory)
	if err != nil {
		r.logger.Warn("loading greeter sessions", "dir", r.cfg.LightDM.GreetersDirectory, "err", err)
	}
	greeterArgv := []string{"/usr/sbin/lightdm-greeter"}
	if desc, ok := sessiondesc.Find(greeterDescs, sd.GreeterSession); ok {
		greeterArgv = desc.Exec
	}

	sessionDescs, err := sessiondesc.Load(r.cfg.LightDM.SessionsDirectory)
	if err != nil {
		r.logger.Warn("loading user sessions", "dir", r.cfg.LightDM.SessionsDirectory, "err", err)
	}

	var tracker session.Tracker
	if r.tracker != nil {
		tracker = r.tracker
	}

	return display.Config{
		MinVT: r.cfg.LightDM.MinimumVT,

		ServerCommand: serverCommand,
		RunDir:        r.runDir,
		LogDir:        r.logDir,

		GreeterIdentity: greeterID,
		GreeterArgv:     greeterArgv,
		SessionWrapper:  sd.SessionWrapper,

		SessionDescriptors: sessionDescs,
		DefaultSessionKey:  sd.GreeterSession,

		PAMService:           r.cfg.LightDM.PAMService,
		PAMAutologinService:  r.cfg.LightDM.PAMAutologinService,
		AutoLoginUser:        sd.AutologinUser,
		AutologinUserTimeout: time.Duration(sd.AutologinUserTimeout) * time.Second,

		Tracker: tracker,

		VTMutex: r.vtMutex,

		Logger: r.logger,
	}, nil
}

// Run shows every seat's initial greeter, publishes the D-Bus surface if
// one was configured, and blocks until the daemon is told to stop (ctx
// cancellation or a fatal actor error), tearing every Seat down along the
// way.
func (r *Root) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	seats := r.allSeats()
	for _, s := range seats {
		s.Start(ctx)
	}

	if r.dbusMgr != nil {
		if err := r.dbusMgr.Serve(); err != nil {
			return fmt.Errorf("daemon: starting dbus surface: %w", err)
		}
		for name, s := range r.seatsByName() {
			if _, err := r.dbusMgr.RegisterSeat(name, s); err != nil {
				r.logger.Warn("registering seat on dbus", "seat", name, "err", err)
			}
		}
	}

	r.group.Add("context", func() error {
		<-ctx.Done()
		return ctx.Err()
	}, func(error) { cancel() })

	r.group.Add("seats", func() error {
		for _, s := range seats {
			<-s.Stopped()
		}
		return nil
	}, func(error) {
		for _, s := range r.allSeats() {
			s.Stop()
		}
	})

	return r.group.Run()
}

// provisionSeat implements dbusapi.AddSeatFunc: build a fresh Seat from the
// daemon's shared template, start it, and register it so later switch
// requests can find it by name.
func (r *Root) provisionSeat(ctx context.Context, seatType string, properties map[string]string) (*seat.Seat, error) {
	tmpl, err := r.buildTemplate(r.cfg.SeatDefaults)
	if err != nil {
		return nil, fmt.Errorf("daemon: provisioning %s seat: %w", seatType, err)
	}

	name := fmt.Sprintf("seat-dynamic-%d", r.nextDynamicID.Add(1))
	s := seat.New(name, tmpl, r.cfg.SeatDefaults.AllowGuest, r.guestHelperFor(r.cfg.SeatDefaults), r.logger.With("seat", name))

	r.mu.Lock()
	r.seats[name] = s
	r.mu.Unlock()

	r.logger.Info("provisioned seat", "seat", name, "type", seatType, "properties", properties)
	s.Start(ctx)
	return s, nil
}

// Seat looks up a running seat by name.
func (r *Root) Seat(name string) (*seat.Seat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.seats[name]
	return s, ok
}

func (r *Root) allSeats() []*seat.Seat {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*seat.Seat, 0, len(r.seats))
	for _, s := range r.seats {
		out = append(out, s)
	}
	return out
}

func (r *Root) seatsByName() map[string]*seat.Seat {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*seat.Seat, len(r.seats))
	for name, s := range r.seats {
		out[name] = s
	}
	return out
}
