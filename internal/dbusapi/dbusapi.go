// Package dbusapi publishes the /org/freedesktop/DisplayManager object
// tree: SwitchToGreeter/SwitchToUser/SwitchToGuest/Lock on each seat's own
// object, AddLocalXSeat/AddSeat on the root Manager object. Every method is
// a thin adapter onto internal/seat -- this package owns no policy of its
// own. Grounded on helixml-helix's logind-stub
// (api/cmd/logind-stub/main.go), which exports a comparable D-Bus object
// tree (Manager + per-entity objects, each with its own Introspectable)
// over the same github.com/godbus/dbus/v5 API used by internal/sessiontracker.
package dbusapi

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/lightdm-go/lightdmd/internal/daemonlog"
	"github.com/lightdm-go/lightdmd/internal/seat"
)

const (
	managerDest  = "org.freedesktop.DisplayManager"
	managerIface = "org.freedesktop.DisplayManager"
	seatIface    = "org.freedesktop.DisplayManager.Seat"
)

var managerPath = dbus.ObjectPath("/org/freedesktop/DisplayManager")

// AddSeatFunc provisions a new Seat of the given type, matching the
// AddSeat/AddLocalXSeat D-Bus contract, and returns it once it has been
// started.
// The daemon supplies this: building a Seat needs the shared display.Config
// template, the cross-seat VT-allocation mutex, and config-file defaults
// that dbusapi has no business knowing about.
type AddSeatFunc func(ctx context.Context, seatType string, properties map[string]string) (*seat.Seat, error)

// Property is one key/value pair of AddSeat's "a(ss)" properties argument.
type Property struct {
	Key   string
	Value string
}

// Manager exports the root /org/freedesktop/DisplayManager object and
// tracks the per-seat objects registered under it.
type Manager struct {
	conn    *dbus.Conn
	logger  *slog.Logger
	addSeat AddSeatFunc
	ring    *daemonlog.Ring

	mu    sync.Mutex
	seats map[string]dbus.ObjectPath
}

// New wires a Manager against an already-connected bus. addSeat may be nil
// if the daemon's configuration disallows adding seats at runtime; AddSeat
// and AddLocalXSeat then fail with "not supported" instead of panicking.
// ring may be nil, in which case RecentLogs always returns an empty slice.
func New(conn *dbus.Conn, addSeat AddSeatFunc, ring *daemonlog.Ring, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		conn:    conn,
		addSeat: addSeat,
		ring:    ring,
		logger:  logger,
		seats:   make(map[string]dbus.ObjectPath),
	}
}

// Serve requests the org.freedesktop.DisplayManager bus name and exports
// the root Manager object. Call RegisterSeat afterward for every seat the
// daemon starts, both the ones configured at startup and any AddSeat or
// AddLocalXSeat creates later.
func (m *Manager) Serve() error {
	reply, err := m.conn.RequestName(managerDest, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("dbusapi: requesting name %s: %w", managerDest, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("dbusapi: bus name %s is already owned", managerDest)
	}

	if err := m.conn.Export(m, managerPath, managerIface); err != nil {
		return fmt.Errorf("dbusapi: exporting manager object: %w", err)
	}
	if err := m.conn.Export(introspect.NewIntrospectable(&introspect.Node{
		Interfaces: []introspect.Interface{introspect.IntrospectData, {Name: managerIface}},
	}), managerPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("dbusapi: exporting manager introspection: %w", err)
	}
	return nil
}

// RegisterSeat exports s's D-Bus object under the Manager and returns its
// path.
func (m *Manager) RegisterSeat(name string, s *seat.Seat) (dbus.ObjectPath, error) {
	path := seatObjectPath(name)

	adapter := &seatAdapter{seat: s}
	if err := m.conn.Export(adapter, path, seatIface); err != nil {
		return "", fmt.Errorf("dbusapi: exporting seat %s: %w", name, err)
	}
	if err := m.conn.Export(introspect.NewIntrospectable(&introspect.Node{
		Interfaces: []introspect.Interface{introspect.IntrospectData, {Name: seatIface}},
	}), path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return "", fmt.Errorf("dbusapi: exporting seat %s introspection: %w", name, err)
	}

	m.mu.Lock()
	m.seats[name] = path
	m.mu.Unlock()
	m.logger.Debug("registered seat object", "seat", name, "path", path)
	return path, nil
}

// SeatPath returns the object path a previously registered seat was
// exported under.
func (m *Manager) SeatPath(name string) (dbus.ObjectPath, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path, ok := m.seats[name]
	return path, ok
}

func (m *Manager) seatCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seats)
}

// seatObjectPath turns a seat name ("seat0") into the object path lightdm's
// own convention uses ("Seat0" under the Manager's path) -- just
// capitalizing the leading "seat".
func seatObjectPath(name string) dbus.ObjectPath {
	trimmed := strings.TrimPrefix(strings.ToLower(name), "seat")
	return dbus.ObjectPath(string(managerPath) + "/Seat" + trimmed)
}

// AddLocalXSeat implements the root Manager's AddLocalXSeat(i) method:
// provision a new seat driving a local X server on the given display
// number.
func (m *Manager) AddLocalXSeat(displayNumber int32) (dbus.ObjectPath, *dbus.Error) {
	if m.addSeat == nil {
		return "", dbus.MakeFailedError(fmt.Errorf("dbusapi: AddLocalXSeat is not supported by this daemon"))
	}

	s, err := m.addSeat(context.Background(), "xlocal", map[string]string{
		"display-number": strconv.Itoa(int(displayNumber)),
	})
	if err != nil {
		return "", dbus.MakeFailedError(fmt.Errorf("dbusapi: AddLocalXSeat: %w", err))
	}

	name := fmt.Sprintf("seat-x%d", displayNumber)
	path, err := m.RegisterSeat(name, s)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return path, nil
}

// AddSeat implements the root Manager's AddSeat(sa(ss)) method.
func (m *Manager) AddSeat(seatType string, properties []Property) (dbus.ObjectPath, *dbus.Error) {
	if m.addSeat == nil {
		return "", dbus.MakeFailedError(fmt.Errorf("dbusapi: AddSeat is not supported by this daemon"))
	}

	props := make(map[string]string, len(properties))
	for _, p := range properties {
		props[p.Key] = p.Value
	}

	s, err := m.addSeat(context.Background(), seatType, props)
	if err != nil {
		return "", dbus.MakeFailedError(fmt.Errorf("dbusapi: AddSeat: %w", err))
	}

	name := fmt.Sprintf("seat-%s-%d", seatType, m.seatCount()+1)
	path, err := m.RegisterSeat(name, s)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return path, nil
}

// RecentLogs implements the root Manager's RecentLogs() method: the last N
// structured log records buffered in memory, oldest first, the data
// "dm-toolctl doctor" prints without needing to read the log file off
// disk. Returns an empty slice if the daemon wasn't given a ring buffer.
func (m *Manager) RecentLogs() ([]string, *dbus.Error) {
	if m.ring == nil {
		return []string{}, nil
	}
	return m.ring.GetAll(), nil
}

// seatAdapter exports org.freedesktop.DisplayManager.Seat for a single
// internal/seat.Seat. It carries no state of its own.
type seatAdapter struct {
	seat *seat.Seat
}

func (a *seatAdapter) SwitchToGreeter() *dbus.Error {
	a.seat.SwitchToGreeter(context.Background())
	return nil
}

// SwitchToUser switches to username's session. session names a desired
// session to launch if a new Display has to be created; internal/seat
// doesn't carry a per-switch session override today (a Display always uses
// its Seat's configured default), so the argument is accepted for protocol
// compatibility and otherwise ignored.
func (a *seatAdapter) SwitchToUser(username, session string) *dbus.Error {
	a.seat.SwitchToUser(context.Background(), username)
	return nil
}

func (a *seatAdapter) SwitchToGuest(session string) *dbus.Error {
	if err := a.seat.SwitchToGuest(context.Background()); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (a *seatAdapter) Lock() *dbus.Error {
	if err := a.seat.Lock(context.Background()); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}
