package greeterproto

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
)

// Socket is the daemon-owned UNIX listening socket greeters connect to.
// Only one greeter connection is accepted at a time; concurrent accepts
// are closed immediately.
type Socket struct {
	path   string
	ln     net.Listener
	mu     sync.Mutex
	active bool
	logger *slog.Logger
}

// Listen creates the socket at path, removing any stale socket file left
// behind by a previous run first.
func Listen(path string, logger *slog.Logger) (*Socket, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("greeterproto: removing stale socket %s: %w", path, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("greeterproto: listening on %s: %w", path, err)
	}

	return &Socket{path: path, ln: ln, logger: logger}, nil
}

// Path is the socket's filesystem path (exported to greeters via
// LIGHTDM_GREETER_SOCKET).
func (s *Socket) Path() string { return s.path }

// Accept blocks for the next greeter connection. If a greeter is already
// connected, any further incoming connection is accepted and closed
// immediately rather than queued.
func (s *Socket) Accept() (*Greeter, error) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return nil, fmt.Errorf("greeterproto: accepting connection: %w", err)
		}

		s.mu.Lock()
		if s.active {
			s.mu.Unlock()
			s.logger.Debug("rejecting concurrent greeter connection")
			conn.Close()
			continue
		}
		s.active = true
		s.mu.Unlock()

		return &Greeter{conn: conn, socket: s}, nil
	}
}

// Close stops accepting connections and removes the socket file.
func (s *Socket) Close() error {
	err := s.ln.Close()
	_ = os.RemoveAll(s.path)
	return err
}

// Greeter is one accepted greeter connection.
type Greeter struct {
	conn   net.Conn
	socket *Socket
}

// ReadFrame reads the next frame from this greeter.
func (g *Greeter) ReadFrame() (Frame, error) {
	return ReadFrame(g.conn)
}

// WriteFrame sends a frame to this greeter.
func (g *Greeter) WriteFrame(tag Tag, body []byte) error {
	return WriteFrame(g.conn, tag, body)
}

// Close disconnects the greeter and frees the socket's single connection
// slot for the next Accept.
func (g *Greeter) Close() error {
	g.socket.mu.Lock()
	g.socket.active = false
	g.socket.mu.Unlock()
	return g.conn.Close()
}
