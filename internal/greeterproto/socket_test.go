package greeterproto

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSocket_AcceptAndFrameRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greeter.sock")
	s, err := Listen(path, nil)
	require.NoError(t, err)
	defer s.Close()

	greeterCh := make(chan *Greeter, 1)
	go func() {
		g, err := s.Accept()
		require.NoError(t, err)
		greeterCh <- g
	}()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, WriteFrame(conn, TagConnect, EncodeConnect(Connect{APIVersion: 1})))

	var g *Greeter
	select {
	case g = <-greeterCh:
	case <-time.After(2 * time.Second):
		t.Fatal("socket did not accept connection")
	}
	defer g.Close()

	frame, err := g.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, TagConnect, frame.Tag)
}

func TestSocket_RejectsConcurrentConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greeter.sock")
	s, err := Listen(path, nil)
	require.NoError(t, err)
	defer s.Close()

	acceptedCh := make(chan *Greeter, 1)
	go func() {
		g, err := s.Accept()
		require.NoError(t, err)
		acceptedCh <- g
	}()

	first, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer first.Close()

	var firstGreeter *Greeter
	select {
	case firstGreeter = <-acceptedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("first connection was never accepted")
	}
	defer firstGreeter.Close()

	// Start a second accept loop to drain and reject the second connection.
	go func() { _, _ = s.Accept() }()

	second, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer second.Close()

	buf := make([]byte, 1)
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = second.Read(buf)
	require.Error(t, err) // closed immediately, so Read observes EOF
}

func TestSocket_ReleasesSlotOnGreeterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greeter.sock")
	s, err := Listen(path, nil)
	require.NoError(t, err)
	defer s.Close()

	accepted := make(chan *Greeter, 2)
	go func() {
		for i := 0; i < 2; i++ {
			g, err := s.Accept()
			if err != nil {
				return
			}
			accepted <- g
		}
	}()

	first, err := net.Dial("unix", path)
	require.NoError(t, err)

	var firstGreeter *Greeter
	select {
	case firstGreeter = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("first connection was never accepted")
	}
	require.NoError(t, firstGreeter.Close())
	first.Close()

	second, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, WriteFrame(second, TagConnect, EncodeConnect(Connect{APIVersion: 1})))

	select {
	case secondGreeter := <-accepted:
		frame, err := secondGreeter.ReadFrame()
		require.NoError(t, err)
		require.Equal(t, TagConnect, frame.Tag)
		secondGreeter.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("second connection was never accepted after the first closed")
	}
}
