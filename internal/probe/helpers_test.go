package probe

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// replyFunc decides what an in-test UDP peer sends back for a datagram.
// Returning nil sends nothing.
type replyFunc func(payload []byte) []byte

// echo replies with the payload unchanged.
func echo(payload []byte) []byte { return payload }

// startPeer starts a UDP peer on 127.0.0.1 with an OS-assigned port and
// returns that port. The peer waits delay before each reply. It is closed
// when the test finishes.
func startPeer(t *testing.T, reply replyFunc, delay time.Duration) uint16 {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err, "failed to start test UDP peer")
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, from, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			out := reply(append([]byte(nil), buf[:n]...))
			if out == nil {
				continue
			}
			if delay > 0 {
				time.Sleep(delay)
			}
			_, _ = conn.WriteTo(out, from)
		}
	}()

	return uint16(conn.LocalAddr().(*net.UDPAddr).Port)
}

// unusedPort returns a loopback UDP port that had no listener a moment ago.
func unusedPort(t *testing.T) uint16 {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return uint16(port)
}

// quietLogger returns a logger that discards everything.
func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
