package probe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/udp-portcheck/internal/model"
)

var loopback = net.ParseIP("127.0.0.1")

func probeCtx(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// TestProbe_EchoSuccess verifies a correct echo is a success with an RTT.
func TestProbe_EchoSuccess(t *testing.T) {
	port := startPeer(t, echo, 0)

	outcome := Probe(probeCtx(t, time.Second), loopback, port, []byte("ping"), Options{Logger: quietLogger()})
	require.NoError(t, outcome.AsError())
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, port, outcome.Port)
	assert.Greater(t, outcome.RTT, time.Duration(0))
}

// TestProbe_NoResponder verifies that a port with nothing listening fails.
// Depending on the platform the failure surfaces as an ICMP-driven receive
// error or, more commonly for unconnected sockets, as a timeout.
func TestProbe_NoResponder(t *testing.T) {
	port := unusedPort(t)

	outcome := Probe(probeCtx(t, 200*time.Millisecond), loopback, port, []byte("ping"), Options{})
	assert.False(t, outcome.Succeeded())
	assert.Contains(t, []model.FailureReason{model.ReasonTimeout, model.ReasonRecv}, outcome.Reason)
	assert.Error(t, outcome.AsError())
}

// TestProbe_LateReplyIsTimeout verifies that a reply arriving after the
// deadline does not count, even though it eventually arrives.
func TestProbe_LateReplyIsTimeout(t *testing.T) {
	port := startPeer(t, echo, 300*time.Millisecond)

	outcome := Probe(probeCtx(t, 100*time.Millisecond), loopback, port, []byte("ping"), Options{})
	assert.False(t, outcome.Succeeded())
	assert.Equal(t, model.ReasonTimeout, outcome.Reason)
}

// TestProbe_CancelledContext verifies that a probe whose context is already
// done does not touch the network and reports a timeout.
func TestProbe_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := Probe(ctx, loopback, 9, []byte("ping"), Options{})
	assert.Equal(t, model.ReasonTimeout, outcome.Reason)
}

// TestProbe_CancelWhileWaiting verifies that cancelling the context wakes a
// blocked read well before the deadline.
func TestProbe_CancelWhileWaiting(t *testing.T) {
	port := startPeer(t, func([]byte) []byte { return nil }, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	outcome := Probe(ctx, loopback, port, []byte("ping"), Options{})
	assert.Equal(t, model.ReasonTimeout, outcome.Reason)
	assert.Less(t, time.Since(start), 2*time.Second, "cancel should unblock the read")
}

// TestCancelDuringSocketSetup cancels the run at varying points
// around socket setup. Whenever the cancel lands, the check must return
// promptly instead of waiting out the per-port deadline.
func TestCancelDuringSocketSetup(t *testing.T) {
	port := startPeer(t, func([]byte) []byte { return nil }, 0)

	for i := 0; i < 20; i++ {
		parent, cancel := context.WithCancel(context.Background())
		ctx, cancelPort := context.WithTimeout(parent, 5*time.Second)
		time.AfterFunc(time.Duration(i*25)*time.Microsecond, cancel)

		start := time.Now()
		outcome := Probe(ctx, loopback, port, []byte("ping"), Options{})
		elapsed := time.Since(start)
		cancelPort()
		cancel()

		assert.Equal(t, model.ReasonTimeout, outcome.Reason)
		assert.Less(t, elapsed, 2*time.Second, "iteration %d waited for the probe deadline", i)
	}
}

// Reply verification. The permissive behavior (any datagram is success)
// exists for compatibility with older responders; the default is strict.

// TestProbe_StrictRejectsWrongReply verifies that in the default strict
// mode a reply that differs from the token is a mismatch failure.
func TestProbe_StrictRejectsWrongReply(t *testing.T) {
	port := startPeer(t, func([]byte) []byte { return []byte("pong") }, 0)

	outcome := Probe(probeCtx(t, time.Second), loopback, port, []byte("ping"), Options{})
	assert.False(t, outcome.Succeeded())
	assert.Equal(t, model.ReasonMismatch, outcome.Reason)
	assert.Contains(t, outcome.Err.Error(), `"pong"`)
}

// TestProbe_AcceptAnyTakesWrongReply verifies that AcceptAny treats any
// datagram as success.
func TestProbe_AcceptAnyTakesWrongReply(t *testing.T) {
	port := startPeer(t, func([]byte) []byte { return []byte("pong") }, 0)

	outcome := Probe(probeCtx(t, time.Second), loopback, port, []byte("ping"), Options{AcceptAny: true})
	assert.True(t, outcome.Succeeded())
}

// TestProbe_StrictRejectsPrefix verifies a reply that is only a prefix of
// the token is not accepted.
func TestProbe_StrictRejectsPrefix(t *testing.T) {
	port := startPeer(t, func(p []byte) []byte { return p[:len(p)-1] }, 0)

	outcome := Probe(probeCtx(t, time.Second), loopback, port, []byte("ping"), Options{})
	assert.Equal(t, model.ReasonMismatch, outcome.Reason)
}

// TestStrictReply_SkipsOtherSenders verifies that a datagram reaching the
// ephemeral socket from a third party does not settle the outcome, and the
// target's correct echo that follows it is still accepted.
func TestStrictReply_SkipsOtherSenders(t *testing.T) {
	target, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = target.Close() })

	stray, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = stray.Close() })

	go func() {
		buf := make([]byte, 64)
		n, from, err := target.ReadFrom(buf)
		if err != nil {
			return
		}
		_, _ = stray.WriteTo([]byte("junk"), from)
		time.Sleep(50 * time.Millisecond)
		_, _ = target.WriteTo(buf[:n], from)
	}()

	port := uint16(target.LocalAddr().(*net.UDPAddr).Port)
	outcome := Probe(probeCtx(t, time.Second), loopback, port, []byte("ping"), Options{})
	require.NoError(t, outcome.AsError())
	assert.True(t, outcome.Succeeded())
}

// TestStrictReply_OtherSenderOnlyTimesOut verifies that when only a third
// party answers, the check waits for the target until the deadline.
func TestStrictReply_OtherSenderOnlyTimesOut(t *testing.T) {
	target, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = target.Close() })

	stray, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = stray.Close() })

	go func() {
		buf := make([]byte, 64)
		_, from, err := target.ReadFrom(buf)
		if err != nil {
			return
		}
		_, _ = stray.WriteTo([]byte("ping"), from)
	}()

	port := uint16(target.LocalAddr().(*net.UDPAddr).Port)
	outcome := Probe(probeCtx(t, 200*time.Millisecond), loopback, port, []byte("ping"), Options{})
	assert.Equal(t, model.ReasonTimeout, outcome.Reason)
}

// TestFromTarget checks sender matching, including IPv4-mapped replies and
// unspecified targets.
func TestFromTarget(t *testing.T) {
	target := &net.UDPAddr{IP: loopback, Port: 9000}

	tests := []struct {
		name   string
		from   net.Addr
		target *net.UDPAddr
		want   bool
	}{
		{"same address", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}, target, true},
		{"ipv4-mapped form", &net.UDPAddr{IP: net.ParseIP("::ffff:127.0.0.1"), Port: 9000}, target, true},
		{"other port", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9001}, target, false},
		{"other ip", &net.UDPAddr{IP: net.ParseIP("127.0.0.2"), Port: 9000}, target, false},
		{"unspecified target", &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 9000},
			&net.UDPAddr{IP: net.IPv4zero, Port: 9000}, true},
		{"not udp", &net.TCPAddr{IP: loopback, Port: 9000}, target, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fromTarget(tt.from, tt.target))
		})
	}
}

// TestClassify maps step errors to reasons.
func TestClassify(t *testing.T) {
	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()

	plain := &net.OpError{Op: "write", Net: "udp", Err: assert.AnError}
	assert.Equal(t, model.ReasonSend, classify(live, plain, model.ReasonSend))
	assert.Equal(t, model.ReasonTimeout, classify(done, plain, model.ReasonSend))

	var timeoutErr net.Error = &net.DNSError{IsTimeout: true}
	assert.Equal(t, model.ReasonTimeout, classify(live, timeoutErr, model.ReasonRecv))
}
