package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mmr-tortoise/udp-portcheck/internal/model"
)

// diagnosticEvery selects which ports get step-by-step debug lines.
const diagnosticEvery = 10000

// aLongTimeAgo is a deadline in the past used to unblock pending I/O when
// the probe context is cancelled.
var aLongTimeAgo = time.Unix(1, 0)

// Options tunes a single probe.
type Options struct {
	// AcceptAny restores the permissive behavior where any datagram received
	// on the probe socket counts as success, whatever its content. When
	// false, the reply must be byte-identical to the token.
	AcceptAny bool

	// Logger receives per-step debug lines. May be nil.
	Logger logrus.FieldLogger
}

// ProbeFunc is the signature of a single-port probe. The Scheduler calls
// Probe by default; tests substitute their own.
type ProbeFunc func(ctx context.Context, ip net.IP, port uint16, token []byte, opts Options) model.ProbeOutcome

// Probe runs one challenge/response exchange against ip:port.
//
// Steps:
//  1. Bind a fresh ephemeral local UDP socket (ReasonBind on failure).
//  2. Send token to ip:port (ReasonSend).
//  3. Read from the same socket (ReasonRecv). In strict mode datagrams
//     that do not come from ip:port are skipped.
//  4. In strict mode, compare the target's payload to token (ReasonMismatch).
//
// ctx bounds the whole sequence. If ctx is done before step 3 completes the
// outcome is ReasonTimeout, regardless of how far the sequence got. The
// socket is closed on every return path.
func Probe(ctx context.Context, ip net.IP, port uint16, token []byte, opts Options) model.ProbeOutcome {
	addr := &net.UDPAddr{IP: ip, Port: int(port)}
	log := stepLogger(opts.Logger, addr, port)

	if err := ctx.Err(); err != nil {
		return model.Failure(port, model.ReasonTimeout, err)
	}

	log.Debug("begin to probe")

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", ":0")
	if err != nil {
		return model.Failure(port, classify(ctx, err, model.ReasonBind), fmt.Errorf("bind local socket: %w", err))
	}
	defer func() { _ = conn.Close() }()

	// The probe deadline goes on the socket first. The AfterFunc below may
	// then only ever move it into the past, never back into the future, so
	// a run cancelled between the two calls still unblocks immediately.
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return model.Failure(port, model.ReasonBind, fmt.Errorf("set deadline: %w", err))
		}
	}

	// Reads and writes on a PacketConn do not observe ctx. Setting a
	// deadline in the past is the only way to wake a goroutine parked in
	// ReadFrom, and it makes the pending call fail with a timeout error
	// that classify maps to ReasonTimeout.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(aLongTimeAgo) })
	defer stop()

	start := time.Now()
	if _, err := conn.WriteTo(token, addr); err != nil {
		return model.Failure(port, classify(ctx, err, model.ReasonSend), fmt.Errorf("send token to %s: %w", addr, err))
	}
	log.Debug("token sent")

	// One byte more than the longest valid token: a longer datagram fills
	// the buffer completely and can never compare equal to the token.
	buf := make([]byte, model.MaxTokenLen+1)
	var n int
	for {
		var from net.Addr
		n, from, err = conn.ReadFrom(buf)
		if err != nil {
			return model.Failure(port, classify(ctx, err, model.ReasonRecv), fmt.Errorf("recv from %s: %w", addr, err))
		}
		// The ephemeral socket is unconnected, so anyone may write to it.
		// In strict mode only the target's reply decides the outcome; stray
		// datagrams are skipped and the read resumes under the same deadline.
		if opts.AcceptAny || fromTarget(from, addr) {
			break
		}
		log.WithField("from", from.String()).Debug("ignoring datagram from another sender")
	}
	rtt := time.Since(start)

	if !opts.AcceptAny && !bytes.Equal(buf[:n], token) {
		return model.Failure(port, model.ReasonMismatch,
			fmt.Errorf("reply from %s is %q, expected %q", addr, buf[:n], token))
	}

	log.WithField("rtt", rtt).Debug("reply received")
	return model.Success(port, rtt)
}

// fromTarget reports whether from is the probed address. An unspecified
// target IP (0.0.0.0 or ::) is answered from whichever local address the
// kernel picks, so only the port is compared in that case.
func fromTarget(from net.Addr, target *net.UDPAddr) bool {
	udp, ok := from.(*net.UDPAddr)
	if !ok || udp.Port != target.Port {
		return false
	}
	return target.IP.IsUnspecified() || udp.IP.Equal(target.IP)
}

// classify maps an I/O error to a failure reason. Anything that happened
// because the probe context ended, or because the socket deadline fired,
// counts as a timeout; everything else keeps the step's own reason.
func classify(ctx context.Context, err error, step model.FailureReason) model.FailureReason {
	if ctx.Err() != nil {
		return model.ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ReasonTimeout
	}
	return step
}

// stepLogger returns a logger for the port's step-by-step lines, or a
// discarding logger for ports that are not selected for diagnostics.
func stepLogger(logger logrus.FieldLogger, addr *net.UDPAddr, port uint16) logrus.FieldLogger {
	if logger == nil || port%diagnosticEvery != 0 {
		return discard
	}
	return logger.WithFields(logrus.Fields{
		"addr": addr.String(),
		"port": port,
	})
}

var discard = func() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}()
