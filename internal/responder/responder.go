package responder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/mmr-tortoise/udp-portcheck/internal/model"
)

// maxConsecutiveErrors is how many failed reads in a row make the socket
// count as unusable.
const maxConsecutiveErrors = 100

// Stats counts what a Responder has seen since it started.
type Stats struct {
	Received   int64 `json:"received"`
	Echoed     int64 `json:"echoed"`
	Mismatched int64 `json:"mismatched"`
	Errors     int64 `json:"errors"`
}

// Responder answers matching tokens with an identical reply.
type Responder struct {
	token  []byte
	logger logrus.FieldLogger

	received   *atomic.Int64
	echoed     *atomic.Int64
	mismatched *atomic.Int64
	errs       *atomic.Int64
}

// New creates a Responder for token.
func New(token string, logger logrus.FieldLogger) (*Responder, error) {
	if err := model.ValidateToken(token); err != nil {
		return nil, err
	}
	return &Responder{
		token:      []byte(token),
		logger:     logger,
		received:   atomic.NewInt64(0),
		echoed:     atomic.NewInt64(0),
		mismatched: atomic.NewInt64(0),
		errs:       atomic.NewInt64(0),
	}, nil
}

// Listen binds the UDP endpoint ip:port. Port 0 lets the OS pick one.
func Listen(ctx context.Context, ip net.IP, port uint16) (net.PacketConn, error) {
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind addr %s: %w", addr, err)
	}
	return conn, nil
}

// Serve runs the receive/compare/echo loop on conn until ctx is cancelled
// or the socket becomes unusable. Serve closes conn before returning.
//
// A nil error means the loop stopped because ctx was cancelled.
func (r *Responder) Serve(ctx context.Context, conn net.PacketConn) error {
	defer func() { _ = conn.Close() }()

	// ReadFrom does not observe ctx. Closing the socket on cancellation
	// fails the pending read, and the ctx.Err check in the loop tells that
	// shutdown apart from a socket closed underneath us.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	log := r.logger.WithField("addr", conn.LocalAddr().String())
	log.Info("responder listening")

	// One spare byte so an oversize datagram cannot be truncated into a
	// match.
	buf := make([]byte, model.MaxTokenLen+1)
	consecutive := 0

	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				log.WithFields(r.fields()).Info("responder stopped")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("listening socket closed: %w", err)
			}

			r.errs.Inc()
			consecutive++
			log.WithError(err).Error("recv data failed")
			if consecutive >= maxConsecutiveErrors {
				return fmt.Errorf("listening socket unusable after %d consecutive receive errors: %w", consecutive, err)
			}
			continue
		}
		consecutive = 0
		r.received.Inc()

		payload := buf[:n]
		entry := log.WithField("from", from.String())

		if !bytes.Equal(payload, r.token) {
			r.mismatched.Inc()
			entry.Warnf("recv data %q != token %q", payload, r.token)
			continue
		}

		if _, err := conn.WriteTo(payload, from); err != nil {
			r.errs.Inc()
			entry.WithError(err).Error("reply failed")
			continue
		}
		r.echoed.Inc()
		entry.Debug("token echoed")
	}
}

// Stats returns a snapshot of the counters.
func (r *Responder) Stats() Stats {
	return Stats{
		Received:   r.received.Load(),
		Echoed:     r.echoed.Load(),
		Mismatched: r.mismatched.Load(),
		Errors:     r.errs.Load(),
	}
}

func (r *Responder) fields() logrus.Fields {
	s := r.Stats()
	return logrus.Fields{
		"received":   s.Received,
		"echoed":     s.Echoed,
		"mismatched": s.Mismatched,
		"errors":     s.Errors,
	}
}
