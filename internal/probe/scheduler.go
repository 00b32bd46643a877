package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/mmr-tortoise/udp-portcheck/internal/model"
)

// defaultProgressEvery is how many completed probes pass between two
// progress lines.
const defaultProgressEvery = 10000

// Task describes one client run over a port range.
type Task struct {
	// IP is the target host.
	IP net.IP

	// Range is the inclusive port range to probe.
	Range model.PortRange

	// Token is sent as the challenge and expected back as the reply.
	Token string

	// Timeout bounds each probe's whole bind/send/receive sequence.
	Timeout time.Duration

	// MaxConcurrency caps how many probes run past admission at once.
	MaxConcurrency int

	// AcceptAny accepts any reply datagram as success. See Options.
	AcceptAny bool
}

// Validate checks the task's constraints before any socket is opened.
func (t Task) Validate() error {
	if t.IP == nil {
		return fmt.Errorf("target ip must be set")
	}
	if _, err := model.NewPortRange(t.Range.From, t.Range.To); err != nil {
		return err
	}
	if err := model.ValidateToken(t.Token); err != nil {
		return err
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %s", t.Timeout)
	}
	if t.MaxConcurrency < 1 {
		return fmt.Errorf("max concurrency must be >= 1, got %d", t.MaxConcurrency)
	}
	return nil
}

// Scheduler fans a Task out into one probe per port under admission
// control and collects the failures.
type Scheduler struct {
	logger        logrus.FieldLogger
	probe         ProbeFunc
	progressEvery int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithProbeFunc replaces the network probe. Used by tests to observe the
// scheduling behavior without sockets.
func WithProbeFunc(fn ProbeFunc) Option {
	return func(s *Scheduler) { s.probe = fn }
}

// WithProgressEvery sets how many completed probes pass between progress
// lines. Zero disables progress lines.
func WithProgressEvery(n int) Option {
	return func(s *Scheduler) { s.progressEvery = n }
}

// NewScheduler creates a Scheduler logging to logger.
func NewScheduler(logger logrus.FieldLogger, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:        logger,
		probe:         Probe,
		progressEvery: defaultProgressEvery,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run probes every port of task.Range and returns once all probes have
// finished.
//
// A failing probe never aborts the others. Run only returns an error when
// the task is invalid or when admission could not be obtained, which
// happens when ctx is cancelled while probes are still queued. In that case
// no Result is returned, since some ports were never probed.
func (s *Scheduler) Run(ctx context.Context, task Task) (*model.Result, error) {
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid probe task: %w", err)
	}

	admission, err := NewAdmission(task.MaxConcurrency)
	if err != nil {
		return nil, err
	}

	// Every port fails at most once, so a buffer of the range size lets
	// each task hand its failure over and return without waiting for a
	// reader. Drain runs only after the join.
	total := task.Range.Len()
	agg := NewAggregator(total)
	token := []byte(task.Token)
	completed := atomic.NewInt64(0)
	opts := Options{AcceptAny: task.AcceptAny, Logger: s.logger}

	log := s.logger.WithFields(logrus.Fields{
		"target":  task.IP.String(),
		"ports":   task.Range.String(),
		"timeout": task.Timeout,
		"maxTask": admission.Capacity(),
	})
	log.Info("probe run started")

	start := time.Now()
	var g errgroup.Group

	// One goroutine per port. The admission gate bounds open sockets, not
	// goroutines: a task holds no socket until its permit is granted.
	for _, port := range task.Range.Ports() {
		port := port
		g.Go(func() error {
			permit, err := admission.Acquire(ctx)
			if err != nil {
				return fmt.Errorf("admission for port %d: %w", port, err)
			}
			defer permit.Release()

			outcome := s.probeOne(ctx, task, port, token, opts)
			if !outcome.Succeeded() {
				agg.Add(port, outcome.Reason)
				s.logger.WithFields(logrus.Fields{
					"port":   port,
					"reason": outcome.Reason.String(),
				}).WithError(outcome.AsError()).Debug("check failed")
			}

			if n := completed.Inc(); s.progressEvery > 0 && n%int64(s.progressEvery) == 0 {
				log.WithField("active", admission.Active()).Infof("progress: %d/%d ports probed", n, total)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("probe run aborted")
		return nil, err
	}

	failed, reasons := agg.Drain()
	result := &model.Result{
		Target:          task.IP.String(),
		Range:           task.Range,
		Probed:          int(completed.Load()),
		Failed:          failed,
		Reasons:         reasons,
		PeakConcurrency: admission.Peak(),
		Elapsed:         time.Since(start),
	}

	log.WithFields(logrus.Fields{
		"failed":  len(result.Failed),
		"elapsed": result.Elapsed,
	}).Info("probe run finished")
	return result, nil
}

// probeOne runs a single probe under its own deadline. A probe that only
// reports success after the deadline has passed is turned into a timeout.
func (s *Scheduler) probeOne(ctx context.Context, task Task, port uint16, token []byte, opts Options) model.ProbeOutcome {
	probeCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	outcome := s.probe(probeCtx, task.IP, port, token, opts)
	if outcome.Succeeded() && probeCtx.Err() != nil {
		return model.Failure(port, model.ReasonTimeout, probeCtx.Err())
	}
	return outcome
}
