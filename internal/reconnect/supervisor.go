package reconnect

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/auditstream/internal/connection"
)

// Connector is the part of connection.Manager the supervisor drives.
type Connector interface {
	Connect(ctx context.Context) error
	IsActive() bool
	StateChanges() <-chan connection.StateChange
}

// Observer receives connection states and attempt outcomes, e.g. for metrics.
type Observer interface {
	ConnectionState(state string)
	ReconnectAttempt(ok bool)
	ReconnectPhase(phase string)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock sets the clock used for retry delays.
func WithClock(c clockwork.Clock) Option {
	return func(s *Supervisor) {
		s.clock = c
	}
}

// WithObserver sets an attempt observer.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) {
		s.observer = o
	}
}

// Supervisor watches connection state and retries lost connections
// according to its Policy.
type Supervisor struct {
	policy   *Policy
	conn     Connector
	clock    clockwork.Clock
	logger   *slog.Logger
	observer Observer

	lossCh  chan error
	resetCh chan struct{}

	timer  clockwork.Timer
	timerC <-chan time.Time
}

// NewSupervisor creates a supervisor.
func NewSupervisor(policy *Policy, conn Connector, logger *slog.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Supervisor{
		policy:  policy,
		conn:    conn,
		clock:   clockwork.NewRealClock(),
		logger:  logger.With("component", "reconnect"),
		lossCh:  make(chan error, 1),
		resetCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the supervised policy.
func (s *Supervisor) Policy() *Policy {
	return s.policy
}

// ReportLoss feeds a connection failure that did not come through
// StateChanges, such as a failed initial connect.
func (s *Supervisor) ReportLoss(err error) {
	select {
	case s.lossCh <- err:
	default:
	}
}

// Reset clears the policy and triggers an immediate attempt when the
// connection is down.
func (s *Supervisor) Reset() {
	select {
	case s.resetCh <- struct{}{}:
	default:
	}
}

// Run processes state changes until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.stopTimer()

	states := s.conn.StateChanges()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sc, ok := <-states:
			if !ok {
				return nil
			}
			if s.observer != nil {
				s.observer.ConnectionState(sc.To.String())
			}
			if sc.From == connection.StateConnected && sc.To == connection.StateErrored {
				s.onLoss(sc.Err)
			}

		case err := <-s.lossCh:
			s.onLoss(err)

		case <-s.resetCh:
			s.stopTimer()
			s.policy.Reset()
			s.notePhase()
			s.logger.Info("reconnection policy reset")
			if !s.conn.IsActive() {
				s.attempt(ctx)
			}

		case <-s.timerC:
			s.timerC = nil
			s.attempt(ctx)
		}
	}
}

func (s *Supervisor) onLoss(err error) {
	s.policy.ConnectionLost(err)
	s.notePhase()

	if !s.policy.CanAttempt() {
		s.logger.Warn("connection lost, reconnection exhausted", "error", err)
		return
	}

	delay := s.policy.NextDelay()
	s.logger.Warn("connection lost, scheduling reconnect", "error", err, "delay", delay)
	s.schedule(delay)
}

// attempt runs one reconnect and schedules the next on failure.
func (s *Supervisor) attempt(ctx context.Context) {
	if !s.policy.CanAttempt() {
		return
	}

	err := s.conn.Connect(ctx)
	if err == nil {
		s.policy.AttemptSucceeded()
		s.noteAttempt(true)
		s.logger.Info("reconnected")
		return
	}
	if ctx.Err() != nil {
		return
	}
	if errors.Is(err, connection.ErrConnectAborted) {
		// Disconnected on purpose while the attempt was running.
		s.logger.Info("reconnect aborted by disconnect")
		return
	}

	s.noteAttempt(false)
	if !s.policy.AttemptFailed(err) {
		s.notePhase()
		st := s.policy.Snapshot()
		s.logger.Error("reconnection attempts exhausted",
			"attempts", st.Attempts,
			"error", err,
		)
		return
	}

	delay := s.policy.NextDelay()
	s.logger.Warn("reconnect failed",
		"attempt", s.policy.Snapshot().Attempts,
		"next_delay", delay,
		"error", err,
	)
	s.schedule(delay)
}

func (s *Supervisor) schedule(d time.Duration) {
	s.stopTimer()
	s.timer = s.clock.NewTimer(d)
	s.timerC = s.timer.Chan()
}

func (s *Supervisor) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerC = nil
}

func (s *Supervisor) noteAttempt(ok bool) {
	if s.observer != nil {
		s.observer.ReconnectAttempt(ok)
		s.observer.ReconnectPhase(s.policy.Snapshot().Phase.String())
	}
}

func (s *Supervisor) notePhase() {
	if s.observer != nil {
		s.observer.ReconnectPhase(s.policy.Snapshot().Phase.String())
	}
}
