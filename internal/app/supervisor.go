package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"application_stats_bot/internal/infra/telemetry"

	"github.com/cenkalti/backoff/v4"
	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
)

// Connection phases.
const (
	PhaseDisconnected = "disconnected"
	PhaseConnecting   = "connecting"
	PhaseReady        = "ready"
	PhaseReconnecting = "reconnecting"
	PhaseFailed       = "failed"
)

var allPhases = []string{PhaseDisconnected, PhaseConnecting, PhaseReady, PhaseReconnecting, PhaseFailed}

const (
	eventConnect = "connect"
	eventReady   = "ready"
	eventDrop    = "drop"
	eventFail    = "fail"
	eventStop    = "stop"
)

const (
	// MaxReconnectAttempts bounds one reconnection sequence. The counter resets on ready.
	MaxReconnectAttempts = 5
	// ReconnectRetryDelay is the pause after a reconnect attempt itself failed.
	ReconnectRetryDelay = 5 * time.Second

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// ErrReconnectAttemptsExhausted is reported once the supervisor has given up.
var ErrReconnectAttemptsExhausted = errors.New("maximum reconnection attempts reached")

// Connector is the persistent platform connection owned by the Supervisor.
// Connect returns once the connection is open; readiness is reported separately
// through Supervisor.HandleReady.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect() error
}

// SupervisorConfig holds the optional knobs of a Supervisor. Zero values select defaults.
type SupervisorConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	// OnReady runs after every transition into the ready phase, outside the supervisor lock.
	OnReady func(ctx context.Context)

	// Sleep and AfterFunc are swapped out in tests.
	Sleep     func(ctx context.Context, d time.Duration) error
	AfterFunc func(d time.Duration, f func())
}

// Supervisor owns the lifecycle of the platform connection: connect, detect failure,
// reconnect with bounded exponential backoff, expose readiness.
type Supervisor struct {
	conn        Connector
	logger      *logrus.Entry
	onReady     func(ctx context.Context)
	maxAttempts int
	retryDelay  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	afterFunc   func(d time.Duration, f func())

	mu           sync.Mutex
	machine      *fsm.FSM
	attempts     int
	reconnecting bool
	stopped      bool
	failed       chan struct{}
}

func NewSupervisor(conn Connector, cfg SupervisorConfig, logger *logrus.Entry) *Supervisor {
	s := &Supervisor{
		conn:        conn,
		logger:      logger,
		onReady:     cfg.OnReady,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		sleep:       cfg.Sleep,
		afterFunc:   cfg.AfterFunc,
		failed:      make(chan struct{}),
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = MaxReconnectAttempts
	}
	if s.retryDelay <= 0 {
		s.retryDelay = ReconnectRetryDelay
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	if s.afterFunc == nil {
		s.afterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}

	s.machine = fsm.NewFSM(
		PhaseDisconnected,
		fsm.Events{
			{Name: eventConnect, Src: []string{PhaseDisconnected}, Dst: PhaseConnecting},
			{Name: eventReady, Src: []string{PhaseConnecting, PhaseReconnecting}, Dst: PhaseReady},
			{Name: eventDrop, Src: []string{PhaseConnecting, PhaseReady}, Dst: PhaseReconnecting},
			{Name: eventFail, Src: []string{PhaseConnecting, PhaseReady, PhaseReconnecting}, Dst: PhaseFailed},
			{Name: eventStop, Src: []string{PhaseConnecting, PhaseReady, PhaseReconnecting}, Dst: PhaseDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.WithFields(logrus.Fields{
					"event": e.Event,
					"from":  e.Src,
					"to":    e.Dst,
				}).Info("Connection phase changed")
				telemetry.SetPhase(e.Dst, allPhases)
			},
		},
	)
	telemetry.SetPhase(PhaseDisconnected, allPhases)
	return s
}

// Start opens the first connection. An error here is a startup failure.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.transition(eventConnect) {
		phase := s.machine.Current()
		s.mu.Unlock()
		return fmt.Errorf("cannot start supervisor in phase %s", phase)
	}
	s.mu.Unlock()

	s.logger.Info("Connecting...")
	if err := s.conn.Connect(ctx); err != nil {
		s.mu.Lock()
		s.transition(eventFail)
		s.mu.Unlock()
		return fmt.Errorf("failed to start connection: %w", err)
	}
	return nil
}

// HandleReady records a platform-reported successful connection.
func (s *Supervisor) HandleReady(ctx context.Context) {
	s.mu.Lock()
	if s.stopped || s.machine.Is(PhaseFailed) {
		s.mu.Unlock()
		return
	}
	s.attempts = 0
	s.reconnecting = false
	transitioned := s.transition(eventReady)
	s.mu.Unlock()

	if transitioned && s.onReady != nil {
		s.onReady(ctx)
	}
}

// HandleError records an asynchronous connection error and starts a reconnection
// sequence unless one is already in flight.
func (s *Supervisor) HandleError(ctx context.Context, err error) {
	s.logger.WithError(err).Error("Connection error")

	s.mu.Lock()
	busy := s.reconnecting || s.stopped || s.machine.Is(PhaseFailed)
	s.mu.Unlock()
	if busy {
		return
	}
	go s.Reconnect(ctx)
}

// Reconnect runs one reconnection attempt. It is a no-op while another attempt is in
// flight. It blocks for the backoff delay.
func (s *Supervisor) Reconnect(ctx context.Context) {
	s.mu.Lock()
	if s.reconnecting || s.stopped || s.machine.Is(PhaseFailed) {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.attempts++
	attempt := s.attempts
	telemetry.ReconnectAttempts.Inc()

	log := s.logger.WithFields(logrus.Fields{"attempt": attempt, "max_attempts": s.maxAttempts})
	log.Infof("Attempting to reconnect (%d/%d)...", attempt, s.maxAttempts)

	if attempt > s.maxAttempts {
		s.transition(eventFail)
		close(s.failed)
		s.mu.Unlock()
		log.Error("Maximum reconnection attempts reached. Giving up.")
		return
	}
	s.transition(eventDrop)
	s.mu.Unlock()

	if err := s.conn.Disconnect(); err != nil {
		log.WithError(err).Warn("Error tearing down connection")
	}

	delay := BackoffDelay(attempt)
	log.WithField("delay", delay).Infof("Waiting %s before reconnecting...", delay)
	if err := s.sleep(ctx, delay); err != nil {
		s.clearReconnecting()
		log.WithError(err).Info("Reconnection cancelled")
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.reconnecting = false
		s.mu.Unlock()
		log.Info("Supervisor stopped during backoff, not reconnecting")
		return
	}
	s.mu.Unlock()

	if err := s.conn.Connect(ctx); err != nil {
		log.WithError(err).Error("Failed to reconnect")
		// The flag must be clear before the delayed retry, otherwise the retry
		// would return immediately and the sequence would stall for good.
		s.clearReconnecting()
		s.afterFunc(s.retryDelay, func() { s.Reconnect(ctx) })
		return
	}
	log.Info("Reconnected, waiting for ready")
}

// Stop tears the connection down and disables any further reconnection.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.transition(eventStop)
	s.mu.Unlock()

	if err := s.conn.Disconnect(); err != nil {
		s.logger.WithError(err).Warn("Error closing connection")
	}
}

// Failed is closed once the supervisor gives up. The process is expected to exit non-zero.
func (s *Supervisor) Failed() <-chan struct{} {
	return s.failed
}

// Phase returns the current connection phase.
func (s *Supervisor) Phase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Current()
}

// Ready reports whether the connection is usable, along with the current phase.
func (s *Supervisor) Ready() (bool, string) {
	phase := s.Phase()
	return phase == PhaseReady, phase
}

// Attempts returns the attempt counter of the current reconnection sequence.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Reconnecting reports whether a reconnection attempt is in flight.
func (s *Supervisor) Reconnecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnecting
}

func (s *Supervisor) clearReconnecting() {
	s.mu.Lock()
	s.reconnecting = false
	s.mu.Unlock()
}

// transition fires event if the current phase allows it. Callers hold s.mu.
func (s *Supervisor) transition(event string) bool {
	if !s.machine.Can(event) {
		return false
	}
	if err := s.machine.Event(context.Background(), event); err != nil {
		s.logger.WithError(err).WithField("event", event).Warn("Phase transition rejected")
		return false
	}
	return true
}

// BackoffDelay is the wait before reconnect attempt n (1-indexed):
// min(1s * 2^(n-1), 30s).
func BackoffDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
