package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnector struct {
	mu            sync.Mutex
	connectErrs   []error
	alwaysFail    bool
	disconnectErr error
	connects      int
	disconnects   int
}

func (c *fakeConnector) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.alwaysFail {
		return errors.New("login rejected")
	}
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		return err
	}
	return nil
}

func (c *fakeConnector) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return c.disconnectErr
}

func (c *fakeConnector) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects, c.disconnects
}

type scheduledRetry struct {
	delay time.Duration
	fn    func()
}

// harness records sleeps and delayed retries instead of waiting.
type harness struct {
	mu      sync.Mutex
	sleeps  []time.Duration
	retries []scheduledRetry
	readies int
}

func (h *harness) config() SupervisorConfig {
	return SupervisorConfig{
		OnReady: func(context.Context) {
			h.mu.Lock()
			h.readies++
			h.mu.Unlock()
		},
		Sleep: func(_ context.Context, d time.Duration) error {
			h.mu.Lock()
			h.sleeps = append(h.sleeps, d)
			h.mu.Unlock()
			return nil
		},
		AfterFunc: func(d time.Duration, f func()) {
			h.mu.Lock()
			h.retries = append(h.retries, scheduledRetry{delay: d, fn: f})
			h.mu.Unlock()
		},
	}
}

// runRetries fires queued retries until none remain.
func (h *harness) runRetries() int {
	ran := 0
	for {
		h.mu.Lock()
		if len(h.retries) == 0 {
			h.mu.Unlock()
			return ran
		}
		next := h.retries[0]
		h.retries = h.retries[1:]
		h.mu.Unlock()
		next.fn()
		ran++
	}
}

func startedSupervisor(t *testing.T, conn *fakeConnector, h *harness) *Supervisor {
	t.Helper()
	s := NewSupervisor(conn, h.config(), testLogger())
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, PhaseConnecting, s.Phase())
	s.HandleReady(context.Background())
	require.Equal(t, PhaseReady, s.Phase())
	return s
}

func TestBackoffDelay(t *testing.T) {
	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, want := range expected {
		assert.Equal(t, want, BackoffDelay(i+1), "attempt %d", i+1)
	}
}

func TestSupervisor_AttemptsResetAfterReady(t *testing.T) {
	for n := 0; n <= MaxReconnectAttempts; n++ {
		t.Run(fmt.Sprintf("%d_errors", n), func(t *testing.T) {
			conn := &fakeConnector{}
			h := &harness{}
			s := startedSupervisor(t, conn, h)

			if n > 0 {
				// The first n-1 attempts fail to log in; attempt n succeeds.
				for i := 0; i < n-1; i++ {
					conn.connectErrs = append(conn.connectErrs, errors.New("gateway unavailable"))
				}
				s.Reconnect(context.Background())
				h.runRetries()

				assert.Equal(t, n, s.Attempts())
				assert.Equal(t, PhaseReconnecting, s.Phase())
				s.HandleReady(context.Background())
			}

			assert.Equal(t, 0, s.Attempts())
			assert.False(t, s.Reconnecting())
			assert.Equal(t, PhaseReady, s.Phase())
			assert.Len(t, h.sleeps, n)
			for i, d := range h.sleeps {
				assert.Equal(t, BackoffDelay(i+1), d)
			}
			connects, _ := conn.counts()
			assert.Equal(t, 1+n, connects)
			assert.Equal(t, 1+min(n, 1), h.readies)
		})
	}
}

func TestSupervisor_GivesUpAfterMaxAttempts(t *testing.T) {
	conn := &fakeConnector{}
	h := &harness{}
	s := startedSupervisor(t, conn, h)

	conn.mu.Lock()
	conn.alwaysFail = true
	conn.mu.Unlock()

	s.Reconnect(context.Background())
	h.runRetries()

	select {
	case <-s.Failed():
	default:
		t.Fatal("supervisor did not give up")
	}
	assert.Equal(t, PhaseFailed, s.Phase())
	assert.Equal(t, MaxReconnectAttempts+1, s.Attempts())

	connects, _ := conn.counts()
	assert.Equal(t, 1+MaxReconnectAttempts, connects)

	// Terminal: nothing restarts the sequence.
	s.Reconnect(context.Background())
	s.HandleError(context.Background(), errors.New("late error"))
	s.HandleReady(context.Background())
	time.Sleep(20 * time.Millisecond)

	connects, _ = conn.counts()
	assert.Equal(t, 1+MaxReconnectAttempts, connects)
	assert.Equal(t, PhaseFailed, s.Phase())
}

func TestSupervisor_OneSequenceInFlight(t *testing.T) {
	conn := &fakeConnector{}
	entered := make(chan struct{})
	release := make(chan struct{})

	cfg := SupervisorConfig{
		Sleep: func(ctx context.Context, d time.Duration) error {
			close(entered)
			<-release
			return nil
		},
		AfterFunc: func(time.Duration, func()) {},
	}
	s := NewSupervisor(conn, cfg, testLogger())
	require.NoError(t, s.Start(context.Background()))
	s.HandleReady(context.Background())

	done := make(chan struct{})
	go func() {
		s.Reconnect(context.Background())
		close(done)
	}()
	<-entered

	// Both entry points must see the in-flight sequence and back off.
	s.Reconnect(context.Background())
	s.HandleError(context.Background(), errors.New("second error"))
	assert.Equal(t, 1, s.Attempts())
	assert.True(t, s.Reconnecting())

	close(release)
	<-done

	connects, disconnects := conn.counts()
	assert.Equal(t, 2, connects)
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, 1, s.Attempts())
}

func TestSupervisor_FailedAttemptDoesNotStall(t *testing.T) {
	conn := &fakeConnector{connectErrs: []error{nil, errors.New("login rejected")}}
	h := &harness{}
	s := NewSupervisor(conn, h.config(), testLogger())
	require.NoError(t, s.Start(context.Background()))
	s.HandleReady(context.Background())

	s.Reconnect(context.Background())

	assert.False(t, s.Reconnecting(), "flag must be cleared before the delayed retry")
	require.Len(t, h.retries, 1)
	assert.Equal(t, ReconnectRetryDelay, h.retries[0].delay)

	assert.Equal(t, 1, h.runRetries())
	connects, _ := conn.counts()
	assert.Equal(t, 3, connects)
	assert.Equal(t, 2, s.Attempts())
	assert.True(t, s.Reconnecting())

	s.HandleReady(context.Background())
	assert.Equal(t, 0, s.Attempts())
	assert.Equal(t, PhaseReady, s.Phase())
}

func TestSupervisor_HandleErrorStartsReconnect(t *testing.T) {
	conn := &fakeConnector{}
	h := &harness{}
	s := startedSupervisor(t, conn, h)

	s.HandleError(context.Background(), errors.New("websocket closed"))

	require.Eventually(t, func() bool {
		connects, _ := conn.counts()
		return connects == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, PhaseReconnecting, s.Phase())

	s.HandleReady(context.Background())
	assert.Equal(t, PhaseReady, s.Phase())
	assert.Equal(t, 2, h.readies)
}

func TestSupervisor_TeardownErrorIsNotFatal(t *testing.T) {
	conn := &fakeConnector{disconnectErr: errors.New("already closed")}
	h := &harness{}
	s := startedSupervisor(t, conn, h)

	s.Reconnect(context.Background())

	connects, disconnects := conn.counts()
	assert.Equal(t, 2, connects)
	assert.Equal(t, 1, disconnects)
	assert.Empty(t, h.retries)
}

func TestSupervisor_CancelledBackoff(t *testing.T) {
	conn := &fakeConnector{}
	s := NewSupervisor(conn, SupervisorConfig{}, testLogger())
	require.NoError(t, s.Start(context.Background()))
	s.HandleReady(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Reconnect(ctx)

	connects, _ := conn.counts()
	assert.Equal(t, 1, connects)
	assert.False(t, s.Reconnecting())
}

func TestSupervisor_StartFailure(t *testing.T) {
	conn := &fakeConnector{connectErrs: []error{errors.New("invalid token")}}
	s := NewSupervisor(conn, SupervisorConfig{}, testLogger())

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
	assert.Equal(t, PhaseFailed, s.Phase())

	assert.Error(t, s.Start(context.Background()))
}

func TestSupervisor_StopDisablesReconnect(t *testing.T) {
	conn := &fakeConnector{}
	h := &harness{}
	s := startedSupervisor(t, conn, h)

	s.Stop()
	assert.Equal(t, PhaseDisconnected, s.Phase())

	s.Reconnect(context.Background())
	s.HandleReady(context.Background())

	connects, disconnects := conn.counts()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, PhaseDisconnected, s.Phase())
	ready, phase := s.Ready()
	assert.False(t, ready)
	assert.Equal(t, PhaseDisconnected, phase)
}

func TestSupervisor_ErrorAfterRecoveryStartsNewSequence(t *testing.T) {
	conn := &fakeConnector{}
	h := &harness{}
	s := startedSupervisor(t, conn, h)

	s.Reconnect(context.Background())
	s.HandleReady(context.Background())
	require.Equal(t, PhaseReady, s.Phase())
	require.False(t, s.Reconnecting())

	s.HandleError(context.Background(), errors.New("websocket closed"))

	require.Eventually(t, func() bool {
		connects, _ := conn.counts()
		return connects == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, s.Attempts())
	assert.Equal(t, []time.Duration{BackoffDelay(1), BackoffDelay(1)}, h.sleeps)
}

func TestSupervisor_StopDuringBackoffSkipsConnect(t *testing.T) {
	conn := &fakeConnector{}
	var s *Supervisor
	cfg := SupervisorConfig{
		Sleep: func(context.Context, time.Duration) error {
			s.Stop()
			return nil
		},
		AfterFunc: func(time.Duration, func()) {},
	}
	s = NewSupervisor(conn, cfg, testLogger())
	require.NoError(t, s.Start(context.Background()))
	s.HandleReady(context.Background())

	s.Reconnect(context.Background())

	connects, _ := conn.counts()
	assert.Equal(t, 1, connects)
	assert.False(t, s.Reconnecting())
	assert.Equal(t, PhaseDisconnected, s.Phase())
}
