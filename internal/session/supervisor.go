package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/diagnostics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is a point-in-time view of one supervised endpoint.
type Status struct {
	Endpoint  string    `json:"endpoint"`
	State     State     `json:"state"`
	Attempt   uuid.UUID `json:"attempt"`
	Failures  int       `json:"consecutive_failures"`
	Connects  int       `json:"connects"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
	NextRetry string    `json:"next_retry,omitempty"`
	Stopped   bool      `json:"stopped"`
}

type SupervisorConfig struct {
	Backoff BackoffConfig
	// MaxAttempts stops the supervisor after that many consecutive
	// failures. Zero retries forever.
	MaxAttempts int
}

// Supervisor keeps one endpoint connected. It owns the endpoint's state
// machine and reports every transition.
type Supervisor struct {
	endpoint    Endpoint
	backoff     *Backoff
	maxAttempts int
	signals     chan<- Signal
	emitter     *diagnostics.Emitter
	logger      *zap.Logger

	mu     sync.RWMutex
	status Status
	now    func() time.Time
}

func NewSupervisor(endpoint Endpoint, cfg SupervisorConfig, signals chan<- Signal, emitter *diagnostics.Emitter, logger *zap.Logger) *Supervisor {
	ref := endpoint.Ref().String()
	return &Supervisor{
		endpoint:    endpoint,
		backoff:     NewBackoff(cfg.Backoff),
		maxAttempts: cfg.MaxAttempts,
		signals:     signals,
		emitter:     emitter,
		logger:      logger.With(zap.String("endpoint", ref)),
		status: Status{
			Endpoint: ref,
			State:    StateDisconnected,
			Since:    time.Now(),
		},
		now: time.Now,
	}
}

func (s *Supervisor) Ref() Ref {
	return s.endpoint.Ref()
}

func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Run connects, waits for the session to end and reconnects with backoff
// until ctx is done. It returns nil on shutdown and an error when it gave up.
func (s *Supervisor) Run(ctx context.Context) error {
	defer func() {
		s.mu.Lock()
		s.status.Stopped = true
		s.status.NextRetry = ""
		s.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			s.transition(StateDisconnected, nil)
			return nil
		}

		s.beginAttempt()
		s.transition(StateConnecting, nil)

		connected := false
		err := s.endpoint.Run(ctx, func(link Link) {
			connected = true
			s.backoff.Reset()
			s.markConnected()
			s.transition(StateConnected, nil)
			s.signal(ctx, Signal{Ref: s.endpoint.Ref(), Kind: SignalConnected, Link: link})
		})

		if connected {
			s.signal(ctx, Signal{Ref: s.endpoint.Ref(), Kind: SignalDisconnected, Err: err})
		}

		if ctx.Err() != nil {
			s.transition(StateDisconnected, nil)
			return nil
		}

		if err == nil || errors.Is(err, ErrDisconnected) {
			s.transition(StateDisconnected, err)
		} else {
			failures := s.recordFailure()
			s.transition(StateFaulted, err)

			if IsPermanent(err) {
				s.logger.Error("Endpoint failed permanently, not retrying", zap.Error(err))
				return err
			}
			if s.maxAttempts > 0 && failures >= s.maxAttempts {
				s.logger.Error("Endpoint exceeded reconnect attempts",
					zap.Int("max_attempts", s.maxAttempts),
					zap.Error(err))
				return fmt.Errorf("%s: giving up after %d attempts: %w", s.endpoint.Ref(), failures, err)
			}
		}

		s.setNextRetry(s.backoff.CurrentDelay())
		if err := s.backoff.Wait(ctx); err != nil {
			s.transition(StateDisconnected, nil)
			return nil
		}
	}
}

func (s *Supervisor) signal(ctx context.Context, sig Signal) {
	if s.signals == nil {
		return
	}
	select {
	case s.signals <- sig:
	case <-ctx.Done():
	}
}

func (s *Supervisor) transition(to State, cause error) {
	s.mu.Lock()
	from := s.status.State
	if from == to {
		s.mu.Unlock()
		return
	}
	if err := ValidateTransition(from, to); err != nil {
		s.mu.Unlock()
		s.logger.Error("Rejected session state change", zap.Error(err))
		return
	}
	s.status.State = to
	s.status.Since = s.now()
	if cause != nil {
		s.status.LastError = cause.Error()
	}
	if to != StateFaulted && to != StateDisconnected {
		s.status.NextRetry = ""
	}
	s.mu.Unlock()

	s.logger.Info("Session state changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.NamedError("cause", cause))

	s.emitter.Emit(diagnostics.SessionState(s.endpoint.Ref().String(), string(from), string(to), cause))
}

func (s *Supervisor) beginAttempt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Attempt = uuid.New()
	s.status.NextRetry = ""
}

func (s *Supervisor) markConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Failures = 0
	s.status.Connects++
	s.status.LastError = ""
}

func (s *Supervisor) recordFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Failures++
	return s.status.Failures
}

func (s *Supervisor) setNextRetry(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.NextRetry = d.String()
}
