package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/KevinKickass/PanelBridge/internal/diagnostics"
	"go.uber.org/zap"
)

const signalBufferSize = 64

// Manager owns one supervisor per endpoint. Every endpoint is supervised
// independently, a failing panel never affects the others.
type Manager struct {
	mu          sync.RWMutex
	supervisors []*Supervisor
	byRef       map[string]*Supervisor

	signals chan Signal
	emitter *diagnostics.Emitter
	logger  *zap.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewManager(emitter *diagnostics.Emitter, logger *zap.Logger) *Manager {
	return &Manager{
		byRef:   make(map[string]*Supervisor),
		signals: make(chan Signal, signalBufferSize),
		emitter: emitter,
		logger:  logger,
	}
}

// Add registers an endpoint. It must be called before Start.
func (m *Manager) Add(endpoint Endpoint, cfg SupervisorConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("session manager already started")
	}
	ref := endpoint.Ref().String()
	if _, exists := m.byRef[ref]; exists {
		return fmt.Errorf("endpoint %s already registered", ref)
	}

	sup := NewSupervisor(endpoint, cfg, m.signals, m.emitter, m.logger)
	m.supervisors = append(m.supervisors, sup)
	m.byRef[ref] = sup
	return nil
}

// Start launches every supervisor. Sessions run until Stop or until ctx is
// done.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("session manager already started")
	}
	m.started = true

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, sup := range m.supervisors {
		m.wg.Add(1)
		go func(sup *Supervisor) {
			defer m.wg.Done()
			if err := sup.Run(runCtx); err != nil {
				m.logger.Error("Session supervisor stopped",
					zap.String("endpoint", sup.Ref().String()),
					zap.Error(err))
			}
		}(sup)
	}

	m.logger.Info("Session manager started", zap.Int("endpoints", len(m.supervisors)))
	return nil
}

// Stop ends every session and waits for them, bounded by ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.RLock()
	cancel := m.cancel
	m.mu.RUnlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All sessions stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session shutdown timeout exceeded: %w", ctx.Err())
	}
}

// Signals delivers connect and disconnect notifications of all endpoints.
func (m *Manager) Signals() <-chan Signal {
	return m.signals
}

func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.supervisors))
	for _, sup := range m.supervisors {
		out = append(out, sup.Status())
	}
	return out
}

func (m *Manager) Status(ref string) (Status, bool) {
	m.mu.RLock()
	sup, ok := m.byRef[ref]
	m.mu.RUnlock()

	if !ok {
		return Status{}, false
	}
	return sup.Status(), true
}
