package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/api/rest"
	"github.com/KevinKickass/PanelBridge/internal/api/websocket"
	"github.com/KevinKickass/PanelBridge/internal/auth"
	"github.com/KevinKickass/PanelBridge/internal/codec"
	"github.com/KevinKickass/PanelBridge/internal/config"
	"github.com/KevinKickass/PanelBridge/internal/diagnostics"
	"github.com/KevinKickass/PanelBridge/internal/hub"
	"github.com/KevinKickass/PanelBridge/internal/interfaces"
	"github.com/KevinKickass/PanelBridge/internal/mapping"
	"github.com/KevinKickass/PanelBridge/internal/metrics"
	"github.com/KevinKickass/PanelBridge/internal/registry"
	"github.com/KevinKickass/PanelBridge/internal/session"
	"github.com/KevinKickass/PanelBridge/internal/simlink"
	"github.com/KevinKickass/PanelBridge/internal/storage"
	"github.com/KevinKickass/PanelBridge/internal/transport"
	"github.com/KevinKickass/PanelBridge/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)

// Drivers opens the outside world. Tests replace them with fakes.
type Drivers struct {
	Simulator simlink.Dialer
	Panels    transport.Opener
}

type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger

	table       *mapping.Table
	registry    *registry.Registry
	hub         *hub.Hub
	sessions    *session.Manager
	streamer    *diagnostics.Streamer
	storage     *storage.PostgresClient
	journal     *storage.Journal
	authService *auth.AuthService
	wsHub       *websocket.Hub
	health      *health.Server

	restServer *rest.Server
	grpcServer *grpc.Server

	cancel    context.CancelFunc
	hubCancel context.CancelFunc
	wg        sync.WaitGroup

	stateMu      sync.RWMutex
	currentState SystemState
	startedAt    time.Time

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager wires the bridge from cfg. A broken mapping file fails
// here with a *types.ConfigurationError before anything connects.
func NewLifecycleManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	return newLifecycleManager(ctx, cfg, logger, Drivers{
		Simulator: simlink.NewWSDialer(cfg.Simulator.URL, cfg.Simulator.ClientName,
			cfg.Simulator.RequestTimeout, cfg.Simulator.DialTimeout, logger),
		Panels: transport.NewMux(),
	})
}

func newLifecycleManager(ctx context.Context, cfg *config.Config, logger *zap.Logger, drivers Drivers) (*LifecycleManager, error) {
	loader, err := mapping.NewLoader(cfg.Mapping.SearchPaths)
	if err != nil {
		return nil, err
	}
	entries, err := loader.Load(cfg.Mapping.Path)
	if err != nil {
		return nil, err
	}
	table, err := mapping.NewTable(entries, cfg.Catalog())
	if err != nil {
		return nil, err
	}

	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		table:        table,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	// Diagnostics: log, metrics, live stream, gRPC health und optional Journal
	lm.streamer = diagnostics.NewStreamerWithBuffer(cfg.Diagnostics.StreamBuffer)
	lm.health = health.NewServer()
	emitter := diagnostics.NewEmitter(
		diagnostics.NewZapSink(logger),
		metrics.NewSink(),
		lm.streamer,
		newHealthSink(lm.health, lm.endpointRefs()),
	)

	if cfg.Database.Enabled {
		db, err := storage.NewPostgresClient(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect diagnostics journal: %w", err)
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		lm.storage = db
		lm.journal = storage.NewJournal(db, cfg.Diagnostics.JournalBuffer, logger)
		emitter.Add(lm.journal)
	}

	lm.registry = registry.New(emitter, logger)
	lm.sessions = session.NewManager(emitter, logger)

	encoders := make(map[types.PanelID]codec.Encoder, len(cfg.Panels))
	for _, p := range cfg.Panels {
		spec, _ := codec.Lookup(p.Type)
		encoders[types.PanelID(p.ID)] = spec.Encoder
	}
	lm.hub = hub.New(hub.Config{
		Table:    table,
		Registry: lm.registry,
		Encoders: encoders,
		Signals:  lm.sessions.Signals(),
		Emitter:  emitter,
		Metrics:  metrics.Hub{},
	}, logger)

	sim := session.NewSimEndpoint(drivers.Simulator, lm.registry, table.Variables(), logger)
	if err := lm.sessions.Add(sim, lm.supervisorConfig(0)); err != nil {
		return nil, err
	}
	for _, p := range cfg.Panels {
		spec, _ := codec.Lookup(p.Type)
		endpoint := session.NewPanelEndpoint(panelEndpointConfig(p, spec), drivers.Panels, lm.hub.Inputs(), emitter, logger)
		if err := lm.sessions.Add(endpoint, lm.supervisorConfig(p.MaxAttempts)); err != nil {
			return nil, err
		}
	}

	lm.authService = auth.NewAuthService(cfg.Auth, logger)
	lm.wsHub = websocket.NewHub(logger, lm.authService, lm.streamer)

	logger.Info("Bridge wired",
		zap.Int("panels", len(cfg.Panels)),
		zap.Int("mappings", table.Len()),
		zap.Int("variables", len(table.Variables())),
		zap.Bool("journal", lm.journal != nil))

	return lm, nil
}

func panelEndpointConfig(p config.PanelConfig, spec *codec.Spec) session.PanelConfig {
	settle := p.SettleDelay
	if settle == 0 {
		settle = spec.SettleDelay
	}
	return session.PanelConfig{
		ID:               types.PanelID(p.ID),
		Address:          p.Address,
		Spec:             spec,
		Options:          transport.Options{BaudRate: p.BaudRate},
		SettleDelay:      settle,
		HandshakeTimeout: p.HandshakeTimeout,
		QueueSize:        p.QueueSize,
	}
}

func (lm *LifecycleManager) supervisorConfig(maxAttempts int) session.SupervisorConfig {
	if maxAttempts == 0 {
		maxAttempts = lm.config.Reconnect.MaxAttempts
	}
	return session.SupervisorConfig{
		Backoff: session.BackoffConfig{
			Initial:    lm.config.Reconnect.Initial,
			Max:        lm.config.Reconnect.Max,
			Multiplier: lm.config.Reconnect.Multiplier,
		},
		MaxAttempts: maxAttempts,
	}
}

func (lm *LifecycleManager) endpointRefs() []session.Ref {
	refs := []session.Ref{session.SimulatorRef()}
	for _, p := range lm.config.Panels {
		refs = append(refs, session.PanelRef(types.PanelID(p.ID)))
	}
	return refs
}

// Start starts routing, sessions and the API servers.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting PanelBridge")

	runCtx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel
	hubCtx, hubCancel := context.WithCancel(runCtx)
	lm.hubCancel = hubCancel

	lm.goRun(func() {
		if err := lm.hub.Run(hubCtx); err != nil && !errors.Is(err, context.Canceled) {
			lm.logger.Error("Hub stopped", zap.Error(err))
		}
	})
	lm.goRun(func() { lm.wsHub.Run(runCtx) })
	if lm.journal != nil {
		lm.goRun(func() { lm.journal.Run(runCtx) })
	}

	if err := lm.sessions.Start(runCtx); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start sessions: %w", err)
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start gRPC: %w", err)
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.stateMu.Lock()
	lm.startedAt = time.Now()
	lm.stateMu.Unlock()
	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort))

	return nil
}

func (lm *LifecycleManager) goRun(fn func()) {
	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		fn()
	}()
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

// Shutdown gracefully shuts down the system. Only the first call does work.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		if shutdownErr != nil {
			lm.setError(shutdownErr)
		}
		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// 1. Hub und Sessions bekommen das Signal gleichzeitig
	if lm.hubCancel != nil {
		lm.hubCancel()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lm.sessions.Stop(ctx); err != nil {
			errChan <- fmt.Errorf("session manager stop failed: %w", err)
		}
	}()

	// 2. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 3. gRPC Server graceful stop
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.health.Shutdown()
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		err = fmt.Errorf("shutdown timeout exceeded")
	}

	// Live stream and journal stop last so the final session records still
	// reach them.
	if lm.cancel != nil {
		lm.cancel()
	}
	lm.wg.Wait()
	if lm.storage != nil {
		lm.storage.Close()
	}

	select {
	case e := <-errChan:
		if err == nil {
			err = e
		}
	default:
	}

	if err == nil {
		lm.logger.Info("Graceful shutdown completed")
	}
	return err
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Ignoring system state change", zap.Error(err))
		return
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.setState(StateError)
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	startedAt := lm.startedAt
	lm.stateMu.RUnlock()

	status := interfaces.SystemStatus{
		State:      state.String(),
		Simulator:  session.StateDisconnected.String(),
		PanelCount: len(lm.config.Panels),
		Mappings:   lm.table.Len(),
		Variables:  len(lm.table.Variables()),
		StartedAt:  startedAt,
	}

	for _, s := range lm.sessions.Statuses() {
		if s.Endpoint == session.SimulatorRef().String() {
			status.Simulator = s.State.String()
			continue
		}
		if s.State == session.StateConnected {
			status.ConnectedPanels++
		}
	}

	return status
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Table() *mapping.Table {
	return lm.table
}

func (lm *LifecycleManager) Registry() *registry.Registry {
	return lm.registry
}

func (lm *LifecycleManager) Hub() *hub.Hub {
	return lm.hub
}

func (lm *LifecycleManager) Sessions() *session.Manager {
	return lm.sessions
}

// Storage returns the journal database, nil when the journal is disabled.
func (lm *LifecycleManager) Storage() *storage.PostgresClient {
	return lm.storage
}

// Health exposes the gRPC health service, e.g. for in-process checks.
func (lm *LifecycleManager) Health() healthpb.HealthServer {
	return lm.health
}
