package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/PanelBridge/internal/registry"
	"github.com/KevinKickass/PanelBridge/internal/simlink"
	"github.com/KevinKickass/PanelBridge/internal/types"
	"go.uber.org/zap"
)

// SimEndpoint runs sessions with the simulator. Each session attaches the
// registry and subscribes every mapped variable before it reports up.
type SimEndpoint struct {
	dialer    simlink.Dialer
	registry  *registry.Registry
	variables []types.VariableID
	logger    *zap.Logger
}

func NewSimEndpoint(dialer simlink.Dialer, reg *registry.Registry, variables []types.VariableID, logger *zap.Logger) *SimEndpoint {
	return &SimEndpoint{
		dialer:    dialer,
		registry:  reg,
		variables: variables,
		logger:    logger.With(zap.String("endpoint", SimulatorRef().String())),
	}
}

func (s *SimEndpoint) Ref() Ref {
	return SimulatorRef()
}

func (s *SimEndpoint) Run(ctx context.Context, up func(Link)) error {
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.registry.Attach(conn)
	defer s.registry.Detach()

	if err := s.registry.SubscribeAll(ctx, s.variables); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, types.ErrSimulatorUnavailable) {
			return sessionEnd(conn, err)
		}
		// Unbekannte Variablen blockieren die übrigen nicht
		s.logger.Warn("Some variables could not be subscribed", zap.Error(err))
	}

	s.logger.Info("Simulator session established",
		zap.Int("subscriptions", len(s.registry.Subscribed())))
	up(nil)

	events := conn.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return sessionEnd(conn, conn.Err())
			}
			s.registry.OnValueChanged(ctx, ev.Handle, ev.Value)
		case <-ctx.Done():
			return nil
		}
	}
}

// sessionEnd classifies why a simulator session ended.
func sessionEnd(conn simlink.Conn, err error) error {
	select {
	case <-conn.Done():
		err = conn.Err()
	default:
	}
	switch {
	case err == nil, errors.Is(err, simlink.ErrQuit), errors.Is(err, simlink.ErrClosed):
		return fmt.Errorf("simulator: %w", ErrDisconnected)
	default:
		return err
	}
}
