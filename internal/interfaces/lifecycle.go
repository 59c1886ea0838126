package interfaces

import (
	"context"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/config"
	"github.com/KevinKickass/PanelBridge/internal/hub"
	"github.com/KevinKickass/PanelBridge/internal/mapping"
	"github.com/KevinKickass/PanelBridge/internal/registry"
	"github.com/KevinKickass/PanelBridge/internal/session"
	"github.com/KevinKickass/PanelBridge/internal/storage"
)

// SystemStatus represents the current bridge state
type SystemStatus struct {
	State           string    `json:"state"`
	Simulator       string    `json:"simulator"`
	PanelCount      int       `json:"panel_count"`
	ConnectedPanels int       `json:"connected_panels"`
	Mappings        int       `json:"mappings"`
	Variables       int       `json:"variables"`
	StartedAt       time.Time `json:"started_at"`
}

type LifecycleManager interface {
	Config() *config.Config
	Table() *mapping.Table
	Registry() *registry.Registry
	Hub() *hub.Hub
	Sessions() *session.Manager
	// Storage is nil unless the diagnostics journal is enabled.
	Storage() *storage.PostgresClient
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
