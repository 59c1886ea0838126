package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
simulator:
  url: ws://127.0.0.1:8500/simlink
panels:
  - id: main
    type: eventsim
    address: /dev/ttyACM0
  - id: asi
    type: airspeed
    address: tcp://10.0.0.5:4000
    settle_delay: 100ms
  - id: aux
    type: line
    address: /dev/ttyUSB1
    elements:
      - id: GEAR
        direction: output
      - id: FLAPS
        direction: input
mapping:
  path: configs/mapping.yaml
auth:
  users:
    - username: pilot
      password_hash: "$argon2id$v=19$m=65536,t=1,p=1$c2FsdA$aGFzaA"
      role: operator
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 50051, cfg.Server.GRPCPort)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.Initial)
	assert.Equal(t, 5*time.Second, cfg.Reconnect.Max)
	assert.Equal(t, 2.0, cfg.Reconnect.Multiplier)
	assert.Equal(t, "PanelBridge", cfg.Simulator.ClientName)
	assert.Equal(t, 2*time.Second, cfg.Simulator.RequestTimeout)
	assert.Equal(t, 60*time.Minute, cfg.Auth.AccessTokenTTL)

	require.Len(t, cfg.Panels, 3)
	assert.Equal(t, 100*time.Millisecond, cfg.Panels[1].SettleDelay)
	assert.Equal(t, []ElementConfig{{ID: "GEAR", Direction: "output"}, {ID: "FLAPS", Direction: "input"}}, cfg.Panels[2].Elements)
	assert.Equal(t, "configs/mapping.yaml", cfg.Mapping.Path)
	assert.Equal(t, "pilot", cfg.Auth.Users[0].Username)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PANELBRIDGE_SIMULATOR_URL", "ws://sim.local:9000/simlink")
	t.Setenv("PANELBRIDGE_SERVER_HTTP_PORT", "9090")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "ws://sim.local:9000/simlink", cfg.Simulator.URL)
	assert.Equal(t, 9090, cfg.Server.HTTPPort)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		Simulator: SimulatorConfig{URL: "ws://localhost:8500"},
		Mapping:   MappingConfig{Path: "mapping.yaml"},
		Panels: []PanelConfig{
			{ID: "main", Type: "eventsim", Address: "/dev/ttyACM0"},
			{ID: "aux", Type: "line", Address: "/dev/ttyUSB0", Elements: []ElementConfig{{ID: "GEAR", Direction: "output"}}},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"missing simulator url", func(c *Config) { c.Simulator.URL = "" }},
		{"missing mapping path", func(c *Config) { c.Mapping.Path = "" }},
		{"missing panel id", func(c *Config) { c.Panels[0].ID = "" }},
		{"duplicate panel id", func(c *Config) { c.Panels[1].ID = "main" }},
		{"unknown panel type", func(c *Config) { c.Panels[0].Type = "modbus" }},
		{"missing address", func(c *Config) { c.Panels[0].Address = "" }},
		{"elements on fixed catalog", func(c *Config) {
			c.Panels[0].Elements = []ElementConfig{{ID: "MISC1", Direction: "input"}}
		}},
		{"invalid element direction", func(c *Config) { c.Panels[1].Elements[0].Direction = "sideways" }},
		{"duplicate element", func(c *Config) {
			c.Panels[1].Elements = append(c.Panels[1].Elements, ElementConfig{ID: "GEAR", Direction: "input"})
		}},
		{"user without hash", func(c *Config) { c.Auth.Users = []UserConfig{{Username: "pilot"}} }},
	}

	require.NoError(t, validConfig().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, types.IsConfiguration(err))
		})
	}
}

func TestCatalog(t *testing.T) {
	cfg := validConfig()
	cfg.Panels = append(cfg.Panels, PanelConfig{ID: "free", Type: "line", Address: "/dev/ttyUSB2"})
	catalog := cfg.Catalog()

	dir, ok := catalog.Direction(types.PanelElement{Panel: "main", Element: "MISC1"})
	assert.True(t, ok)
	assert.Equal(t, types.DirectionInput, dir)

	_, ok = catalog.Direction(types.PanelElement{Panel: "main", Element: "NOPE"})
	assert.False(t, ok)

	dir, ok = catalog.Direction(types.PanelElement{Panel: "aux", Element: "GEAR"})
	assert.True(t, ok)
	assert.Equal(t, types.DirectionOutput, dir)

	_, ok = catalog.Direction(types.PanelElement{Panel: "aux", Element: "FLAPS"})
	assert.False(t, ok)

	dir, ok = catalog.Direction(types.PanelElement{Panel: "free", Element: "ANYTHING"})
	assert.True(t, ok)
	assert.Equal(t, types.DirectionBidirectional, dir)

	_, ok = catalog.Direction(types.PanelElement{Panel: "ghost", Element: "MISC1"})
	assert.False(t, ok)
}

func TestJWTSecretFallback(t *testing.T) {
	a := AuthConfig{JWTSecretEnv: "PANELBRIDGE_TEST_SECRET"}
	t.Setenv("PANELBRIDGE_TEST_SECRET", "")
	assert.False(t, a.IsProductionReady())

	t.Setenv("PANELBRIDGE_TEST_SECRET", "0123456789abcdef0123456789abcdef")
	assert.Equal(t, "0123456789abcdef0123456789abcdef", a.GetJWTSecret())
	assert.True(t, a.IsProductionReady())
}
