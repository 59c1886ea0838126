package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cockpitYAML = `
version: 1
description: landing gear and lights
mappings:
  - panel: cockpit
    element: PARKING_BRAKE
    variable: BRAKE PARKING INDICATOR
    unit: bool
    direction: input
    event: PARKING_BRAKE_SET
  - panel: cockpit
    element: FRONT_GEAR_LED
    variable: GEAR CENTER POSITION
    unit: percent over 100
    direction: output
    transform:
      type: enum
      values:
        - {panel: 0, sim: 0}
        - {panel: 1, sim: 1}
      default_panel: 2
  - panel: airspeed
    element: AIRSPEED
    variable: AIRSPEED INDICATED
    unit: knots
    direction: output
    transform:
      type: linear
      scale: 1
      round: true
`

func TestLoaderParseYAML(t *testing.T) {
	loader, err := NewLoader(nil)
	require.NoError(t, err)

	entries, err := loader.Parse([]byte(cockpitYAML))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "PARKING_BRAKE_SET", entries[0].Event)
	assert.Equal(t, types.DirectionInput, entries[0].Direction)
	assert.Equal(t, types.VariableID{Name: "BRAKE PARKING INDICATOR", Unit: "bool"}, entries[0].Variable)

	assert.Equal(t, TransformEnum, entries[1].Transform.Kind())
	led, err := entries[1].Transform.ToPanel(0.4)
	require.NoError(t, err)
	assert.Equal(t, 2.0, led)

	assert.Equal(t, TransformLinear, entries[2].Transform.Kind())
	assert.Equal(t, 2, entries[2].Index)
}

func TestLoaderParseJSON(t *testing.T) {
	loader, err := NewLoader(nil)
	require.NoError(t, err)

	doc := `{"version": 1, "mappings": [{"panel": "p", "element": "E", "variable": "V", "direction": "output"}]}`
	entries, err := loader.Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, TransformIdentity, entries[0].Transform.Kind())
}

func TestLoaderRejectsSchemaViolations(t *testing.T) {
	loader, err := NewLoader(nil)
	require.NoError(t, err)

	docs := map[string]string{
		"missing version":  "mappings: []",
		"bad direction":    "version: 1\nmappings:\n  - {panel: p, element: E, variable: V, direction: up}",
		"unknown field":    "version: 1\nmappings:\n  - {panel: p, element: E, variable: V, direction: input, colour: red}",
		"enum without map": "version: 1\nmappings:\n  - {panel: p, element: E, variable: V, direction: input, transform: {type: enum}}",
		"empty":            "",
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			_, err := loader.Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoaderSearchPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mapping.yaml"), []byte(cockpitYAML), 0o644))

	loader, err := NewLoader([]string{filepath.Join(dir, "missing"), dir})
	require.NoError(t, err)

	entries, err := loader.Load("mapping.yaml")
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	_, err = loader.Load("other.yaml")
	assert.Error(t, err)
}
