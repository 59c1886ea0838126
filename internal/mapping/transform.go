package mapping

import (
	"errors"
	"fmt"
	"math"

	"github.com/KevinKickass/PanelBridge/internal/types"
)

// ErrUndefined is returned when a transform is asked to convert in a
// direction it does not define.
var ErrUndefined = errors.New("transform not defined in this direction")

type TransformKind string

const (
	TransformIdentity TransformKind = "identity"
	TransformLinear   TransformKind = "linear"
	TransformEnum     TransformKind = "enum"
	TransformBits     TransformKind = "bits"
)

const defaultTolerance = 1e-9

// Transform converts between a panel's raw value domain and a simulator
// variable's value domain. Implementations are pure.
type Transform interface {
	Kind() TransformKind
	// ToSim converts a raw panel value into a simulator value.
	ToSim(raw float64) (float64, error)
	// ToPanel converts a simulator value into a raw panel value.
	ToPanel(sim float64) (float64, error)
	// Defines reports whether every flow implied by d can be converted.
	Defines(d types.Direction) bool
	// Tolerance is the accepted round-trip error for continuous transforms.
	Tolerance() float64
}

// TransformConfig is the declarative form of a transform in a mapping file.
type TransformConfig struct {
	Type         string     `yaml:"type" json:"type"`
	Scale        *float64   `yaml:"scale,omitempty" json:"scale,omitempty"`
	Offset       float64    `yaml:"offset,omitempty" json:"offset,omitempty"`
	Round        bool       `yaml:"round,omitempty" json:"round,omitempty"`
	Tolerance    float64    `yaml:"tolerance,omitempty" json:"tolerance,omitempty"`
	Values       []EnumPair `yaml:"values,omitempty" json:"values,omitempty"`
	DefaultPanel *float64   `yaml:"default_panel,omitempty" json:"default_panel,omitempty"`
	DefaultSim   *float64   `yaml:"default_sim,omitempty" json:"default_sim,omitempty"`
	Mask         uint64     `yaml:"mask,omitempty" json:"mask,omitempty"`
	Shift        uint       `yaml:"shift,omitempty" json:"shift,omitempty"`
}

// NewTransform builds a transform from its declarative form. An empty type
// means identity.
func NewTransform(cfg TransformConfig) (Transform, error) {
	switch TransformKind(cfg.Type) {
	case "", TransformIdentity:
		return Identity{}, nil
	case TransformLinear:
		scale := 1.0
		if cfg.Scale != nil {
			scale = *cfg.Scale
		}
		return Linear{Scale: scale, Offset: cfg.Offset, RoundPanel: cfg.Round, Tol: cfg.Tolerance}, nil
	case TransformEnum:
		if len(cfg.Values) == 0 {
			return nil, fmt.Errorf("enum transform needs at least one value pair")
		}
		return NewEnum(cfg.Values, cfg.DefaultPanel, cfg.DefaultSim), nil
	case TransformBits:
		if cfg.Mask == 0 {
			return nil, fmt.Errorf("bits transform needs a non-zero mask")
		}
		if cfg.Shift > 52 {
			return nil, fmt.Errorf("bits transform shift %d out of range", cfg.Shift)
		}
		return Bits{Mask: cfg.Mask, Shift: cfg.Shift}, nil
	default:
		return nil, fmt.Errorf("unknown transform type %q", cfg.Type)
	}
}

type Identity struct{}

func (Identity) Kind() TransformKind                { return TransformIdentity }
func (Identity) ToSim(raw float64) (float64, error) { return raw, nil }
func (Identity) ToPanel(v float64) (float64, error) { return v, nil }
func (Identity) Defines(types.Direction) bool       { return true }
func (Identity) Tolerance() float64                 { return 0 }

// Linear maps sim = raw*Scale + Offset.
type Linear struct {
	Scale      float64
	Offset     float64
	RoundPanel bool
	Tol        float64
}

func (l Linear) Kind() TransformKind { return TransformLinear }

func (l Linear) ToSim(raw float64) (float64, error) {
	return raw*l.Scale + l.Offset, nil
}

func (l Linear) ToPanel(sim float64) (float64, error) {
	if l.Scale == 0 {
		return 0, ErrUndefined
	}
	v := (sim - l.Offset) / l.Scale
	if l.RoundPanel {
		v = math.Round(v)
	}
	return v, nil
}

func (l Linear) Defines(d types.Direction) bool {
	if d.Outbound() && l.Scale == 0 {
		return false
	}
	return true
}

func (l Linear) Tolerance() float64 {
	if l.Tol > 0 {
		return l.Tol
	}
	return defaultTolerance
}

type EnumPair struct {
	Panel float64 `yaml:"panel" json:"panel"`
	Sim   float64 `yaml:"sim" json:"sim"`
}

// Enum is an explicit lookup table between panel and simulator values.
type Enum struct {
	pairs        []EnumPair
	defaultPanel *float64
	defaultSim   *float64
	uniquePanel  bool
	uniqueSim    bool
}

func NewEnum(pairs []EnumPair, defaultPanel, defaultSim *float64) *Enum {
	e := &Enum{
		pairs:        append([]EnumPair(nil), pairs...),
		defaultPanel: defaultPanel,
		defaultSim:   defaultSim,
		uniquePanel:  true,
		uniqueSim:    true,
	}

	panels := make(map[float64]bool, len(pairs))
	sims := make(map[float64]bool, len(pairs))
	for _, p := range pairs {
		if panels[p.Panel] {
			e.uniquePanel = false
		}
		if sims[p.Sim] {
			e.uniqueSim = false
		}
		panels[p.Panel] = true
		sims[p.Sim] = true
	}
	return e
}

func (e *Enum) Kind() TransformKind { return TransformEnum }

func (e *Enum) ToSim(raw float64) (float64, error) {
	if !e.uniquePanel {
		return 0, ErrUndefined
	}
	for _, p := range e.pairs {
		if p.Panel == raw {
			return p.Sim, nil
		}
	}
	if e.defaultSim != nil {
		return *e.defaultSim, nil
	}
	return 0, fmt.Errorf("panel value %v not in enum", raw)
}

func (e *Enum) ToPanel(sim float64) (float64, error) {
	if !e.uniqueSim {
		return 0, ErrUndefined
	}
	for _, p := range e.pairs {
		if math.Abs(p.Sim-sim) <= defaultTolerance {
			return p.Panel, nil
		}
	}
	if e.defaultPanel != nil {
		return *e.defaultPanel, nil
	}
	return 0, fmt.Errorf("simulator value %v not in enum", sim)
}

func (e *Enum) Defines(d types.Direction) bool {
	if d.Inbound() && !e.uniquePanel {
		return false
	}
	if d.Outbound() && !e.uniqueSim {
		return false
	}
	return true
}

func (e *Enum) Tolerance() float64 { return 0 }

// Bits extracts a bit field from a packed panel value: sim = (raw >> Shift) & Mask.
type Bits struct {
	Mask  uint64
	Shift uint
}

func (b Bits) Kind() TransformKind { return TransformBits }

func (b Bits) ToSim(raw float64) (float64, error) {
	u, err := toUnsigned(raw)
	if err != nil {
		return 0, err
	}
	return float64((u >> b.Shift) & b.Mask), nil
}

func (b Bits) ToPanel(sim float64) (float64, error) {
	u, err := toUnsigned(sim)
	if err != nil {
		return 0, err
	}
	return float64((u & b.Mask) << b.Shift), nil
}

func (b Bits) Defines(types.Direction) bool { return b.Mask != 0 }
func (b Bits) Tolerance() float64           { return 0 }

func toUnsigned(v float64) (uint64, error) {
	if v < 0 || v != math.Trunc(v) || v > float64(1<<53) {
		return 0, fmt.Errorf("value %v is not a non-negative integer", v)
	}
	return uint64(v), nil
}
