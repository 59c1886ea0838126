package mapping

import (
	"fmt"

	"github.com/KevinKickass/PanelBridge/internal/types"
)

// Entry binds one panel element to one simulator variable. Entries are
// immutable once a Table has been built from them.
type Entry struct {
	Index     int
	Element   types.PanelElement
	Variable  types.VariableID
	Direction types.Direction
	Transform Transform
	// Event, if set, is a simulator client event transmitted with the
	// converted value instead of writing the variable directly.
	Event string
}

// Catalog tells the table which elements a panel exposes and in which
// direction.
type Catalog interface {
	Direction(el types.PanelElement) (types.Direction, bool)
}

// CatalogFunc adapts a function to the Catalog interface.
type CatalogFunc func(el types.PanelElement) (types.Direction, bool)

func (f CatalogFunc) Direction(el types.PanelElement) (types.Direction, bool) {
	return f(el)
}

// Table is the validated, indexed set of mapping entries. It is read-only
// after NewTable returns and safe for concurrent use.
type Table struct {
	entries    []Entry
	inbound    map[types.PanelElement]*Entry
	outbound   map[types.PanelElement]*Entry
	byVariable map[types.VariableID][]*Entry
	byPanel    map[types.PanelID][]*Entry
	variables  []types.VariableID
}

// NewTable validates entries against catalog and builds the routing indexes.
// The first invalid entry is reported as a *types.ConfigurationError. A nil
// catalog skips the element checks.
func NewTable(entries []Entry, catalog Catalog) (*Table, error) {
	t := &Table{
		entries:    make([]Entry, len(entries)),
		inbound:    make(map[types.PanelElement]*Entry),
		outbound:   make(map[types.PanelElement]*Entry),
		byVariable: make(map[types.VariableID][]*Entry),
		byPanel:    make(map[types.PanelID][]*Entry),
	}
	copy(t.entries, entries)

	for i := range t.entries {
		e := &t.entries[i]
		e.Index = i
		if e.Transform == nil {
			e.Transform = Identity{}
		}

		if err := validateEntry(e, catalog); err != nil {
			return nil, err
		}

		if e.Direction.Inbound() {
			if prev, ok := t.inbound[e.Element]; ok {
				return nil, configError(e, fmt.Sprintf("duplicate inbound mapping for element (first defined by entry %d)", prev.Index))
			}
			t.inbound[e.Element] = e
		}
		if e.Direction.Outbound() {
			if prev, ok := t.outbound[e.Element]; ok {
				return nil, configError(e, fmt.Sprintf("duplicate outbound mapping for element (first defined by entry %d)", prev.Index))
			}
			t.outbound[e.Element] = e
			t.byPanel[e.Element.Panel] = append(t.byPanel[e.Element.Panel], e)
		}

		if _, seen := t.byVariable[e.Variable]; !seen {
			t.variables = append(t.variables, e.Variable)
		}
		if e.Direction.Outbound() {
			t.byVariable[e.Variable] = append(t.byVariable[e.Variable], e)
		} else if _, seen := t.byVariable[e.Variable]; !seen {
			t.byVariable[e.Variable] = nil
		}
	}

	return t, nil
}

func validateEntry(e *Entry, catalog Catalog) error {
	if e.Element.Panel == "" || e.Element.Element == "" {
		return configError(e, "panel and element are required")
	}
	if e.Variable.IsZero() {
		return configError(e, "variable name is empty")
	}
	if !e.Direction.Valid() {
		return configError(e, fmt.Sprintf("invalid direction %q", e.Direction))
	}
	if !e.Transform.Defines(e.Direction) {
		return configError(e, fmt.Sprintf("%s transform is not defined for direction %s", e.Transform.Kind(), e.Direction))
	}
	if e.Event != "" && e.Direction == types.DirectionOutput {
		return configError(e, "event is only valid for inbound mappings")
	}

	if catalog == nil {
		return nil
	}
	declared, ok := catalog.Direction(e.Element)
	if !ok {
		return configError(e, "element is not exposed by the panel")
	}
	if !declared.Covers(e.Direction) {
		return configError(e, fmt.Sprintf("element supports %s, mapping requires %s", declared, e.Direction))
	}
	return nil
}

func configError(e *Entry, reason string) *types.ConfigurationError {
	return &types.ConfigurationError{Index: e.Index, Element: e.Element, Reason: reason}
}

// ForInput returns the inbound entry for el, if any.
func (t *Table) ForInput(el types.PanelElement) (Entry, bool) {
	e, ok := t.inbound[el]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ForOutput returns the outbound entry for el, if any.
func (t *Table) ForOutput(el types.PanelElement) (Entry, bool) {
	e, ok := t.outbound[el]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ForVariable returns the outbound entries fed by id, in configuration order.
func (t *Table) ForVariable(id types.VariableID) []Entry {
	return deref(t.byVariable[id])
}

// OutputsOf returns every outbound entry of panel, in configuration order.
func (t *Table) OutputsOf(panel types.PanelID) []Entry {
	return deref(t.byPanel[panel])
}

// Variables returns every variable referenced by the table, without
// duplicates, in first-reference order.
func (t *Table) Variables() []types.VariableID {
	out := make([]types.VariableID, len(t.variables))
	copy(out, t.variables)
	return out
}

func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Table) Len() int {
	return len(t.entries)
}

func deref(in []*Entry) []Entry {
	if len(in) == 0 {
		return nil
	}
	out := make([]Entry, len(in))
	for i, e := range in {
		out[i] = *e
	}
	return out
}
