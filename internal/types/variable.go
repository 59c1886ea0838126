package types

import (
	"fmt"
	"strings"
)

// VariableID names one simulator variable by name and unit.
type VariableID struct {
	Name string `json:"name"`
	Unit string `json:"unit,omitempty"`
}

func (v VariableID) String() string {
	if v.Unit == "" {
		return v.Name
	}
	return fmt.Sprintf("%s (%s)", v.Name, v.Unit)
}

func (v VariableID) IsZero() bool {
	return v.Name == ""
}

// ParseVariableID is the inverse of VariableID.String.
func ParseVariableID(s string) (VariableID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return VariableID{}, fmt.Errorf("empty variable id")
	}

	open := strings.LastIndex(s, " (")
	if open < 0 || !strings.HasSuffix(s, ")") {
		return VariableID{Name: s}, nil
	}

	name := strings.TrimSpace(s[:open])
	unit := s[open+2 : len(s)-1]
	if name == "" {
		return VariableID{}, fmt.Errorf("invalid variable id %q", s)
	}
	return VariableID{Name: name, Unit: unit}, nil
}
