package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrUnknownCondition = errors.New("unknown condition")

// defaultConditions covers local development when no directory file is
// configured; production deployments load the full map from CONDITIONS_PATH.
var defaultConditions = map[string]string{
	"cond_type_2_diabetes": "Type 2 diabetes",
	"cond_hypertension":    "High blood pressure",
	"cond_asthma":          "Asthma",
}

// ConditionDirectory maps condition ids to display names.
type ConditionDirectory struct {
	byID map[string]string
}

// NewConditionDirectory builds a directory from an id->name map; a nil or
// empty map falls back to the built-in defaults.
func NewConditionDirectory(mapping map[string]string) *ConditionDirectory {
	if len(mapping) == 0 {
		mapping = defaultConditions
	}
	byID := make(map[string]string, len(mapping))
	for id, name := range mapping {
		byID[id] = name
	}
	return &ConditionDirectory{byID: byID}
}

// LoadConditionDirectory reads an id->name JSON object from path. An empty
// path yields the default directory.
func LoadConditionDirectory(path string) (*ConditionDirectory, error) {
	if path == "" {
		return NewConditionDirectory(nil), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read conditions file: %w", err)
	}
	var mapping map[string]string
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return nil, fmt.Errorf("parse conditions file: %w", err)
	}
	return NewConditionDirectory(mapping), nil
}

// Name resolves a condition id to its display name.
func (d *ConditionDirectory) Name(id string) (string, error) {
	name, ok := d.byID[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCondition, id)
	}
	return name, nil
}

// ID resolves a display name back to its condition id. Matching is
// case-insensitive.
func (d *ConditionDirectory) ID(name string) (string, error) {
	for id, n := range d.byID {
		if strings.EqualFold(n, name) {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownCondition, name)
}

// All returns a copy of the id->name mapping.
func (d *ConditionDirectory) All() map[string]string {
	out := make(map[string]string, len(d.byID))
	for id, name := range d.byID {
		out[id] = name
	}
	return out
}
