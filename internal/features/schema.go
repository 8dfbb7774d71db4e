// Package features turns loosely named input mappings into the ordered numeric
// vectors a trained model consumes.
//
// The schema (FeatureSpec) and the alias table (AliasTable) are explicit objects
// loaded together with the model. Reconcile never fails: fields it cannot resolve
// or coerce become zero, and ReconcileWithReport says exactly why.
package features

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Default feature names in the order the CART model is trained on.
const (
	Consumo7d              = "consumo_7d"
	Consumo30d             = "consumo_30d"
	Promedio12m            = "promedio_12m"
	DiasDesdeUltimaEntrega = "dias_desde_ultima_entrega"
	StockActual            = "stock_actual"
	StockCapacidad         = "stock_capacidad"
	SolicitudesPendientes  = "solicitudes_pendientes"
	Proyeccion72h          = "proyeccion_72h"
	IndicadorRiesgo        = "indicador_riesgo"
)

// DefaultFeatureNames returns a fresh copy of the default schema names.
func DefaultFeatureNames() []string {
	return []string{
		Consumo7d, Consumo30d, Promedio12m,
		DiasDesdeUltimaEntrega, StockActual,
		StockCapacidad, SolicitudesPendientes,
		Proyeccion72h, IndicadorRiesgo,
	}
}

// FeatureSpec is the ordered, immutable list of features a model was trained on.
type FeatureSpec struct {
	names []string
	index map[string]int
}

// NewFeatureSpec validates names (non-empty, unique) and freezes their order.
func NewFeatureSpec(names ...string) (FeatureSpec, error) {
	if len(names) == 0 {
		return FeatureSpec{}, fmt.Errorf("feature spec cannot be empty")
	}

	spec := FeatureSpec{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return FeatureSpec{}, fmt.Errorf("feature %d has an empty name", i)
		}
		if _, dup := spec.index[name]; dup {
			return FeatureSpec{}, fmt.Errorf("duplicate feature name %q", name)
		}
		spec.names[i] = name
		spec.index[name] = i
	}
	return spec, nil
}

// DefaultSpec returns the nine-feature schema used by the stock forecaster.
func DefaultSpec() FeatureSpec {
	spec, err := NewFeatureSpec(DefaultFeatureNames()...)
	if err != nil {
		panic(err) // static list
	}
	return spec
}

// Names returns a copy of the ordered feature names.
func (s FeatureSpec) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func (s FeatureSpec) Len() int {
	return len(s.names)
}

// Index returns the position of name in the spec.
func (s FeatureSpec) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Contains reports whether name is one of the expected features.
func (s FeatureSpec) Contains(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Equal reports whether both specs list the same names in the same order.
func (s FeatureSpec) Equal(other FeatureSpec) bool {
	if len(s.names) != len(other.names) {
		return false
	}
	for i := range s.names {
		if s.names[i] != other.names[i] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the spec as a plain list of names.
func (s FeatureSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.names)
}

// UnmarshalJSON decodes a list of names and validates it.
func (s *FeatureSpec) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	spec, err := NewFeatureSpec(names...)
	if err != nil {
		return err
	}
	*s = spec
	return nil
}
