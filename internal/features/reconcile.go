package features

import (
	"math"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// RawInput is a producer-supplied mapping of field name to value.
type RawInput map[string]any

// ReconciledVector holds one finite value per FeatureSpec entry, in spec order.
type ReconciledVector []float64

// Resolution names the rule that produced a feature value.
type Resolution string

const (
	ResolvedExact          Resolution = "exact"
	ResolvedAlias          Resolution = "alias"
	ResolvedReverseAlias   Resolution = "reverse_alias"
	ResolvedLegacyFragment Resolution = "legacy_fragment"
	ResolvedDefault        Resolution = "default"
)

// FeatureTrace records how a single feature was resolved.
type FeatureTrace struct {
	Feature   string     `json:"feature"`
	SourceKey string     `json:"source_key,omitempty"`
	Step      Resolution `json:"step"`
	Value     float64    `json:"value"`
	// CoercionFailed is set when a key matched but its value was not numeric.
	CoercionFailed bool `json:"coercion_failed,omitempty"`
}

// Report is the audit trail of one reconciliation.
type Report struct {
	Traces         []FeatureTrace `json:"traces"`
	Defaulted      []string       `json:"defaulted,omitempty"`
	CoercionFailed []string       `json:"coercion_failed,omitempty"`
	Unmapped       []string       `json:"unmapped,omitempty"`
}

// Reconcile resolves raw against spec and returns the ordered vector.
func Reconcile(raw RawInput, spec FeatureSpec, aliases *AliasTable) ReconciledVector {
	vec, _ := ReconcileWithReport(raw, spec, aliases)
	return vec
}

// ReconcileWithReport is Reconcile plus the per-feature trace and the list of
// raw keys no feature consumed.
func ReconcileWithReport(raw RawInput, spec FeatureSpec, aliases *AliasTable) (ReconciledVector, Report) {
	vec := make(ReconciledVector, spec.Len())
	report := Report{Traces: make([]FeatureTrace, 0, spec.Len())}
	consumed := make(map[string]bool, len(raw))

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i, name := range spec.names {
		key, step := resolveKey(raw, keys, name, aliases)
		trace := FeatureTrace{Feature: name, SourceKey: key, Step: step}

		if step == ResolvedDefault {
			report.Defaulted = append(report.Defaulted, name)
		} else {
			consumed[key] = true
			v, ok := ToFloat(raw[key])
			if !ok {
				trace.CoercionFailed = true
				report.CoercionFailed = append(report.CoercionFailed, name)
			}
			vec[i] = v
		}

		trace.Value = vec[i]
		report.Traces = append(report.Traces, trace)
	}

	for _, k := range keys {
		if !consumed[k] {
			report.Unmapped = append(report.Unmapped, k)
		}
	}

	return vec, report
}

func resolveKey(raw RawInput, sortedKeys []string, name string, aliases *AliasTable) (string, Resolution) {
	if _, ok := raw[name]; ok {
		return name, ResolvedExact
	}

	for _, src := range aliases.Sources(name) {
		if _, ok := raw[src]; ok {
			return src, ResolvedAlias
		}
	}

	for _, k := range sortedKeys {
		n := normalizeKey(k)
		if n == name {
			return k, ResolvedReverseAlias
		}
		if canonical, ok := aliases.Canonical(n); ok && canonical == name {
			return k, ResolvedReverseAlias
		}
	}

	// Legacy single-pair rewrite kept for old producers; see DESIGN.md.
	if swap, ok := aliases.Legacy(); ok && strings.Contains(name, swap.From) {
		candidate := strings.ReplaceAll(name, swap.From, swap.To)
		if _, ok := raw[candidate]; ok {
			return candidate, ResolvedLegacyFragment
		}
	}

	return "", ResolvedDefault
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer("-", "_", " ", "_").Replace(k)
}

// ToFloat coerces a raw value to a finite float64. Anything that cannot be
// coerced, including nil, NaN and infinities, yields (0, false).
func ToFloat(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false
		}
		v = s
	}

	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
