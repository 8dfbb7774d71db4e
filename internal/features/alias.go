package features

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FragmentSwap is the legacy name-rewrite rule: when an expected name contains
// From, the name with From replaced by To is looked up in the raw input.
// Only one pair is supported.
type FragmentSwap struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// AliasTable maps each canonical feature name to the source names producers
// are known to send instead. Every source belongs to exactly one canonical name.
type AliasTable struct {
	canonicals []string
	sources    map[string][]string
	owner      map[string]string
	legacy     *FragmentSwap
}

// AliasFile is the YAML layout accepted by LoadAliasFile.
type AliasFile struct {
	Aliases            map[string][]string `yaml:"aliases"`
	LegacyFragmentSwap *FragmentSwap       `yaml:"legacy_fragment_swap"`
}

// NewAliasTable builds a table from canonical -> sources entries. Sources keep
// the order given; canonical names are kept sorted.
func NewAliasTable(entries map[string][]string, legacy *FragmentSwap) (*AliasTable, error) {
	t := &AliasTable{
		sources: make(map[string][]string, len(entries)),
		owner:   make(map[string]string),
	}

	for canonical := range entries {
		t.canonicals = append(t.canonicals, canonical)
	}
	sort.Strings(t.canonicals)

	for _, canonical := range t.canonicals {
		if strings.TrimSpace(canonical) == "" {
			return nil, fmt.Errorf("alias table: empty canonical name")
		}
		for _, src := range entries[canonical] {
			src = strings.TrimSpace(src)
			if src == "" || src == canonical {
				continue
			}
			if prev, taken := t.owner[src]; taken && prev != canonical {
				return nil, fmt.Errorf("alias table: source %q maps to both %q and %q", src, prev, canonical)
			}
			if _, isCanonical := entries[src]; isCanonical {
				return nil, fmt.Errorf("alias table: source %q is also a canonical name", src)
			}
			if _, seen := t.owner[src]; seen {
				continue
			}
			t.owner[src] = canonical
			t.sources[canonical] = append(t.sources[canonical], src)
		}
	}

	if legacy != nil {
		if legacy.From == "" || legacy.To == "" || legacy.From == legacy.To {
			return nil, fmt.Errorf("alias table: invalid legacy fragment swap %q -> %q", legacy.From, legacy.To)
		}
		swap := *legacy
		t.legacy = &swap
	}

	return t, nil
}

// DefaultAliasTable returns the built-in table. Some producers still send
// "entregas_pendientes" for the pending-requests count.
func DefaultAliasTable() *AliasTable {
	t, err := NewAliasTable(
		map[string][]string{
			SolicitudesPendientes: {"entregas_pendientes"},
		},
		&FragmentSwap{From: "solicitudes", To: "entregas"},
	)
	if err != nil {
		panic(err) // static table
	}
	return t
}

// LoadAliasFile reads an alias table from YAML.
func LoadAliasFile(path string) (*AliasTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alias file %s: %w", path, err)
	}

	var file AliasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse alias file: %w", err)
	}

	return NewAliasTable(file.Aliases, file.LegacyFragmentSwap)
}

// LoadAliasTableOrDefault reads path, or returns the built-in table when
// path is empty.
func LoadAliasTableOrDefault(path string) (*AliasTable, error) {
	if path == "" {
		return DefaultAliasTable(), nil
	}
	return LoadAliasFile(path)
}

// Sources returns the declared source names of canonical, in table order.
func (t *AliasTable) Sources(canonical string) []string {
	if t == nil {
		return nil
	}
	return t.sources[canonical]
}

// Canonical returns the canonical name a source is registered under.
func (t *AliasTable) Canonical(source string) (string, bool) {
	if t == nil {
		return "", false
	}
	c, ok := t.owner[source]
	return c, ok
}

// Legacy returns the configured fragment swap, if any.
func (t *AliasTable) Legacy() (FragmentSwap, bool) {
	if t == nil || t.legacy == nil {
		return FragmentSwap{}, false
	}
	return *t.legacy, true
}

// Entries returns a copy of the table for inspection endpoints.
func (t *AliasTable) Entries() map[string][]string {
	out := make(map[string][]string)
	if t == nil {
		return out
	}
	for _, canonical := range t.canonicals {
		srcs := t.sources[canonical]
		if len(srcs) == 0 {
			continue
		}
		cp := make([]string, len(srcs))
		copy(cp, srcs)
		out[canonical] = cp
	}
	return out
}
