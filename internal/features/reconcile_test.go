package features

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func fullInput() RawInput {
	return RawInput{
		"consumo_7d":                12.5,
		"consumo_30d":               48.0,
		"promedio_12m":              40.2,
		"dias_desde_ultima_entrega": 9.0,
		"stock_actual":              120.0,
		"stock_capacidad":           500.0,
		"solicitudes_pendientes":    3.0,
		"proyeccion_72h":            15.1,
		"indicador_riesgo":          0.35,
	}
}

func TestReconcile_LengthAndOrder(t *testing.T) {
	specs := [][]string{
		DefaultFeatureNames(),
		{"b", "a"},
		{"only"},
		{"z", "y", "x", "w"},
	}

	for _, names := range specs {
		spec, err := NewFeatureSpec(names...)
		if err != nil {
			t.Fatalf("NewFeatureSpec(%v): %v", names, err)
		}

		raw := RawInput{}
		for i, n := range names {
			raw[n] = float64(i + 1)
		}

		vec := Reconcile(raw, spec, DefaultAliasTable())
		if len(vec) != len(names) {
			t.Fatalf("expected %d values, got %d", len(names), len(vec))
		}
		for i := range names {
			if vec[i] != float64(i+1) {
				t.Errorf("spec %v: position %d expected %v, got %v", names, i, float64(i+1), vec[i])
			}
		}
	}
}

func TestReconcile_KeyOrderDoesNotMatter(t *testing.T) {
	spec := DefaultSpec()
	want := Reconcile(fullInput(), spec, DefaultAliasTable())

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		names := DefaultFeatureNames()
		rng.Shuffle(len(names), func(a, b int) { names[a], names[b] = names[b], names[a] })

		src := fullInput()
		raw := make(RawInput, len(src))
		for _, n := range names {
			raw[n] = src[n]
		}

		got := Reconcile(raw, spec, DefaultAliasTable())
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("iteration %d: got %v, want %v", i, got, want)
		}
	}
}

func TestReconcile_Passthrough(t *testing.T) {
	spec := DefaultSpec()
	raw := fullInput()

	vec, report := ReconcileWithReport(raw, spec, DefaultAliasTable())
	for i, name := range spec.Names() {
		if vec[i] != raw[name].(float64) {
			t.Errorf("%s: expected %v, got %v", name, raw[name], vec[i])
		}
		if report.Traces[i].Step != ResolvedExact {
			t.Errorf("%s: expected exact resolution, got %s", name, report.Traces[i].Step)
		}
	}
	if len(report.Defaulted) != 0 || len(report.Unmapped) != 0 {
		t.Errorf("expected clean report, got defaulted=%v unmapped=%v", report.Defaulted, report.Unmapped)
	}
}

func TestReconcile_EmptyInput(t *testing.T) {
	spec := DefaultSpec()

	for _, raw := range []RawInput{nil, {}} {
		vec, report := ReconcileWithReport(raw, spec, DefaultAliasTable())
		if len(vec) != spec.Len() {
			t.Fatalf("expected %d values, got %d", spec.Len(), len(vec))
		}
		for i, v := range vec {
			if v != 0 {
				t.Errorf("position %d: expected 0, got %v", i, v)
			}
		}
		if len(report.Defaulted) != spec.Len() {
			t.Errorf("expected all %d features defaulted, got %d", spec.Len(), len(report.Defaulted))
		}
	}
}

func TestReconcile_AliasResolvesToCanonical(t *testing.T) {
	spec := DefaultSpec()
	raw := fullInput()
	delete(raw, SolicitudesPendientes)
	raw["entregas_pendientes"] = 7.0

	vec, report := ReconcileWithReport(raw, spec, DefaultAliasTable())

	idx, _ := spec.Index(SolicitudesPendientes)
	if vec[idx] != 7 {
		t.Fatalf("expected solicitudes_pendientes=7 from alias, got %v", vec[idx])
	}
	trace := report.Traces[idx]
	if trace.Step != ResolvedAlias || trace.SourceKey != "entregas_pendientes" {
		t.Errorf("unexpected trace %+v", trace)
	}
	if len(report.Unmapped) != 0 {
		t.Errorf("alias source should be consumed, unmapped=%v", report.Unmapped)
	}
}

func TestReconcile_ExactWinsOverAlias(t *testing.T) {
	spec := DefaultSpec()
	raw := fullInput()
	raw["entregas_pendientes"] = 99.0

	vec, report := ReconcileWithReport(raw, spec, DefaultAliasTable())
	idx, _ := spec.Index(SolicitudesPendientes)
	if vec[idx] != 3 {
		t.Errorf("exact key should win, got %v", vec[idx])
	}
	if !reflect.DeepEqual(report.Unmapped, []string{"entregas_pendientes"}) {
		t.Errorf("expected unused alias reported as unmapped, got %v", report.Unmapped)
	}
}

func TestReconcile_ReverseAliasNormalizesKeys(t *testing.T) {
	spec := DefaultSpec()

	tests := []struct {
		name    string
		raw     RawInput
		feature string
		want    float64
	}{
		{"upper case canonical", RawInput{"CONSUMO_7D": 4.0}, Consumo7d, 4},
		{"dashes and spaces", RawInput{" stock-actual ": 80.0}, StockActual, 80},
		{"mixed case alias source", RawInput{"Entregas-Pendientes": 2.0}, SolicitudesPendientes, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec, report := ReconcileWithReport(tt.raw, spec, DefaultAliasTable())
			idx, _ := spec.Index(tt.feature)
			if vec[idx] != tt.want {
				t.Errorf("expected %v, got %v", tt.want, vec[idx])
			}
			if report.Traces[idx].Step != ResolvedReverseAlias {
				t.Errorf("expected reverse alias step, got %s", report.Traces[idx].Step)
			}
		})
	}
}

func TestReconcile_LegacyFragmentSwap(t *testing.T) {
	spec, _ := NewFeatureSpec("solicitudes_abiertas")
	table, err := NewAliasTable(nil, &FragmentSwap{From: "solicitudes", To: "entregas"})
	if err != nil {
		t.Fatalf("NewAliasTable: %v", err)
	}

	vec, report := ReconcileWithReport(RawInput{"entregas_abiertas": 5.0}, spec, table)
	if vec[0] != 5 {
		t.Fatalf("expected legacy swap to resolve 5, got %v", vec[0])
	}
	if report.Traces[0].Step != ResolvedLegacyFragment {
		t.Errorf("expected legacy step, got %s", report.Traces[0].Step)
	}

	noLegacy, _ := NewAliasTable(nil, nil)
	if v := Reconcile(RawInput{"entregas_abiertas": 5.0}, spec, noLegacy); v[0] != 0 {
		t.Errorf("without legacy swap expected default 0, got %v", v[0])
	}
}

func TestReconcile_Coercion(t *testing.T) {
	spec, _ := NewFeatureSpec("a", "b", "c", "d", "e", "f", "g", "h")
	raw := RawInput{
		"a": "12.5",
		"b": " 3 ",
		"c": "not a number",
		"d": nil,
		"e": math.NaN(),
		"f": math.Inf(1),
		"g": true,
		"h": 7,
	}

	vec, report := ReconcileWithReport(raw, spec, nil)
	want := ReconciledVector{12.5, 3, 0, 0, 0, 0, 1, 7}
	if !reflect.DeepEqual(vec, want) {
		t.Errorf("got %v, want %v", vec, want)
	}
	if !reflect.DeepEqual(report.CoercionFailed, []string{"c", "d", "e", "f"}) {
		t.Errorf("unexpected coercion failures %v", report.CoercionFailed)
	}
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("position %d not finite: %v", i, v)
		}
	}
}

func TestReconcile_UnmappedKeysSorted(t *testing.T) {
	raw := fullInput()
	raw["zona"] = "norte"
	raw["almacen_id"] = 4.0

	_, report := ReconcileWithReport(raw, DefaultSpec(), DefaultAliasTable())
	if !reflect.DeepEqual(report.Unmapped, []string{"almacen_id", "zona"}) {
		t.Errorf("unexpected unmapped keys %v", report.Unmapped)
	}
}
