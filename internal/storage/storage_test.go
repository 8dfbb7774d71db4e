package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Store database is nil")
	}

	dbPath := filepath.Join(tempDir, DBFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "audit")
	store, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	store.Close()
}

func TestStore_Close(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Error closing store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Error closing already closed store: %v", err)
	}
	if err := store.StorePrediction(PredictionRecord{ID: "x"}); err == nil {
		t.Error("expected error writing to a closed store")
	}
}

func TestStorePrediction_Range(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := PredictionRecord{
			ID:           string(rune('a' + i)),
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			User:         "ana",
			ModelVersion: "cart_v1",
			Prediction:   "mantener",
			Confidence:   0.8,
			Features:     map[string]float64{"stock_actual": float64(i * 10)},
		}
		if i%2 == 1 {
			rec.Prediction = "urgente"
		}
		if err := store.StorePrediction(rec); err != nil {
			t.Fatalf("StorePrediction: %v", err)
		}
	}

	tests := []struct {
		name       string
		start, end time.Time
		want       []string
	}{
		{"all", base.Add(-time.Hour), base.Add(time.Hour), []string{"a", "b", "c", "d", "e"}},
		{"inclusive bounds", base.Add(time.Minute), base.Add(3 * time.Minute), []string{"b", "c", "d"}},
		{"empty window", base.Add(10 * time.Minute), base.Add(20 * time.Minute), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.GetPredictionsInRange(tt.start, tt.end)
			if err != nil {
				t.Fatalf("GetPredictionsInRange: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.want))
			}
			for i, rec := range got {
				if rec.ID != tt.want[i] {
					t.Errorf("record %d id = %s, want %s", i, rec.ID, tt.want[i])
				}
			}
		})
	}

	samples, n, err := store.FeatureSamples(base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("FeatureSamples: %v", err)
	}
	if n != 5 || len(samples["stock_actual"]) != 5 || samples["stock_actual"][4] != 40 {
		t.Errorf("samples = %v (n=%d)", samples, n)
	}

	counts, err := store.LabelCounts(base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("LabelCounts: %v", err)
	}
	if counts["mantener"] != 3 || counts["urgente"] != 2 {
		t.Errorf("counts = %v", counts)
	}
}

func TestStoreEvent(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	events := []ModelEvent{
		{ID: "1", Timestamp: now, Kind: "retrain_requested", User: "admin", Success: true},
		{ID: "2", Timestamp: now.Add(time.Second), Kind: "reload", Version: "cart_v2", Success: true},
	}
	for _, ev := range events {
		if err := store.StoreEvent(ev); err != nil {
			t.Fatalf("StoreEvent: %v", err)
		}
	}

	got, err := store.GetEventsInRange(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("GetEventsInRange: %v", err)
	}
	if len(got) != 2 || got[0].Kind != "retrain_requested" || got[1].Version != "cart_v2" {
		t.Errorf("events = %+v", got)
	}

	preds, err := store.GetPredictionsInRange(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil || len(preds) != 0 {
		t.Errorf("events leaked into predictions: %v %v", preds, err)
	}
}

func TestStorePrediction_DefaultTimestamp(t *testing.T) {
	store := newTestStore(t)
	before := time.Now()
	if err := store.StorePrediction(PredictionRecord{ID: "now"}); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetPredictionsInRange(before.Add(-time.Second), time.Now().Add(time.Second))
	if err != nil || len(got) != 1 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestOpenReadOnly(t *testing.T) {
	dir := t.TempDir()

	if _, err := OpenReadOnly(dir); err == nil {
		t.Fatal("expected error for a missing database")
	}

	store, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	now := time.Now()
	rec := PredictionRecord{ID: "a", Timestamp: now, Prediction: "urgente", Features: map[string]float64{"stock_actual": 3}}
	if err := store.StorePrediction(rec); err != nil {
		t.Fatalf("StorePrediction: %v", err)
	}
	store.Close()

	ro, err := OpenReadOnly(dir)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer ro.Close()

	samples, n, err := ro.FeatureSamples(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("FeatureSamples: %v", err)
	}
	if n != 1 || len(samples["stock_actual"]) != 1 || samples["stock_actual"][0] != 3 {
		t.Errorf("unexpected samples %v (n=%d)", samples, n)
	}
	if err := ro.StorePrediction(PredictionRecord{ID: "b"}); err == nil {
		t.Error("expected write to a read-only store to fail")
	}
}
