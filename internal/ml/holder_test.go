package ml

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"inventory-forecast/internal/features"
)

func TestModelHolder_LazyGet(t *testing.T) {
	var calls atomic.Int32
	bundle := testBundle(t)
	holder := NewModelHolder(LoaderFunc(func() (*ModelBundle, error) {
		calls.Add(1)
		return bundle, nil
	}), nil)

	if holder.Current() != nil {
		t.Fatal("expected no bundle before first use")
	}
	if h := holder.Health(); h.Healthy {
		t.Error("expected unhealthy before load")
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := holder.Get(); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("loader called %d times, want 1", calls.Load())
	}
	h := holder.Health()
	if !h.Healthy || h.ModelVersion != "cart_vtest" {
		t.Errorf("health = %+v", h)
	}
}

func TestModelHolder_ReloadKeepsPreviousOnFailure(t *testing.T) {
	metrics := &MockMetrics{}
	first := testBundle(t)
	second := testBundle(t)
	second.Metadata.Version = "cart_v2"

	var fail atomic.Bool
	var next atomic.Pointer[ModelBundle]
	next.Store(first)

	holder := NewModelHolder(LoaderFunc(func() (*ModelBundle, error) {
		if fail.Load() {
			return nil, errors.New("corrupt model file")
		}
		return next.Load(), nil
	}), metrics)

	if _, err := holder.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}

	fail.Store(true)
	if _, err := holder.Reload(); !errors.Is(err, ErrModelNotLoaded) {
		t.Fatalf("Reload err = %v", err)
	}
	if got := holder.Current().Version(); got != "cart_vtest" {
		t.Errorf("after failed reload version = %q, want cart_vtest", got)
	}
	if h := holder.Health(); h.LastError == "" {
		t.Error("expected last error to be recorded")
	}

	fail.Store(false)
	next.Store(second)
	b, err := holder.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if b.Version() != "cart_v2" || holder.Current() != second {
		t.Errorf("reload did not swap in the new bundle")
	}
	if h := holder.Health(); h.Reloads != 1 || h.LastError != "" {
		t.Errorf("health = %+v", h)
	}
	if metrics.reloadsOK != 1 || metrics.reloadsFailed != 1 {
		t.Errorf("reload metrics ok=%d failed=%d", metrics.reloadsOK, metrics.reloadsFailed)
	}
}

func TestModelHolder_ConcurrentReadsDuringReload(t *testing.T) {
	a := testBundle(t)
	b := testBundle(t)
	b.Metadata.Version = "cart_v2"

	var flip atomic.Bool
	holder := NewModelHolder(LoaderFunc(func() (*ModelBundle, error) {
		if flip.Load() {
			return b, nil
		}
		return a, nil
	}), nil)

	if _, err := holder.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				cur, err := holder.Get()
				if err != nil {
					t.Errorf("Get: %v", err)
					return
				}
				if cur.Model.Classes != cur.Encoder.Len() {
					t.Errorf("observed mismatched bundle")
					return
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		flip.Store(i%2 == 0)
		if _, err := holder.Reload(); err != nil {
			t.Fatalf("Reload: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestModelHolder_NoLoader(t *testing.T) {
	holder := NewModelHolder(nil, nil)
	if _, err := holder.Get(); !errors.Is(err, ErrModelNotLoaded) {
		t.Errorf("err = %v", err)
	}
}

func TestModelHolder_SwapValidates(t *testing.T) {
	holder := NewModelHolder(nil, nil)
	bad := testBundle(t)
	bad.Model = &DecisionTree{Features: 3, Classes: 3, Root: &Node{Feature: -1, Value: []float64{1, 1, 1}}}
	if err := holder.Swap(bad); err == nil {
		t.Error("expected schema mismatch to be rejected")
	}
	if err := holder.Swap(testBundle(t)); err != nil {
		t.Errorf("Swap: %v", err)
	}
	if holder.Current() == nil {
		t.Error("expected bundle after swap")
	}
}

func TestModelHolder_ReloadRejectsMalformedTree(t *testing.T) {
	store := newTestStore(t.TempDir())
	if err := store.Save(testBundle(t)); err != nil {
		t.Fatal(err)
	}
	holder := NewModelHolder(store, nil)
	if _, err := holder.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}

	writeFile(t, store.ModelPath(), `{"n_features":9,"n_classes":3,"root":{"feature":42,"threshold":1,
		"left":{"feature":-1,"value":[1,0,0]},"right":{"feature":-1,"value":[0,1,0]}}}`)
	if _, err := holder.Reload(); err == nil {
		t.Fatal("expected reload of malformed tree to fail")
	}

	rec, err := NewPredictor(holder, nil).Recommend(context.Background(), features.RawInput{"stock_actual": 3})
	if err != nil {
		t.Fatalf("predict after failed reload: %v", err)
	}
	if rec.ModelVersion != "cart_vtest" || rec.Label != "urgente" {
		t.Errorf("recommendation = %s/%s, want previous model", rec.ModelVersion, rec.Label)
	}
}

func TestHealthStatus_AlwaysReportsLoadedAt(t *testing.T) {
	data, err := json.Marshal(NewModelHolder(nil, nil).Health())
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["loaded_at"]; !ok {
		t.Errorf("health body %s has no loaded_at", data)
	}
}
