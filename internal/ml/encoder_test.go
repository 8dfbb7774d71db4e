package ml

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestLabelEncoder(t *testing.T) {
	enc := FitLabelEncoder([]string{"urgente", "mantener", "urgente", "reabastecer"})
	if got := enc.Classes(); len(got) != 3 || got[0] != "mantener" || got[2] != "urgente" {
		t.Fatalf("classes = %v", got)
	}

	idx, err := enc.Encode("reabastecer")
	if err != nil || idx != 1 {
		t.Errorf("Encode = %d, %v", idx, err)
	}
	if _, err := enc.Encode("desconocido"); err == nil {
		t.Error("expected unknown label error")
	}

	label, err := enc.Decode(2)
	if err != nil || label != "urgente" {
		t.Errorf("Decode = %q, %v", label, err)
	}
	if _, err := enc.Decode(3); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("Decode(3) err = %v", err)
	}
	if _, err := enc.Decode(-1); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("Decode(-1) err = %v", err)
	}
}

func TestLabelEncoder_JSON(t *testing.T) {
	enc, err := NewLabelEncoder([]string{"b", "a"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(enc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"classes":["a","b"]}` {
		t.Errorf("json = %s", data)
	}

	var back LabelEncoder
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Len() != 2 {
		t.Errorf("len = %d", back.Len())
	}

	if err := json.Unmarshal([]byte(`{"classes":["a","a"]}`), &back); err == nil {
		t.Error("expected duplicate class error")
	}
	if _, err := NewLabelEncoder([]string{"x", "x"}); err == nil {
		t.Error("expected duplicate class error")
	}
}
