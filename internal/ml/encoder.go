package ml

import (
	"encoding/json"
	"fmt"
	"sort"
)

// LabelEncoder maps class labels to the integer indices the tree works with.
// Classes are kept sorted, so index i is always the i-th label alphabetically.
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

// FitLabelEncoder builds an encoder from the distinct labels in labels.
func FitLabelEncoder(labels []string) *LabelEncoder {
	seen := make(map[string]struct{}, len(labels))
	var classes []string
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		classes = append(classes, l)
	}
	enc, _ := NewLabelEncoder(classes)
	return enc
}

// NewLabelEncoder builds an encoder from an explicit class list.
func NewLabelEncoder(classes []string) (*LabelEncoder, error) {
	sorted := make([]string, len(classes))
	copy(sorted, classes)
	sort.Strings(sorted)

	enc := &LabelEncoder{classes: sorted, index: make(map[string]int, len(sorted))}
	for i, c := range sorted {
		if _, dup := enc.index[c]; dup {
			return nil, fmt.Errorf("duplicate class %q", c)
		}
		enc.index[c] = i
	}
	return enc, nil
}

// Classes returns a copy of the known labels in index order.
func (e *LabelEncoder) Classes() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.classes))
	copy(out, e.classes)
	return out
}

func (e *LabelEncoder) Len() int {
	if e == nil {
		return 0
	}
	return len(e.classes)
}

// Encode returns the index of label.
func (e *LabelEncoder) Encode(label string) (int, error) {
	i, ok := e.index[label]
	if !ok {
		return 0, fmt.Errorf("unknown label %q", label)
	}
	return i, nil
}

// EncodeAll encodes every label, failing on the first unknown one.
func (e *LabelEncoder) EncodeAll(labels []string) ([]int, error) {
	out := make([]int, len(labels))
	for i, l := range labels {
		idx, err := e.Encode(l)
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}

// Decode maps an index back to its label.
func (e *LabelEncoder) Decode(index int) (string, error) {
	if e == nil || index < 0 || index >= len(e.classes) {
		return "", fmt.Errorf("%w: index %d", ErrUnknownClass, index)
	}
	return e.classes[index], nil
}

type encoderJSON struct {
	Classes []string `json:"classes"`
}

func (e *LabelEncoder) MarshalJSON() ([]byte, error) {
	return json.Marshal(encoderJSON{Classes: e.classes})
}

func (e *LabelEncoder) UnmarshalJSON(data []byte) error {
	var raw encoderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Classes) == 0 {
		return fmt.Errorf("encoder has no classes")
	}
	dec, err := NewLabelEncoder(raw.Classes)
	if err != nil {
		return err
	}
	*e = *dec
	return nil
}
