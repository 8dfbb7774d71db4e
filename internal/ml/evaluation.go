package ml

import "fmt"

// ClassReport holds per-class precision, recall and F1.
type ClassReport struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Evaluation summarizes predictions against the held-out labels.
type Evaluation struct {
	Accuracy        float64                `json:"accuracy"`
	WeightedF1      float64                `json:"f1"`
	Classes         []string               `json:"classes"`
	PerClass        map[string]ClassReport `json:"per_class"`
	ConfusionMatrix [][]int                `json:"confusion_matrix"` // rows are true labels
}

// Evaluate compares true and predicted class indices.
func Evaluate(yTrue, yPred []int, classes []string) (Evaluation, error) {
	if len(yTrue) != len(yPred) {
		return Evaluation{}, fmt.Errorf("got %d labels and %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return Evaluation{}, fmt.Errorf("nothing to evaluate")
	}

	k := len(classes)
	cm := make([][]int, k)
	for i := range cm {
		cm[i] = make([]int, k)
	}

	correct := 0
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		if t < 0 || t >= k || p < 0 || p >= k {
			return Evaluation{}, fmt.Errorf("label index out of range at %d", i)
		}
		cm[t][p]++
		if t == p {
			correct++
		}
	}

	ev := Evaluation{
		Accuracy:        float64(correct) / float64(len(yTrue)),
		Classes:         append([]string(nil), classes...),
		PerClass:        make(map[string]ClassReport, k),
		ConfusionMatrix: cm,
	}

	var weighted float64
	for c := 0; c < k; c++ {
		tp := cm[c][c]
		var predicted, support int
		for j := 0; j < k; j++ {
			predicted += cm[j][c]
			support += cm[c][j]
		}

		var rep ClassReport
		rep.Support = support
		if predicted > 0 {
			rep.Precision = float64(tp) / float64(predicted)
		}
		if support > 0 {
			rep.Recall = float64(tp) / float64(support)
		}
		if rep.Precision+rep.Recall > 0 {
			rep.F1 = 2 * rep.Precision * rep.Recall / (rep.Precision + rep.Recall)
		}
		ev.PerClass[classes[c]] = rep
		weighted += rep.F1 * float64(support)
	}
	ev.WeightedF1 = weighted / float64(len(yTrue))

	return ev, nil
}
