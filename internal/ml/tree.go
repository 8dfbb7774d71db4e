package ml

import (
	"fmt"
	"sort"

	"inventory-forecast/internal/common"
)

// ClassWeightBalanced weights each class by n_samples / (n_classes * count).
const ClassWeightBalanced = "balanced"

// TreeParams controls CART induction.
type TreeParams struct {
	MaxDepth        int    `json:"max_depth" yaml:"max_depth"`
	MinSamplesSplit int    `json:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int    `json:"min_samples_leaf" yaml:"min_samples_leaf"`
	ClassWeight     string `json:"class_weight" yaml:"class_weight"`
}

// DefaultTreeParams mirrors the parameters the forecaster has always been trained with.
func DefaultTreeParams() TreeParams {
	return TreeParams{
		MaxDepth:        common.DefaultMaxDepth,
		MinSamplesSplit: common.DefaultMinSamplesSplit,
		MinSamplesLeaf:  common.DefaultMinSamplesLeaf,
		ClassWeight:     ClassWeightBalanced,
	}
}

// Node is a single tree node. Leaves have Feature == -1.
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold,omitempty"`
	Left      *Node     `json:"left,omitempty"`
	Right     *Node     `json:"right,omitempty"`
	Value     []float64 `json:"value"` // weighted class totals
	Samples   int       `json:"samples"`
	Impurity  float64   `json:"impurity"`
}

func (n *Node) IsLeaf() bool {
	return n.Feature < 0 || n.Left == nil || n.Right == nil
}

// DecisionTree is a gini CART classifier that serializes to plain JSON.
type DecisionTree struct {
	Root        *Node      `json:"root"`
	Features    int        `json:"n_features"`
	Classes     int        `json:"n_classes"`
	Params      TreeParams `json:"params"`
	Importances []float64  `json:"feature_importances"`
}

func NewDecisionTree(params TreeParams) *DecisionTree {
	if params.MinSamplesSplit < 2 {
		params.MinSamplesSplit = 2
	}
	if params.MinSamplesLeaf < 1 {
		params.MinSamplesLeaf = 1
	}
	return &DecisionTree{Params: params}
}

// Check walks the tree and reports the first node that would make
// PredictProba index out of range.
func (t *DecisionTree) Check() error {
	if t == nil || t.Root == nil {
		return ErrModelNotLoaded
	}
	return t.checkNode(t.Root, "root")
}

// Split node values are informational; only leaves are read at predict time.
func (t *DecisionTree) checkNode(n *Node, path string) error {
	if n.Feature < 0 {
		if len(n.Value) != t.Classes {
			return fmt.Errorf("leaf %s has %d class values, want %d", path, len(n.Value), t.Classes)
		}
		return nil
	}
	if n.Feature >= t.Features {
		return fmt.Errorf("node %s splits on feature %d, model has %d", path, n.Feature, t.Features)
	}
	if n.Left == nil || n.Right == nil {
		return fmt.Errorf("split node %s is missing a child", path)
	}
	if err := t.checkNode(n.Left, path+".left"); err != nil {
		return err
	}
	return t.checkNode(n.Right, path+".right")
}

// NumClasses returns the size of the class index space.
func (t *DecisionTree) NumClasses() int {
	if t == nil {
		return 0
	}
	return t.Classes
}

// PredictProba walks the tree for x and returns the normalized class
// distribution of the leaf it lands in.
func (t *DecisionTree) PredictProba(x []float64) ([]float64, error) {
	if t == nil || t.Root == nil {
		return nil, ErrModelNotLoaded
	}
	if len(x) != t.Features {
		return nil, fmt.Errorf("expected %d features, got %d", t.Features, len(x))
	}

	node := t.Root
	for !node.IsLeaf() {
		if x[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}

	probs := make([]float64, t.Classes)
	var total float64
	for _, v := range node.Value {
		total += v
	}
	for c := range probs {
		if c >= len(node.Value) {
			break
		}
		if total > 0 {
			probs[c] = node.Value[c] / total
		}
	}
	if total <= 0 {
		for c := range probs {
			probs[c] = 1 / float64(len(probs))
		}
	}
	return probs, nil
}

// Predict returns the arg-max class index for x.
func (t *DecisionTree) Predict(x []float64) (int, error) {
	probs, err := t.PredictProba(x)
	if err != nil {
		return 0, err
	}
	return argmax(probs), nil
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (t *DecisionTree) Depth() int {
	if t == nil || t.Root == nil {
		return 0
	}
	var walk func(n *Node) int
	walk = func(n *Node) int {
		if n.IsLeaf() {
			return 0
		}
		l, r := walk(n.Left), walk(n.Right)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return walk(t.Root)
}

// Leaves counts leaf nodes.
func (t *DecisionTree) Leaves() int {
	if t == nil || t.Root == nil {
		return 0
	}
	var walk func(n *Node) int
	walk = func(n *Node) int {
		if n.IsLeaf() {
			return 1
		}
		return walk(n.Left) + walk(n.Right)
	}
	return walk(t.Root)
}

// Fit grows the tree on X (rows of equal width) and class indices y.
func (t *DecisionTree) Fit(X [][]float64, y []int, numClasses int) error {
	if len(X) == 0 {
		return fmt.Errorf("cannot fit on an empty dataset")
	}
	if len(X) != len(y) {
		return fmt.Errorf("X has %d rows but y has %d labels", len(X), len(y))
	}
	if numClasses < 1 {
		return fmt.Errorf("numClasses must be positive, got %d", numClasses)
	}

	width := len(X[0])
	if width == 0 {
		return fmt.Errorf("rows have no features")
	}
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
	}
	for i, c := range y {
		if c < 0 || c >= numClasses {
			return fmt.Errorf("label %d at row %d outside [0,%d)", c, i, numClasses)
		}
	}

	b := &treeBuilder{
		params:      t.Params,
		x:           X,
		y:           y,
		classes:     numClasses,
		weights:     sampleWeights(y, numClasses, t.Params.ClassWeight),
		importances: make([]float64, width),
	}

	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}

	t.Features = width
	t.Classes = numClasses
	t.Root = b.build(idx, 0)

	var sum float64
	for _, v := range b.importances {
		sum += v
	}
	if sum > 0 {
		for i := range b.importances {
			b.importances[i] /= sum
		}
	}
	t.Importances = b.importances

	return nil
}

type treeBuilder struct {
	params      TreeParams
	x           [][]float64
	y           []int
	classes     int
	weights     []float64
	importances []float64
}

func (b *treeBuilder) build(idx []int, depth int) *Node {
	value := make([]float64, b.classes)
	for _, i := range idx {
		value[b.y[i]] += b.weights[i]
	}
	total := sum(value)
	impurity := gini(value, total)

	node := &Node{Feature: -1, Value: value, Samples: len(idx), Impurity: impurity}

	if (b.params.MaxDepth > 0 && depth >= b.params.MaxDepth) ||
		len(idx) < b.params.MinSamplesSplit ||
		len(idx) < 2*b.params.MinSamplesLeaf ||
		impurity <= 1e-12 {
		return node
	}

	feature, threshold, childImpurity, ok := b.bestSplit(idx, value, total)
	if !ok || childImpurity >= impurity-1e-12 {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.importances[feature] += total * (impurity - childImpurity)

	node.Feature = feature
	node.Threshold = threshold
	node.Left = b.build(left, depth+1)
	node.Right = b.build(right, depth+1)
	return node
}

// bestSplit scans every feature and every boundary between distinct sorted
// values. The returned impurity is the weighted child impurity.
func (b *treeBuilder) bestSplit(idx []int, value []float64, total float64) (int, float64, float64, bool) {
	bestFeature, bestThreshold := -1, 0.0
	bestImpurity := 0.0
	found := false

	sorted := make([]int, len(idx))
	left := make([]float64, b.classes)
	right := make([]float64, b.classes)

	for f := 0; f < len(b.importances); f++ {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool {
			return b.x[sorted[a]][f] < b.x[sorted[c]][f]
		})

		for c := range left {
			left[c] = 0
		}
		copy(right, value)
		var leftTotal float64

		for p := 0; p < len(sorted)-1; p++ {
			i := sorted[p]
			left[b.y[i]] += b.weights[i]
			right[b.y[i]] -= b.weights[i]
			leftTotal += b.weights[i]

			cur, next := b.x[i][f], b.x[sorted[p+1]][f]
			if cur == next {
				continue
			}
			nLeft := p + 1
			if nLeft < b.params.MinSamplesLeaf || len(sorted)-nLeft < b.params.MinSamplesLeaf {
				continue
			}
			rightTotal := total - leftTotal
			if leftTotal <= 0 || rightTotal <= 0 {
				continue
			}

			imp := (leftTotal*gini(left, leftTotal) + rightTotal*gini(right, rightTotal)) / total
			if !found || imp < bestImpurity-1e-12 {
				threshold := cur + (next-cur)/2
				if threshold >= next {
					threshold = cur
				}
				bestFeature, bestThreshold, bestImpurity = f, threshold, imp
				found = true
			}
		}
	}

	return bestFeature, bestThreshold, bestImpurity, found
}

func sampleWeights(y []int, numClasses int, mode string) []float64 {
	w := make([]float64, len(y))
	if mode != ClassWeightBalanced {
		for i := range w {
			w[i] = 1
		}
		return w
	}

	counts := make([]int, numClasses)
	for _, c := range y {
		counts[c]++
	}
	present := 0
	for _, n := range counts {
		if n > 0 {
			present++
		}
	}

	classWeight := make([]float64, numClasses)
	for c, n := range counts {
		if n > 0 {
			classWeight[c] = float64(len(y)) / (float64(present) * float64(n))
		}
	}
	for i, c := range y {
		w[i] = classWeight[c]
	}
	return w
}

func gini(value []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	g := 1.0
	for _, v := range value {
		p := v / total
		g -= p * p
	}
	return g
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
