// Package tree は二乗誤差を分割基準とするCART回帰木を提供する。
//
// ノードはスライスにフラットに格納され、子は添字で参照する。
// このためモデルはgobでそのまま保存・復元できる。
package tree

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/tabflow/core/model"
	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

// ModelType は成果物メタデータに記録されるモデル種別名
const ModelType = "decision_tree"

func init() {
	model.Register(ModelType, func() model.Regressor { return NewDecisionTreeRegressor() })
}

// leaf を表す Feature の値
const leafFeature = -1

// 分割による誤差の減少がこれ以下なら分割しない
const minImprovement = 1e-12

// Node は木の1ノード
type Node struct {
	// Feature は分割に使う特徴量の列番号。葉では -1
	Feature int
	// Threshold 以下なら Left、より大きければ Right に進む
	Threshold float64
	Left      int
	Right     int
	// Value は葉に到達した学習サンプルのラベル平均
	Value    float64
	NSamples int
}

// IsLeaf reports whether the node is a leaf.
func (n Node) IsLeaf() bool { return n.Feature == leafFeature }

// DecisionTreeRegressor は二乗誤差を最小化するように分割する回帰木
type DecisionTreeRegressor struct {
	model.BaseEstimator

	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	RandomState     int64

	Nodes     []Node
	NFeatures int
}

// NewDecisionTreeRegressor は既定値で回帰木を作成する
func NewDecisionTreeRegressor(opts ...Option) *DecisionTreeRegressor {
	t := &DecisionTreeRegressor{
		MaxDepth:        0,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     0,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Fit は全サンプルで木を学習する
func (t *DecisionTreeRegressor) Fit(X, y mat.Matrix) error {
	rows, labels, err := Rows(X, y)
	if err != nil {
		return err
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	return t.FitSamples(rows, labels, idx)
}

// Rows は X を行ごとのスライスに、y を長さ n のスライスに変換する
func Rows(X, y mat.Matrix) ([][]float64, []float64, error) {
	r, c := X.Dims()
	ry, cy := y.Dims()
	if r == 0 || c == 0 {
		return nil, nil, errors.NewModelError("tree.Rows", "empty data", errors.ErrEmptyData)
	}
	if ry != r {
		return nil, nil, errors.NewDimensionError("tree.Rows", r, ry, 0)
	}
	if cy != 1 {
		return nil, nil, errors.NewValueError("tree.Rows", "y must be a column vector")
	}
	if err := errors.CheckMatrix("tree.Rows", X); err != nil {
		return nil, nil, err
	}
	rows := make([][]float64, r)
	labels := make([]float64, r)
	for i := 0; i < r; i++ {
		rows[i] = mat.Row(nil, i, X)
		labels[i] = y.At(i, 0)
	}
	return rows, labels, nil
}

// FitSamples は idx で選ばれた行だけを使って木を学習する。
// idx は重複を含んでよい（ブートストラップ標本）
func (t *DecisionTreeRegressor) FitSamples(X [][]float64, y []float64, idx []int) error {
	if len(idx) == 0 || len(X) == 0 {
		return errors.NewModelError("DecisionTreeRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	if len(X) != len(y) {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", len(X), len(y), 0)
	}
	if err := t.validate(); err != nil {
		return err
	}

	t.Reset()
	t.NFeatures = len(X[0])
	t.Nodes = t.Nodes[:0]

	b := &builder{
		tree: t,
		X:    X,
		y:    y,
		rnd:  rand.New(rand.NewSource(t.RandomState)),
	}
	b.build(append([]int(nil), idx...), 0)

	t.SetFitted()
	return nil
}

func (t *DecisionTreeRegressor) validate() error {
	if t.MaxDepth < 0 {
		return errors.NewValidationError("max_depth", "must be >= 0 (0 means unlimited)", t.MaxDepth)
	}
	if t.MinSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be >= 2", t.MinSamplesSplit)
	}
	if t.MinSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", t.MinSamplesLeaf)
	}
	if t.MaxFeatures < 0 {
		return errors.NewValidationError("max_features", "must be >= 0 (0 means all)", t.MaxFeatures)
	}
	return nil
}

// Predict は各行の予測値を n×1 行列で返す
func (t *DecisionTreeRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !t.IsFitted() {
		return nil, errors.NewNotFittedError("DecisionTreeRegressor", "Predict")
	}
	r, c := X.Dims()
	if r == 0 {
		return nil, errors.NewModelError("DecisionTreeRegressor.Predict", "empty data", errors.ErrEmptyData)
	}
	if c != t.NFeatures {
		return nil, errors.NewDimensionError("DecisionTreeRegressor.Predict", t.NFeatures, c, 1)
	}
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, t.PredictRow(mat.Row(nil, i, X)))
	}
	return out, nil
}

// PredictRow は1行分の特徴量に対する予測値を返す
func (t *DecisionTreeRegressor) PredictRow(x []float64) float64 {
	n := t.Nodes[0]
	for !n.IsLeaf() {
		if x[n.Feature] <= n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Value
}

// Depth は学習済みの木の深さを返す（根のみなら 0）
func (t *DecisionTreeRegressor) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.IsLeaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

// LeafCount は葉の数を返す
func (t *DecisionTreeRegressor) LeafCount() int {
	count := 0
	for _, n := range t.Nodes {
		if n.IsLeaf() {
			count++
		}
	}
	return count
}

// GetParams はハイパーパラメータを返す
func (t *DecisionTreeRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"max_depth":         t.MaxDepth,
		"min_samples_split": t.MinSamplesSplit,
		"min_samples_leaf":  t.MinSamplesLeaf,
		"max_features":      t.MaxFeatures,
		"random_state":      t.RandomState,
	}
}

type builder struct {
	tree *DecisionTreeRegressor
	X    [][]float64
	y    []float64
	rnd  *rand.Rand
}

type split struct {
	feature   int
	threshold float64
	pos       int // sorted[:pos] が左
	cost      float64
	sorted    []int
}

// build はノードを追加し、その添字を返す
func (b *builder) build(idx []int, depth int) int {
	t := b.tree
	values := make([]float64, len(idx))
	for k, i := range idx {
		values[k] = b.y[i]
	}
	nodeID := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{
		Feature:  leafFeature,
		Left:     -1,
		Right:    -1,
		Value:    floats.Sum(values) / float64(len(values)),
		NSamples: len(idx),
	})

	if len(idx) < t.MinSamplesSplit || len(idx) < 2*t.MinSamplesLeaf {
		return nodeID
	}
	if t.MaxDepth > 0 && depth >= t.MaxDepth {
		return nodeID
	}
	parentCost := sse(values)
	if parentCost <= minImprovement {
		return nodeID
	}

	best, ok := b.bestSplit(idx)
	if !ok || parentCost-best.cost <= minImprovement {
		return nodeID
	}

	left := b.build(best.sorted[:best.pos], depth+1)
	right := b.build(best.sorted[best.pos:], depth+1)
	t.Nodes[nodeID].Feature = best.feature
	t.Nodes[nodeID].Threshold = best.threshold
	t.Nodes[nodeID].Left = left
	t.Nodes[nodeID].Right = right
	return nodeID
}

// candidateFeatures は分割候補の特徴量を返す。MaxFeatures > 0 ならランダムに選ぶ
func (b *builder) candidateFeatures() []int {
	p := b.tree.NFeatures
	features := make([]int, p)
	for j := range features {
		features[j] = j
	}
	k := b.tree.MaxFeatures
	if k > 0 && k < p {
		b.rnd.Shuffle(p, func(i, j int) { features[i], features[j] = features[j], features[i] })
		features = features[:k]
		sort.Ints(features)
	}
	return features
}

// bestSplit は左右の二乗誤差の和が最小になる分割を探す
func (b *builder) bestSplit(idx []int) (split, bool) {
	minLeaf := b.tree.MinSamplesLeaf
	n := len(idx)
	best := split{cost: math.Inf(1)}
	found := false

	for _, f := range b.candidateFeatures() {
		sorted := append([]int(nil), idx...)
		sort.SliceStable(sorted, func(i, j int) bool { return b.X[sorted[i]][f] < b.X[sorted[j]][f] })

		var totalSum, totalSq float64
		for _, i := range sorted {
			totalSum += b.y[i]
			totalSq += b.y[i] * b.y[i]
		}

		var leftSum, leftSq float64
		for pos := 1; pos < n; pos++ {
			yi := b.y[sorted[pos-1]]
			leftSum += yi
			leftSq += yi * yi

			if pos < minLeaf || n-pos < minLeaf {
				continue
			}
			lo, hi := b.X[sorted[pos-1]][f], b.X[sorted[pos]][f]
			if lo == hi {
				continue
			}
			threshold := lo + (hi-lo)/2
			if threshold >= hi {
				threshold = lo
			}
			nl, nr := float64(pos), float64(n-pos)
			rightSum, rightSq := totalSum-leftSum, totalSq-leftSq
			cost := (leftSq - leftSum*leftSum/nl) + (rightSq - rightSum*rightSum/nr)
			if cost < best.cost {
				best = split{
					feature:   f,
					threshold: threshold,
					pos:       pos,
					cost:      cost,
					sorted:    sorted,
				}
				found = true
			}
		}
	}
	return best, found
}

// sse は平均からの二乗誤差の和
func sse(values []float64) float64 {
	mean := floats.Sum(values) / float64(len(values))
	var s float64
	for _, v := range values {
		d := v - mean
		s += d * d
	}
	return s
}
