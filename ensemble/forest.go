// Package ensemble はバギングした回帰木の平均で予測する RandomForestRegressor を提供する。
package ensemble

import (
	"context"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/tabflow/core/model"
	"github.com/YuminosukeSato/tabflow/core/parallel"
	"github.com/YuminosukeSato/tabflow/pkg/errors"
	"github.com/YuminosukeSato/tabflow/tree"
)

// ModelType は成果物メタデータに記録されるモデル種別名
const ModelType = "random_forest"

func init() {
	model.Register(ModelType, func() model.Regressor { return NewRandomForestRegressor() })
}

// 予測を行単位で並列化する閾値
const predictParallelThreshold = 1000

// RandomForestRegressor は回帰木のアンサンブル
type RandomForestRegressor struct {
	model.BaseEstimator

	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	Bootstrap       bool
	RandomState     int64
	NJobs           int

	Trees     []*tree.DecisionTreeRegressor
	NFeatures int
}

// NewRandomForestRegressor は既定値でフォレストを作成する
func NewRandomForestRegressor(opts ...Option) *RandomForestRegressor {
	f := &RandomForestRegressor{
		NEstimators:     100,
		MaxDepth:        0,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     0,
		Bootstrap:       true,
		RandomState:     0,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fit はフォレストを学習する
func (f *RandomForestRegressor) Fit(X, y mat.Matrix) error {
	return f.FitContext(context.Background(), X, y)
}

// FitContext は木を最大 NJobs 並列で学習する。
// 木 i は RandomState+i の乱数列だけを使い、結果は Trees[i] に書き込まれるため
// 並列度によらず同じモデルになる
func (f *RandomForestRegressor) FitContext(ctx context.Context, X, y mat.Matrix) error {
	if f.NEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be >= 1", f.NEstimators)
	}
	rows, labels, err := tree.Rows(X, y)
	if err != nil {
		return err
	}

	f.Reset()
	trees := make([]*tree.DecisionTreeRegressor, f.NEstimators)

	err = parallel.ForEach(ctx, f.NEstimators, f.NJobs, func(_ context.Context, i int) error {
		return errors.SafeExecute("RandomForestRegressor.fitTree", func() error {
			t, err := f.fitTree(rows, labels, i)
			if err != nil {
				return err
			}
			trees[i] = t
			return nil
		})
	})
	if err != nil {
		return err
	}

	f.Trees = trees
	f.NFeatures = len(rows[0])
	f.SetFitted()
	return nil
}

// fitTree は i 番目の木をブートストラップ標本で学習する
func (f *RandomForestRegressor) fitTree(rows [][]float64, labels []float64, i int) (*tree.DecisionTreeRegressor, error) {
	n := len(rows)
	seed := f.RandomState + int64(i)
	rnd := rand.New(rand.NewSource(seed))
	idx := make([]int, n)
	for j := range idx {
		if f.Bootstrap {
			idx[j] = rnd.Intn(n)
		} else {
			idx[j] = j
		}
	}

	t := tree.NewDecisionTreeRegressor(
		tree.WithMaxDepth(f.MaxDepth),
		tree.WithMinSamplesSplit(f.MinSamplesSplit),
		tree.WithMinSamplesLeaf(f.MinSamplesLeaf),
		tree.WithMaxFeatures(f.MaxFeatures),
		tree.WithRandomState(seed),
	)
	if err := t.FitSamples(rows, labels, idx); err != nil {
		return nil, err
	}
	return t, nil
}

// Predict は全ての木の予測の平均を返す
func (f *RandomForestRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !f.IsFitted() {
		return nil, errors.NewNotFittedError("RandomForestRegressor", "Predict")
	}
	r, c := X.Dims()
	if r == 0 {
		return nil, errors.NewModelError("RandomForestRegressor.Predict", "empty data", errors.ErrEmptyData)
	}
	if c != f.NFeatures {
		return nil, errors.NewDimensionError("RandomForestRegressor.Predict", f.NFeatures, c, 1)
	}

	out := make([]float64, r)
	parallel.ParallelizeWithThreshold(r, predictParallelThreshold, func(start, end int) {
		votes := make([]float64, len(f.Trees))
		for i := start; i < end; i++ {
			x := mat.Row(nil, i, X)
			for k, t := range f.Trees {
				votes[k] = t.PredictRow(x)
			}
			out[i] = floats.Sum(votes) / float64(len(votes))
		}
	})
	return mat.NewDense(r, 1, out), nil
}

// GetParams はハイパーパラメータを返す
func (f *RandomForestRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      f.NEstimators,
		"max_depth":         f.MaxDepth,
		"min_samples_split": f.MinSamplesSplit,
		"min_samples_leaf":  f.MinSamplesLeaf,
		"max_features":      f.MaxFeatures,
		"bootstrap":         f.Bootstrap,
		"random_state":      f.RandomState,
	}
}
