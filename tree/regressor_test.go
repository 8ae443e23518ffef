package tree

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/tabflow/core/model"
	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

func stepData() (*mat.Dense, *mat.Dense) {
	// x < 5 なら 10、それ以外は 20
	X := mat.NewDense(10, 1, nil)
	y := mat.NewDense(10, 1, nil)
	for i := 0; i < 10; i++ {
		X.Set(i, 0, float64(i))
		if i < 5 {
			y.Set(i, 0, 10)
		} else {
			y.Set(i, 0, 20)
		}
	}
	return X, y
}

func TestDecisionTreeFitsStepFunction(t *testing.T) {
	X, y := stepData()
	tr := NewDecisionTreeRegressor()
	require.NoError(t, tr.Fit(X, y))

	assert.Equal(t, 1, tr.Depth())
	assert.Equal(t, 2, tr.LeafCount())
	assert.Equal(t, 0, tr.Nodes[0].Feature)
	assert.Equal(t, 4.5, tr.Nodes[0].Threshold)

	pred, err := tr.Predict(mat.NewDense(3, 1, []float64{-1, 4.4, 100}))
	require.NoError(t, err)
	assert.Equal(t, 10.0, pred.At(0, 0))
	assert.Equal(t, 10.0, pred.At(1, 0))
	assert.Equal(t, 20.0, pred.At(2, 0))
}

func TestDecisionTreeStoppingRules(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	X := mat.NewDense(64, 2, nil)
	y := mat.NewDense(64, 1, nil)
	for i := 0; i < 64; i++ {
		X.Set(i, 0, rng.Float64())
		X.Set(i, 1, rng.Float64())
		y.Set(i, 0, rng.NormFloat64())
	}

	tests := []struct {
		name  string
		opts  []Option
		check func(t *testing.T, tr *DecisionTreeRegressor)
	}{
		{"max depth", []Option{WithMaxDepth(2)}, func(t *testing.T, tr *DecisionTreeRegressor) {
			assert.LessOrEqual(t, tr.Depth(), 2)
		}},
		{"min samples leaf", []Option{WithMinSamplesLeaf(10)}, func(t *testing.T, tr *DecisionTreeRegressor) {
			for _, n := range tr.Nodes {
				if n.IsLeaf() {
					assert.GreaterOrEqual(t, n.NSamples, 10)
				}
			}
		}},
		{"min samples split", []Option{WithMinSamplesSplit(64)}, func(t *testing.T, tr *DecisionTreeRegressor) {
			assert.Equal(t, 1, tr.Depth())
		}},
		{"unlimited memorizes", nil, func(t *testing.T, tr *DecisionTreeRegressor) {
			pred, err := tr.Predict(X)
			require.NoError(t, err)
			for i := 0; i < 64; i++ {
				assert.InDelta(t, y.At(i, 0), pred.At(i, 0), 1e-9)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewDecisionTreeRegressor(tt.opts...)
			require.NoError(t, tr.Fit(X, y))
			tt.check(t, tr)
		})
	}
}

func TestDecisionTreeConstantLabel(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := mat.NewDense(4, 1, []float64{7, 7, 7, 7})
	tr := NewDecisionTreeRegressor()
	require.NoError(t, tr.Fit(X, y))
	assert.Len(t, tr.Nodes, 1)
	assert.Equal(t, 7.0, tr.Nodes[0].Value)
}

func TestDecisionTreeFitSamplesWithDuplicates(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}}
	y := []float64{0, 10, 20}
	tr := NewDecisionTreeRegressor(WithMaxDepth(0))
	require.NoError(t, tr.FitSamples(X, y, []int{0, 0, 2}))
	// 行1は学習に使われていない
	assert.Equal(t, 2, tr.LeafCount())
	assert.Equal(t, 3, tr.Nodes[0].NSamples)
}

func TestDecisionTreeDeterministicFeatureSampling(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	X := mat.NewDense(50, 4, nil)
	y := mat.NewDense(50, 1, nil)
	for i := 0; i < 50; i++ {
		for j := 0; j < 4; j++ {
			X.Set(i, j, rng.Float64())
		}
		y.Set(i, 0, X.At(i, 0)+2*X.At(i, 3))
	}
	a := NewDecisionTreeRegressor(WithMaxFeatures(2), WithRandomState(9))
	b := NewDecisionTreeRegressor(WithMaxFeatures(2), WithRandomState(9))
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))
	assert.Equal(t, a.Nodes, b.Nodes)
}

func TestDecisionTreeErrors(t *testing.T) {
	tr := NewDecisionTreeRegressor()
	_, err := tr.Predict(mat.NewDense(1, 1, []float64{1}))
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	X, y := stepData()
	require.NoError(t, tr.Fit(X, y))
	_, err = tr.Predict(mat.NewDense(1, 2, []float64{1, 2}))
	var dim *errors.DimensionError
	assert.True(t, errors.As(err, &dim))

	bad := NewDecisionTreeRegressor(WithMinSamplesLeaf(0))
	var ve *errors.ValidationError
	assert.True(t, errors.As(bad.Fit(X, y), &ve))

	_, _, err = Rows(mat.NewDense(2, 1, []float64{1, 2}), mat.NewDense(3, 1, []float64{1, 2, 3}))
	assert.True(t, errors.As(err, &dim))
}

func TestDecisionTreePersistence(t *testing.T) {
	X, y := stepData()
	tr := NewDecisionTreeRegressor(WithMaxDepth(3))
	require.NoError(t, tr.Fit(X, y))

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(tr, &buf))

	var loaded DecisionTreeRegressor
	require.NoError(t, model.LoadModelFromReader(&loaded, &buf))
	assert.True(t, loaded.IsFitted())
	assert.Equal(t, tr.Nodes, loaded.Nodes)
	assert.Equal(t, 3, loaded.MaxDepth)
}
