// Package linear は正規方程式による最小二乗線形回帰を提供する。
// train.model_type に "linear_regression" を指定すると選択される。
package linear

import (
	"github.com/YuminosukeSato/tabflow/core/model"
	"github.com/YuminosukeSato/tabflow/core/parallel"
	"github.com/YuminosukeSato/tabflow/pkg/errors"
	"github.com/YuminosukeSato/tabflow/preprocessing"
	"gonum.org/v1/gonum/mat"
)

// ModelType は成果物メタデータに記録されるモデル種別名
const ModelType = "linear_regression"

func init() {
	model.Register(ModelType, func() model.Regressor { return NewLinearRegression() })
}

// 並列処理の閾値（この値以下の行数では逐次処理を使用）
const parallelThreshold = 1000

// LinearRegression は線形回帰モデル
type LinearRegression struct {
	model.BaseEstimator

	// FitIntercept が false の場合、切片を 0 に固定する
	FitIntercept bool
	// Standardize が true の場合、特徴量を標準化してから解き、係数を元のスケールに戻す
	Standardize bool
	Coef         []float64 // 重み（係数）
	Intercept    float64   // 切片
	NFeatures    int       // 特徴量の数
}

// NewLinearRegression は新しい線形回帰モデルを作成する
func NewLinearRegression(opts ...Option) *LinearRegression {
	lr := &LinearRegression{FitIntercept: true}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// Fit はモデルを訓練データで学習させる
// 正規方程式 w = (X^T * X)^(-1) * X^T * y を使用
func (lr *LinearRegression) Fit(X, y mat.Matrix) error {
	r, c := X.Dims()
	ry, cy := y.Dims()

	if r == 0 || c == 0 {
		return errors.NewModelError("LinearRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	if ry != r {
		return errors.NewDimensionError("LinearRegression.Fit", r, ry, 0)
	}
	if cy != 1 {
		return errors.NewValueError("LinearRegression.Fit", "y must be a column vector")
	}
	if err := errors.CheckMatrix("LinearRegression.Fit", X); err != nil {
		return err
	}

	var scaler *preprocessing.StandardScaler
	if lr.Standardize {
		// 切片が無い場合は平均を引くと解が変わる
		scaler = preprocessing.NewStandardScaler(lr.FitIntercept, true)
		scaled, err := scaler.FitTransform(X)
		if err != nil {
			return err
		}
		X = scaled
	}

	offset := 0
	if lr.FitIntercept {
		offset = 1
	}

	// 切片項のために X の先頭に 1 の列を追加
	design := mat.NewDense(r, c+offset, nil)
	parallel.ParallelizeWithThreshold(r, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			if offset == 1 {
				design.Set(i, 0, 1.0)
			}
			for j := 0; j < c; j++ {
				design.Set(i, j+offset, X.At(i, j))
			}
		}
	})

	var xtx mat.Dense
	xtx.Mul(design.T(), design)

	var xtxInv mat.Dense
	if err := xtxInv.Inverse(&xtx); err != nil {
		return errors.NewModelError("LinearRegression.Fit", "singular matrix", errors.ErrSingularMatrix)
	}

	yVec := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		yVec.SetVec(i, y.At(i, 0))
	}

	var xty mat.VecDense
	xty.MulVec(design.T(), yVec)

	var w mat.VecDense
	w.MulVec(&xtxInv, &xty)

	lr.NFeatures = c
	lr.Intercept = 0
	if offset == 1 {
		lr.Intercept = w.AtVec(0)
	}
	lr.Coef = make([]float64, c)
	for j := 0; j < c; j++ {
		lr.Coef[j] = w.AtVec(j + offset)
	}
	if scaler != nil {
		for j := range lr.Coef {
			lr.Coef[j] /= scaler.Scale[j]
			lr.Intercept -= lr.Coef[j] * scaler.Mean[j]
		}
	}

	lr.SetFitted()
	return nil
}

// Predict は入力データに対する予測を行う
func (lr *LinearRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !lr.IsFitted() {
		return nil, errors.NewNotFittedError("LinearRegression", "Predict")
	}

	r, c := X.Dims()
	if r == 0 {
		return nil, errors.NewModelError("LinearRegression.Predict", "empty data", errors.ErrEmptyData)
	}
	if c != lr.NFeatures {
		return nil, errors.NewDimensionError("LinearRegression.Predict", lr.NFeatures, c, 1)
	}

	// 予測: y = X * coef + intercept
	predictions := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		pred := lr.Intercept
		for j := 0; j < c; j++ {
			pred += X.At(i, j) * lr.Coef[j]
		}
		predictions.Set(i, 0, pred)
	}
	return predictions, nil
}

// GetWeights は学習された重み（係数）のコピーを返す
func (lr *LinearRegression) GetWeights() []float64 {
	if lr.Coef == nil {
		return nil
	}
	return append([]float64(nil), lr.Coef...)
}

// GetIntercept は学習された切片を返す
func (lr *LinearRegression) GetIntercept() float64 {
	if !lr.IsFitted() {
		return 0
	}
	return lr.Intercept
}

// GetParams はハイパーパラメータを返す
func (lr *LinearRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"fit_intercept": lr.FitIntercept,
		"standardize":   lr.Standardize,
	}
}
