// Package modelselection はデータの学習用・評価用への分割を提供する。
package modelselection

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

// Split は学習用と評価用の行番号
type Split struct {
	Train []int
	Test  []int
}

// TrainTestSplit は 0..n-1 を seed で初期化した乱数で並べ替え、
// 先頭 ceil(testSize*n) 個を評価用、残りを学習用とする。
// 同じ seed なら常に同じ分割になる
func TrainTestSplit(n int, testSize float64, seed int64) (Split, error) {
	if testSize <= 0 || testSize >= 1 || math.IsNaN(testSize) {
		return Split{}, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest
	if nTest < 1 || nTrain < 1 {
		return Split{}, errors.NewValueError("modelselection.TrainTestSplit",
			fmt.Sprintf("with n_samples=%d and test_size=%g the train or test set would be empty", n, testSize))
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return Split{
		Test:  perm[:nTest],
		Train: perm[nTest:],
	}, nil
}

// Apply は分割に従って X と y を行ごとに取り出す
func (s Split) Apply(X mat.Matrix, y mat.Vector) (XTrain, XTest *mat.Dense, yTrain, yTest *mat.VecDense) {
	XTrain, yTrain = take(X, y, s.Train)
	XTest, yTest = take(X, y, s.Test)
	return XTrain, XTest, yTrain, yTest
}

func take(X mat.Matrix, y mat.Vector, idx []int) (*mat.Dense, *mat.VecDense) {
	_, c := X.Dims()
	xs := mat.NewDense(len(idx), c, nil)
	ys := mat.NewVecDense(len(idx), nil)
	for k, i := range idx {
		for j := 0; j < c; j++ {
			xs.Set(k, j, X.At(i, j))
		}
		ys.SetVec(k, y.AtVec(i))
	}
	return xs, ys
}
