package metrics

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

// 評価指標名
const (
	MetricMSE  = "mse"
	MetricRMSE = "rmse"
	MetricMAE  = "mae"
	MetricR2   = "r2"
)

// Report は指標名から値への対応
type Report map[string]float64

// Evaluate は評価用データに対して mse, rmse, mae, r2 を計算する。
// r2 が定義できない場合は UndefinedMetricWarning を発生させ、r2 を含めない
func Evaluate(yTrue, yPred mat.Vector) (Report, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	mae, err := MAE(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	r := Report{
		MetricMSE:  mse,
		MetricRMSE: math.Sqrt(mse),
		MetricMAE:  mae,
	}

	r2, err := R2Score(yTrue, yPred)
	var undefined *errors.UndefinedMetricWarning
	switch {
	case errors.As(err, &undefined):
		errors.Warn(undefined)
	case err != nil:
		return nil, err
	default:
		r[MetricR2] = r2
	}

	for name, v := range r {
		if err := errors.CheckScalar("metrics."+name, v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Names は指標名をソートして返す
func (r Report) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteJSON は指標をJSONオブジェクトとして path に書き出す。中間ディレクトリも作成する
func (r Report) WriteJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create metrics directory for %s", path)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode metrics")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write metrics %s", path)
	}
	return nil
}
