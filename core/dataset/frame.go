// Package dataset は列名付きの表形式データ（Frame）とそのCSV入出力を提供する。
//
// 値は文字列のまま保持し、数値への変換は特徴量・ラベルを取り出す時点でのみ行う。
// そのため前処理はCSVの内容を変えずに行を間引くだけで済む。
package dataset

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

// missingTokens は欠損値として扱う文字列（前後の空白は除いて比較する）
var missingTokens = map[string]struct{}{
	"":     {},
	"NA":   {},
	"N/A":  {},
	"n/a":  {},
	"NaN":  {},
	"nan":  {},
	"-NaN": {},
	"NULL": {},
	"null": {},
	"None": {},
	"#N/A": {},
	"#NA":  {},
	"<NA>": {},
	"-nan": {},

	"#N/A N/A": {},
	"-1.#IND":  {},
	"-1.#QNAN": {},
	"1.#IND":   {},
	"1.#QNAN":  {},
}

// IsMissing は値が欠損値かどうかを返す
func IsMissing(v string) bool {
	_, ok := missingTokens[strings.TrimSpace(v)]
	return ok
}

// Frame は順序付きの行と名前付きの列を持つ表
type Frame struct {
	// Source is where the frame was read from; used in error messages.
	Source  string
	columns []string
	index   map[string]int
	rows    [][]string
}

// NewFrame は列名と行からFrameを作成する。各行の長さは列数と一致しなければならない
func NewFrame(columns []string, rows [][]string) (*Frame, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; dup {
			return nil, errors.NewValueError("dataset.NewFrame", fmt.Sprintf("duplicate column %q", c))
		}
		index[c] = i
	}
	for _, r := range rows {
		if len(r) != len(columns) {
			return nil, errors.NewDimensionError("dataset.NewFrame", len(columns), len(r), 1)
		}
	}
	return &Frame{
		columns: append([]string(nil), columns...),
		index:   index,
		rows:    rows,
	}, nil
}

// Columns は列名のコピーを返す
func (f *Frame) Columns() []string {
	return append([]string(nil), f.columns...)
}

// Len は行数を返す
func (f *Frame) Len() int {
	return len(f.rows)
}

// Row は i 行目のコピーを返す
func (f *Frame) Row(i int) []string {
	return append([]string(nil), f.rows[i]...)
}

// HasColumn は列が存在するかを返す
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.index[name]
	return ok
}

// ColumnIndex は列の位置を返す。存在しない場合は SchemaMismatchError
func (f *Frame) ColumnIndex(name string) (int, error) {
	i, ok := f.index[name]
	if !ok {
		return -1, errors.NewSchemaMismatchError(f.source(), name, f.Columns())
	}
	return i, nil
}

// Column は列の値をコピーして返す
func (f *Frame) Column(name string) ([]string, error) {
	j, err := f.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(f.rows))
	for i, r := range f.rows {
		out[i] = r[j]
	}
	return out, nil
}

// Filter は keep が true を返す行だけを残した新しいFrameを返す。元のFrameは変更しない
func (f *Frame) Filter(keep func(row []string) bool) *Frame {
	rows := make([][]string, 0, len(f.rows))
	for _, r := range f.rows {
		if keep(r) {
			rows = append(rows, append([]string(nil), r...))
		}
	}
	return &Frame{Source: f.Source, columns: f.Columns(), index: f.copyIndex(), rows: rows}
}

// Clone はFrameのディープコピーを返す
func (f *Frame) Clone() *Frame {
	return f.Filter(func([]string) bool { return true })
}

// WithColumn は末尾に列を追加したコピーを返す。元のFrameは変更しない
func (f *Frame) WithColumn(name string, values []string) (*Frame, error) {
	if f.HasColumn(name) {
		return nil, errors.NewValueError("dataset.WithColumn", fmt.Sprintf("column %q already exists", name))
	}
	if len(values) != len(f.rows) {
		return nil, errors.NewDimensionError("dataset.WithColumn", len(f.rows), len(values), 0)
	}
	out := f.Clone()
	out.index[name] = len(out.columns)
	out.columns = append(out.columns, name)
	for i := range out.rows {
		out.rows[i] = append(out.rows[i], values[i])
	}
	return out, nil
}

// WithFloatColumn は数値列を追加したコピーを返す
func (f *Frame) WithFloatColumn(name string, values []float64) (*Frame, error) {
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return f.WithColumn(name, s)
}

// Floats は列を float64 として取り出す。解析できない値は ValueError
func (f *Frame) Floats(name string) ([]float64, error) {
	j, err := f.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(f.rows))
	for i, r := range f.rows {
		v, err := parseFloat(r[j])
		if err != nil {
			return nil, errors.NewValueError("dataset.Floats",
				fmt.Sprintf("%s: row %d, column %q: cannot parse %q as a number", f.source(), i+1, name, r[j]))
		}
		out[i] = v
	}
	return out, nil
}

// Matrix は指定した列を順番通りに並べた n×p 行列を返す
func (f *Frame) Matrix(names []string) (*mat.Dense, error) {
	if len(f.rows) == 0 {
		return nil, errors.NewModelError("dataset.Matrix", "empty data", errors.ErrEmptyData)
	}
	m := mat.NewDense(len(f.rows), len(names), nil)
	for j, name := range names {
		col, err := f.Floats(name)
		if err != nil {
			return nil, err
		}
		m.SetCol(j, col)
	}
	return m, nil
}

// Vector は列を長さ n のベクトルとして返す
func (f *Frame) Vector(name string) (*mat.VecDense, error) {
	if len(f.rows) == 0 {
		return nil, errors.NewModelError("dataset.Vector", "empty data", errors.ErrEmptyData)
	}
	col, err := f.Floats(name)
	if err != nil {
		return nil, err
	}
	return mat.NewVecDense(len(col), col), nil
}

func (f *Frame) copyIndex() map[string]int {
	index := make(map[string]int, len(f.index))
	for k, v := range f.index {
		index[k] = v
	}
	return index
}

func (f *Frame) source() string {
	if f.Source == "" {
		return "frame"
	}
	return f.Source
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
