// Package errors はtabflow全体のエラーハンドリングと警告システムを提供します。
// パイプラインの各ステージが返すエラーは型付きの構造体で表現され、
// cockroachdb/errors によってスタックトレースが付与されます。
package errors

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		// デフォルトのハンドラは標準エラー出力にログを出す
		log.Printf("tabflow-warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler はライブラリ全体の警告ハンドラを設定します。
//
// 例:
//
//	errors.SetWarningHandler(func(w error) {
//	    // 警告を無視する
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// zerologが設定されている場合は構造化ログとして出力し、そうでなければ従来のハンドラを使用します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}

	if warningHandler != nil {
		warningHandler(w)
	}
}

// UndefinedMetricWarning は評価指標が計算できない場合に発生する警告です。
// 例えば、テストデータのラベルが全て同じ値でR²が定義できない場合など。
type UndefinedMetricWarning struct {
	Metric    string
	Condition string
}

func (w *UndefinedMetricWarning) Error() string {
	return fmt.Sprintf("'%s' is ill-defined and has been omitted due to %s.", w.Metric, w.Condition)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *UndefinedMetricWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("metric", w.Metric).
		Str("condition", w.Condition).
		Str("type", "UndefinedMetricWarning")
}

// NewUndefinedMetricWarning は新しいUndefinedMetricWarningを作成します。
func NewUndefinedMetricWarning(metric, condition string) *UndefinedMetricWarning {
	return &UndefinedMetricWarning{Metric: metric, Condition: condition}
}

// ===========================================================================
//
//	パイプラインのエラー型
//
// ===========================================================================

// ConfigNotFoundError は設定ファイルが存在しない場合のエラーです。
type ConfigNotFoundError struct {
	Path string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("tabflow: config file not found at %s", e.Path)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ConfigNotFoundError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("path", e.Path).Str("type", "ConfigNotFound")
}

// NewConfigNotFoundError は新しいConfigNotFoundErrorを作成し、スタックトレースを付与します。
func NewConfigNotFoundError(path string) error {
	return errors.WithStack(&ConfigNotFoundError{Path: path})
}

// RawFileNotFoundError は前処理の入力CSVが存在しない場合のエラーです。
type RawFileNotFoundError struct {
	Path string
}

func (e *RawFileNotFoundError) Error() string {
	return fmt.Sprintf("tabflow: raw data file not found at %s; add a CSV file there", e.Path)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *RawFileNotFoundError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("path", e.Path).Str("type", "RawFileNotFound")
}

// NewRawFileNotFoundError は新しいRawFileNotFoundErrorを作成し、スタックトレースを付与します。
func NewRawFileNotFoundError(path string) error {
	return errors.WithStack(&RawFileNotFoundError{Path: path})
}

// ExperimentNotFoundError は指定された名前の実験がトラッキングストアに存在しない場合のエラーです。
type ExperimentNotFoundError struct {
	Name string
}

func (e *ExperimentNotFoundError) Error() string {
	return fmt.Sprintf("tabflow: experiment '%s' not found", e.Name)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ExperimentNotFoundError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("experiment", e.Name).Str("type", "ExperimentNotFound")
}

// NewExperimentNotFoundError は新しいExperimentNotFoundErrorを作成し、スタックトレースを付与します。
func NewExperimentNotFoundError(name string) error {
	return errors.WithStack(&ExperimentNotFoundError{Name: name})
}

// NoFinishedRunError は実験に完了済みのランが一つも無い場合のエラーです。
type NoFinishedRunError struct {
	Experiment string
}

func (e *NoFinishedRunError) Error() string {
	return fmt.Sprintf("tabflow: no finished runs found in experiment '%s'", e.Experiment)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NoFinishedRunError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("experiment", e.Experiment).Str("type", "NoFinishedRun")
}

// NewNoFinishedRunError は新しいNoFinishedRunErrorを作成し、スタックトレースを付与します。
func NewNoFinishedRunError(experiment string) error {
	return errors.WithStack(&NoFinishedRunError{Experiment: experiment})
}

// RunNotFoundError は指定されたランIDがストアに存在しない場合のエラーです。
type RunNotFoundError struct {
	RunID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("tabflow: run '%s' not found", e.RunID)
}

// NewRunNotFoundError は新しいRunNotFoundErrorを作成し、スタックトレースを付与します。
func NewRunNotFoundError(runID string) error {
	return errors.WithStack(&RunNotFoundError{RunID: runID})
}

// SchemaMismatchError は期待する列がデータに存在しない場合のエラーです。
type SchemaMismatchError struct {
	Source    string   // 検証対象（ファイルパスなど）
	Column    string   // 見つからなかった列
	Available []string // 実際に存在する列
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("tabflow: schema mismatch in %s: column '%s' not found (available: %s)",
		e.Source, e.Column, strings.Join(e.Available, ", "))
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *SchemaMismatchError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("source", e.Source).
		Str("column", e.Column).
		Strs("available", e.Available).
		Str("type", "SchemaMismatch")
}

// NewSchemaMismatchError は新しいSchemaMismatchErrorを作成し、スタックトレースを付与します。
func NewSchemaMismatchError(source, column string, available []string) error {
	return errors.WithStack(&SchemaMismatchError{Source: source, Column: column, Available: available})
}

// ===========================================================================
//
//	モデルのエラー型
//
// ===========================================================================

// NotFittedError はモデルが未学習の状態で `Predict` を呼び出した場合のエラーです。
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("tabflow: %s: this model is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError は新しいNotFittedErrorを作成し、スタックトレースを付与します。
func NewNotFittedError(modelName, method string) error {
	return errors.WithStack(&NotFittedError{ModelName: modelName, Method: method})
}

// DimensionError は入力データの次元が期待値と異なる場合のエラーです。
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) Error() string {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	return fmt.Sprintf("tabflow: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
}

// NewDimensionError は新しいDimensionErrorを作成し、スタックトレースを付与します。
func NewDimensionError(op string, expected, got, axis int) error {
	return errors.WithStack(&DimensionError{Op: op, Expected: expected, Got: got, Axis: axis})
}

// ValidationError は入力パラメータの検証に失敗した場合のエラーです。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tabflow: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	return errors.WithStack(&ValidationError{ParamName: param, Reason: reason, Value: value})
}

// ValueError は値が不適切または不正な場合に発生するエラーです。
// 例えば、数値列に数値として解釈できない文字列が含まれていた場合など。
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("tabflow: %s: %s", e.Op, e.Message)
}

// NewValueError は新しいValueErrorを作成し、スタックトレースを付与します。
func NewValueError(op, message string) error {
	return errors.WithStack(&ValueError{Op: op, Message: message})
}

// ModelError は機械学習モデルに関する一般的なエラーです。
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tabflow: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("tabflow: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError は新しいModelErrorを作成し、スタックトレースを付与します。
func NewModelError(op, kind string, err error) error {
	return errors.WithStack(&ModelError{Op: op, Kind: kind, Err: err})
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrEmptyData は空のデータが渡された場合のエラーです。
	ErrEmptyData = New("empty data")

	// ErrSingularMatrix は特異行列の場合のエラーです。
	ErrSingularMatrix = New("singular matrix")
)
