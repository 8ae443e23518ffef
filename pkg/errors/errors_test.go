package errors

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		kind     string
		err      error
		wantMsg  string
		hasStack bool
	}{
		{
			name:     "with original error",
			op:       "Fit",
			kind:     "invalid input",
			err:      fmt.Errorf("test error"),
			wantMsg:  "tabflow: Fit: invalid input: test error",
			hasStack: true,
		},
		{
			name:     "without original error",
			op:       "Predict",
			kind:     "not fitted",
			err:      nil,
			wantMsg:  "tabflow: Predict: not fitted",
			hasStack: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// スタックトレースの存在確認
			if tt.hasStack {
				formatted := fmt.Sprintf("%+v", err)
				if !strings.Contains(formatted, "errors_test.go") {
					t.Error("Expected stack trace to contain test file name")
				}
			}

			var modelErr *ModelError
			if !As(err, &modelErr) {
				t.Error("Error should be castable to *ModelError")
			}
		})
	}
}

func TestPipelineErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
		target  func(error) bool
	}{
		{
			name:    "config not found",
			err:     NewConfigNotFoundError("configs/missing.yaml"),
			wantMsg: "tabflow: config file not found at configs/missing.yaml",
			target: func(err error) bool {
				var e *ConfigNotFoundError
				return As(err, &e) && e.Path == "configs/missing.yaml"
			},
		},
		{
			name:    "raw file not found",
			err:     NewRawFileNotFoundError("data/raw/salary.csv"),
			wantMsg: "tabflow: raw data file not found at data/raw/salary.csv; add a CSV file there",
			target: func(err error) bool {
				var e *RawFileNotFoundError
				return As(err, &e)
			},
		},
		{
			name:    "experiment not found",
			err:     NewExperimentNotFoundError("salary_prediction"),
			wantMsg: "tabflow: experiment 'salary_prediction' not found",
			target: func(err error) bool {
				var e *ExperimentNotFoundError
				return As(err, &e) && e.Name == "salary_prediction"
			},
		},
		{
			name:    "no finished run",
			err:     NewNoFinishedRunError("salary_prediction"),
			wantMsg: "tabflow: no finished runs found in experiment 'salary_prediction'",
			target: func(err error) bool {
				var e *NoFinishedRunError
				return As(err, &e)
			},
		},
		{
			name:    "schema mismatch",
			err:     NewSchemaMismatchError("test.csv", "YearsExperience", []string{"Age", "Salary"}),
			wantMsg: "tabflow: schema mismatch in test.csv: column 'YearsExperience' not found (available: Age, Salary)",
			target: func(err error) bool {
				var e *SchemaMismatchError
				return As(err, &e) && e.Column == "YearsExperience"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", tt.err.Error(), tt.wantMsg)
			}
			if !tt.target(tt.err) {
				t.Errorf("As() did not match the expected type for %T", tt.err)
			}
			// ラップしても型を取り出せること
			if !tt.target(Wrap(tt.err, "outer")) {
				t.Error("wrapped error lost its type")
			}
		})
	}
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("RandomForestRegressor", "Predict")

	want := "tabflow: RandomForestRegressor: this model is not fitted yet. Call Fit() before using Predict()"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var notFittedErr *NotFittedError
	if !As(err, &notFittedErr) {
		t.Error("Error should be castable to *NotFittedError")
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("Predict", 2, 3, 1)

	want := "tabflow: Predict: dimension mismatch on axis 1 (features). Expected 2, got 3"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestUndefinedMetricWarning(t *testing.T) {
	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(nil)

	Warn(NewUndefinedMetricWarning("r2", "constant y_true"))

	if len(got) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(got))
	}
	want := "'r2' is ill-defined and has been omitted due to constant y_true."
	if got[0].Error() != want {
		t.Errorf("Error() = %v, want %v", got[0].Error(), want)
	}
}

func TestWrapAndIs(t *testing.T) {
	wrapped := Wrapf(ErrEmptyData, "in %s: expected %d rows", "Fit", 10)

	if !Is(wrapped, ErrEmptyData) {
		t.Error("Expected Is(wrapped, ErrEmptyData) to be true")
	}
	if !strings.Contains(wrapped.Error(), "in Fit: expected 10 rows") {
		t.Error("Expected wrapped error to contain wrapping message")
	}
}

func TestCheckNumerical(t *testing.T) {
	if err := CheckScalar("metrics", 1.5); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckScalar("metrics", math.NaN()); err == nil {
		t.Error("expected error for NaN")
	}

	m := mat.NewDense(2, 2, []float64{1, 2, math.Inf(1), 4})
	err := CheckMatrix("predict", m)
	var instab *NumericalInstabilityError
	if !As(err, &instab) {
		t.Fatalf("expected NumericalInstabilityError, got %v", err)
	}
	if len(instab.Values) != 1 {
		t.Errorf("expected 1 unstable value, got %d", len(instab.Values))
	}
}
