package dataset

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

// FeatureType is the declared type of a feature column.
type FeatureType string

const (
	// Float is a real-valued column.
	Float FeatureType = "float"
	// Int is an integer-valued column; it is still handed to models as float64.
	Int FeatureType = "int"
)

// Feature is one typed input column.
type Feature struct {
	Name string      `yaml:"name" json:"name"`
	Type FeatureType `yaml:"type" json:"type"`
}

// UnmarshalYAML accepts either a mapping {name, type} or a bare column name,
// which is typed Float.
func (f *Feature) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		f.Name = value.Value
		f.Type = Float
		return nil
	}
	type plain Feature
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*f = Feature(p)
	if f.Type == "" {
		f.Type = Float
	}
	return nil
}

// Schema はモデルが期待する特徴量（順序付き）とラベルの記述子
type Schema struct {
	Features []Feature
	Label    string
}

// NewSchema builds a Schema from plain feature names, all typed Float.
func NewSchema(label string, features ...string) Schema {
	s := Schema{Label: label}
	for _, f := range features {
		s.Features = append(s.Features, Feature{Name: f, Type: Float})
	}
	return s
}

// FeatureNames は特徴量名を順番通りに返す
func (s Schema) FeatureNames() []string {
	names := make([]string, len(s.Features))
	for i, f := range s.Features {
		names[i] = f.Name
	}
	return names
}

// Check は記述子自体の整合性を確認する
func (s Schema) Check() error {
	if len(s.Features) == 0 {
		return errors.NewValidationError("data.features", "at least one feature is required", s.Features)
	}
	seen := make(map[string]struct{}, len(s.Features))
	for _, f := range s.Features {
		if f.Name == "" {
			return errors.NewValidationError("data.features", "feature name must not be empty", f)
		}
		if _, dup := seen[f.Name]; dup {
			return errors.NewValidationError("data.features", "duplicate feature", f.Name)
		}
		seen[f.Name] = struct{}{}
		switch f.Type {
		case Float, Int, "":
		default:
			return errors.NewValidationError("data.features", fmt.Sprintf("unsupported type for %s", f.Name), f.Type)
		}
		if f.Name == s.Label {
			return errors.NewValidationError("data.features", "label must not be listed as a feature", f.Name)
		}
	}
	return nil
}

// ValidateFeatures は全ての特徴量列がフレームに存在することを確認する
func (s Schema) ValidateFeatures(f *Frame) error {
	for _, feat := range s.Features {
		if _, err := f.ColumnIndex(feat.Name); err != nil {
			return err
		}
	}
	return nil
}

// Validate は特徴量とラベルの列が全て存在することを確認する
func (s Schema) Validate(f *Frame) error {
	if err := s.ValidateFeatures(f); err != nil {
		return err
	}
	_, err := f.ColumnIndex(s.Label)
	return err
}

// FeatureMatrix は特徴量行列を取り出す。Int 型の列に小数が含まれていれば ValueError
func (s Schema) FeatureMatrix(f *Frame) (*mat.Dense, error) {
	if err := s.ValidateFeatures(f); err != nil {
		return nil, err
	}
	X, err := f.Matrix(s.FeatureNames())
	if err != nil {
		return nil, err
	}
	for j, feat := range s.Features {
		if feat.Type != Int {
			continue
		}
		for i := 0; i < f.Len(); i++ {
			if v := X.At(i, j); v != math.Trunc(v) {
				return nil, errors.NewValueError("dataset.Schema",
					fmt.Sprintf("%s: row %d, column %q: %v is not an integer", f.source(), i+1, feat.Name, v))
			}
		}
	}
	return X, nil
}

// XY は特徴量行列とラベルベクトルを取り出す
func (s Schema) XY(f *Frame) (*mat.Dense, *mat.VecDense, error) {
	if err := s.Validate(f); err != nil {
		return nil, nil, err
	}
	X, err := s.FeatureMatrix(f)
	if err != nil {
		return nil, nil, err
	}
	y, err := f.Vector(s.Label)
	if err != nil {
		return nil, nil, err
	}
	return X, y, nil
}
