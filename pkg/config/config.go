// Package config loads the YAML run configuration shared by every tabflow stage.
//
// The file is read once per process into typed structs. Optional keys get
// defaults, and Validate rejects a configuration missing any required key, so
// downstream code never performs key lookups of its own.
package config

import (
	"bytes"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/tabflow/core/dataset"
	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

const (
	// DefaultPath is used when neither --config nor TABFLOW_CONFIG is set.
	DefaultPath = "configs/default_config.yaml"
	// EnvVar names the environment variable that overrides DefaultPath.
	EnvVar = "TABFLOW_CONFIG"
)

// Config is the parsed configuration file.
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Train    TrainConfig    `yaml:"train"`
	Tracking TrackingConfig `yaml:"tracking"`
	Log      LogConfig      `yaml:"log"`

	// Path is the file the configuration was loaded from.
	Path string `yaml:"-"`
}

// DataConfig locates the data files and describes their columns.
type DataConfig struct {
	RawPath         string            `yaml:"raw_path"`
	ProcessedPath   string            `yaml:"processed_path"`
	TestSize        float64           `yaml:"test_size"`
	RandomState     int64             `yaml:"random_state"`
	Features        []dataset.Feature `yaml:"features"`
	Label           string            `yaml:"label"`
	PositiveColumns []string          `yaml:"positive_columns"`

	PredictPath      string `yaml:"predict_path"`
	PredictionsPath  string `yaml:"predictions_path"`
	PredictionColumn string `yaml:"prediction_column"`
	MetricsPath      string `yaml:"metrics_path"`
}

// TrainConfig holds the experiment name and model hyperparameters.
type TrainConfig struct {
	ExperimentName  string `yaml:"experiment_name"`
	ModelType       string `yaml:"model_type"`
	NEstimators     int    `yaml:"n_estimators"`
	MaxDepth        int    `yaml:"max_depth"` // 0 or null means unlimited
	MinSamplesSplit int    `yaml:"min_samples_split"`
	MinSamplesLeaf  int    `yaml:"min_samples_leaf"`
	MaxFeatures     int    `yaml:"max_features"`
	NJobs           int    `yaml:"n_jobs"`
	Standardize     bool   `yaml:"standardize"` // linear_regression only
	Plot            bool   `yaml:"plot"`
}

// TrackingConfig locates the run store and artifact root.
type TrackingConfig struct {
	DBPath       string `yaml:"db_path"`
	ArtifactRoot string `yaml:"artifact_root"`
}

// LogConfig configures pkg/log.
type LogConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// Default returns a Config with every optional key at its default value.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			TestSize:        0.2,
			RandomState:     42,
			PredictPath:     "data/raw/salary_test.csv",
			PredictionsPath: "predictions.csv",
		},
		Train: TrainConfig{
			ModelType:       "random_forest",
			NEstimators:     100,
			MinSamplesSplit: 2,
			MinSamplesLeaf:  1,
		},
		Tracking: TrackingConfig{
			DBPath:       "mlruns/tracking.db",
			ArtifactRoot: "mlruns/artifacts",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Resolve picks the configuration path: flagValue if set, then TABFLOW_CONFIG,
// then DefaultPath. A .env file in the working directory is loaded first and
// never overrides variables that are already set.
func Resolve(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	// .env が無いのは通常の状態
	_ = godotenv.Load()
	if p := os.Getenv(EnvVar); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads, defaults and validates the configuration at path. An empty path
// means DefaultPath. A missing file yields ConfigNotFoundError and a nil config.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.NewConfigNotFoundError(path)
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	cfg.Path = path
	return cfg, nil
}

// Parse decodes YAML on top of Default and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "parse yaml")
	}
	if cfg.Data.PredictionColumn == "" && cfg.Data.Label != "" {
		cfg.Data.PredictionColumn = "Predicted_" + cfg.Data.Label
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Schema returns the feature/label descriptor declared under data.
func (c *Config) Schema() dataset.Schema {
	features := make([]dataset.Feature, len(c.Data.Features))
	copy(features, c.Data.Features)
	return dataset.Schema{Features: features, Label: c.Data.Label}
}

// Validate reports the first missing or out-of-range key as a ValidationError.
func (c *Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"data.raw_path", c.Data.RawPath},
		{"data.processed_path", c.Data.ProcessedPath},
		{"data.label", c.Data.Label},
		{"train.experiment_name", c.Train.ExperimentName},
		{"train.model_type", c.Train.ModelType},
		{"tracking.db_path", c.Tracking.DBPath},
		{"tracking.artifact_root", c.Tracking.ArtifactRoot},
	}
	for _, r := range required {
		if r.value == "" {
			return errors.NewValidationError(r.key, "is required", r.value)
		}
	}
	if err := c.Schema().Check(); err != nil {
		return err
	}

	d, t := c.Data, c.Train
	switch {
	case d.TestSize <= 0 || d.TestSize >= 1:
		return errors.NewValidationError("data.test_size", "must be in (0, 1)", d.TestSize)
	case t.NEstimators < 1:
		return errors.NewValidationError("train.n_estimators", "must be >= 1", t.NEstimators)
	case t.MaxDepth < 0:
		return errors.NewValidationError("train.max_depth", "must be >= 0 (0 or null means unlimited)", t.MaxDepth)
	case t.MinSamplesSplit < 2:
		return errors.NewValidationError("train.min_samples_split", "must be >= 2", t.MinSamplesSplit)
	case t.MinSamplesLeaf < 1:
		return errors.NewValidationError("train.min_samples_leaf", "must be >= 1", t.MinSamplesLeaf)
	case t.MaxFeatures < 0:
		return errors.NewValidationError("train.max_features", "must be >= 0 (0 means all)", t.MaxFeatures)
	case t.NJobs < 0:
		return errors.NewValidationError("train.n_jobs", "must be >= 0 (0 means one per CPU)", t.NJobs)
	}

	for _, col := range d.PositiveColumns {
		if col == "" {
			return errors.NewValidationError("data.positive_columns", "column name must not be empty", d.PositiveColumns)
		}
	}
	if d.PredictionColumn == d.Label {
		return errors.NewValidationError("data.prediction_column", "must differ from data.label", d.PredictionColumn)
	}
	return nil
}
