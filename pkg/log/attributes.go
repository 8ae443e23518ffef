// Package log defines standard attribute keys for tabflow log lines.
//
// The keys follow a hierarchical naming convention (e.g. "run.id", "data.samples")
// so that output from every pipeline stage can be filtered the same way.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of regression model.
	// Examples: "RandomForestRegressor", "LinearRegression"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "preprocess", "evaluate"
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is performing the operation.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the pipeline.
	PhaseKey = "ml.phase"
)

// Tracking Context
const (
	// ExperimentKey is the experiment name a run belongs to.
	ExperimentKey = "run.experiment"

	// RunIDKey is the tracked run identifier.
	RunIDKey = "run.id"

	// RunStatusKey is the status a run was finalized with.
	RunStatusKey = "run.status"

	// StageKey is the training stage reached by a run.
	StageKey = "run.stage"

	// ArtifactKey is an artifact path relative to the run's artifact root.
	ArtifactKey = "run.artifact"
)

// Data Shape and Location
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// RowsInKey and RowsOutKey describe a filtering step.
	RowsInKey  = "data.rows_in"
	RowsOutKey = "data.rows_out"

	// PathKey is a file path read or written by a stage.
	PathKey = "data.path"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// MSEKey, RMSEKey and R2ScoreKey record regression metrics.
	MSEKey     = "metrics.mse"
	RMSEKey    = "metrics.rmse"
	R2ScoreKey = "metrics.r2_score"
)

// Prediction Context
const (
	// PredsKey indicates the number of predictions made.
	PredsKey = "preds.count"
)

// Error Context
const (
	// ErrorKey holds the error message.
	ErrorKey = "error"

	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// StacktraceKey contains stack trace information for debugging.
	// Automatically populated by Logger.Error when the first field is an error.
	StacktraceKey = "error.stacktrace"
)

// Hyperparameters
const (
	// HyperParamsKey contains model hyperparameters as a structured object.
	HyperParamsKey = "model.hyperparams"
)

// Common values for the keys above.
const (
	OperationFit        = "fit"
	OperationPredict    = "predict"
	OperationPreprocess = "preprocess"
	OperationEvaluate   = "evaluate"

	PhaseTraining      = "training"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"
)
