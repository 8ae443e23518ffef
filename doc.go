// Package tabflow trains and serves regression models on tabular CSV data,
// recording every training run with its parameters, metrics and artifacts.
//
// The workflow has three stages, each a subcommand of cmd/tabflow:
//
//	tabflow preprocess   # data.raw_path -> data.processed_path, incomplete rows dropped
//	tabflow train        # fit train.model_type in a new tracked run
//	tabflow predict      # apply the latest FINISHED run to data.predict_path
//
// All behavior comes from one YAML file (configs/default_config.yaml by
// default, or --config / $TABFLOW_CONFIG).
//
// # Library use
//
// The stages are plain functions and types in package pipeline:
//
//	cfg, err := config.Load("configs/default_config.yaml")
//	if err != nil {
//	    return err
//	}
//	client, err := pipeline.OpenTracking(ctx, cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	res, err := pipeline.NewTrainer(cfg, client, nil).Train(ctx)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.RunID, res.Metrics)
//
// # Packages
//
//   - pipeline: Preprocess, Trainer and Predictor
//   - tracking: experiments, runs and artifacts (SQLite or in-memory store)
//   - ensemble: RandomForestRegressor
//   - tree: DecisionTreeRegressor
//   - linear: LinearRegression
//   - preprocessing: StandardScaler
//   - modelselection: seeded train/test split
//   - metrics: MSE, RMSE, MAE, R² and the prediction plot
//   - core/dataset: CSV frames and the feature schema
//   - core/model: estimator interfaces, metadata, model registry and persistence
//   - core/parallel: bounded parallel loops
//   - pkg/config, pkg/log, pkg/errors: configuration, logging and error types
//
// # Models
//
// train.model_type selects one of the registered regressors:
//
//   - random_forest (default): bootstrap-sampled trees fitted in parallel.
//     Tree i is seeded with random_state+i, so n_jobs never changes the result.
//   - decision_tree: a single CART regression tree.
//   - linear_regression: ordinary least squares via the normal equations.
//
// A run's model is stored as model/model.gob plus model/meta.json, which
// names the model type and the feature columns the model expects.
package tabflow
