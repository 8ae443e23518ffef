package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/tabflow/pkg/config"
	"github.com/YuminosukeSato/tabflow/pkg/log"
)

// app holds what every subcommand needs once the configuration is loaded.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger log.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "tabflow",
		Short: "Preprocess, train and predict tabular regression models",
		Long: "tabflow cleans a raw CSV, trains a regressor in a tracked run and\n" +
			"predicts new data with the latest finished run of the experiment.",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		Version: version,
	}
	f := cmd.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "config file (default $"+config.EnvVar+" or "+config.DefaultPath+")")
	f.StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	cmd.AddCommand(
		newPreprocessCmd(a),
		newTrainCmd(a),
		newPredictCmd(a),
		newRunsCmd(a),
	)
	return cmd
}

// run wraps a subcommand body: it loads the configuration and installs the
// logger before fn is called.
func (a *app) run(fn func(ctx context.Context, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if err := a.setup(cmd); err != nil {
			return err
		}
		return fn(cmd.Context(), cmd)
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Resolve(a.configPath))
	if err != nil {
		return err
	}
	opts := log.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cfg.Log.Console,
		Writer:  cmd.ErrOrStderr(),
	}
	if a.logLevel != "" {
		opts.Level = a.logLevel
	}
	logger, err := log.SetupLogger(opts)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger.With(log.ComponentKey, "tabflow."+cmd.Name())
	a.logger.Debug("Configuration loaded", log.PathKey, cfg.Path)
	return nil
}
