// tabflow runs the tabular regression workflow: preprocess, train and predict,
// with every training run recorded in a local tracking store.
//
// Usage:
//
//	tabflow [--config path] preprocess
//	tabflow [--config path] train
//	tabflow [--config path] predict [--run-id id]
//	tabflow [--config path] runs [--limit n]
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/YuminosukeSato/tabflow/pkg/log"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// reportError logs a failed command. The stack trace is only included at debug level.
func reportError(err error) {
	logger := log.GetLogger()
	if logger.Enabled(context.Background(), log.LevelDebug) {
		logger.Error("Command failed", err)
		return
	}
	logger.Error("Command failed", log.ErrorKey, err.Error())
}
