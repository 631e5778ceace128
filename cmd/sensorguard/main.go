// Command sensorguard trains per-sensor autoencoders on healthy recordings,
// flags anomalies in a test recording and reports sensor malfunctions.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hed1ad/sensorguard/internal/config"
	"github.com/hed1ad/sensorguard/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.FromContext(ctx)

	cfg, err := config.Load()
	if err != nil {
		logger.Errorw("invalid configuration", "error", err)
		os.Exit(2)
	}

	cmd, err := newRootCommand(cfg).ExecuteContextC(ctx)
	if err != nil {
		if cmd != nil && cmd.Context() != nil {
			logger = logging.FromContext(cmd.Context())
		}
		logger.Errorw("sensorguard failed", "error", err)
		_ = logger.Sync()
		stop()
		os.Exit(1)
	}
}
