package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/thesisgrey/config"
	"github.com/mohammad-safakhou/thesisgrey/internal/runtime"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:          "thesisgrey",
		Short:        "Grey literature search and review service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	root.AddCommand(
		serveCMD(&cfgPath),
		migrateCMD(&cfgPath),
		executeCMD(&cfgPath),
		exportCMD(&cfgPath),
		adminCMD(&cfgPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setup loads the config file and builds the process logger.
func setup(cfgPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := runtime.NewLogger(cfg.General.LogLevel, !cfg.General.IsProduction())
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}
