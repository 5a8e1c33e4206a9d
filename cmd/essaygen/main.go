package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/essaygen/config"
	"github.com/mohammad-safakhou/essaygen/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCMD().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCMD() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "essaygen",
		Short:        "Scholarship essay generation service",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config or .)")

	load := func() (*config.Config, *zap.Logger, func(), error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, nil, nil, err
		}
		logger, err := logging.New(cfg.General)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("logger: %w", err)
		}
		restore, err := logging.RedirectStdLog(logger)
		if err != nil {
			return nil, nil, nil, err
		}
		cleanup := func() {
			restore()
			_ = logger.Sync()
		}
		return cfg, logger, cleanup, nil
	}

	root.AddCommand(serveCMD(load), migrateCMD(load), seedCMD(load))
	return root
}

type loader func() (*config.Config, *zap.Logger, func(), error)
