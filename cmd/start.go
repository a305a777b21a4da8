package cmd

import (
	"path/filepath"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"claude-relay/internal/process"
	"claude-relay/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relay service",
	Long:  `Start the protocol translation service in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(verbose)

	// Provider API keys may live in a .env next to the config
	if err := godotenv.Load(filepath.Join(baseDir, ".env")); err == nil {
		logger.Debug("Loaded environment file", "path", filepath.Join(baseDir, ".env"))
	}

	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"providers", len(cfg.Providers),
	)

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv := server.New(cfgMgr, logger)

	return srv.Start()
}
