package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"claude-relay/internal/process"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the relay service",
	Long:  `Stop the running protocol translation service.`,
	RunE:  runStop,
}

func runStop(_ *cobra.Command, _ []string) error {
	color.Yellow("Stopping %s...", AppName)

	procMgr := process.NewManager(baseDir)

	if !procMgr.IsRunning() {
		color.Yellow("Service is not running")
		return nil
	}

	if err := procMgr.Stop(); err != nil {
		return err
	}

	procMgr.CleanupRef()

	color.Green("Service stopped successfully")

	return nil
}
