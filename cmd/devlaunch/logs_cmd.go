package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"devlaunch/internal/logs"
)

var (
	logsCmd = &cobra.Command{
		Use:   "logs",
		Short: "Show the recorded output of a profile's dev server",
		Long: `Show the last lines of the dev server output recorded for a profile.

Examples:
  devlaunch logs
  devlaunch logs --profile web -n 100`,
		Args: cobra.NoArgs,
		RunE: runLogs,
	}

	logsProfile string
	logsLines   int
)

// GetLogsCommand returns the logs command
func GetLogsCommand() *cobra.Command {
	return logsCmd
}

func init() {
	logsCmd.Flags().StringVarP(&logsProfile, "profile", "p", "", "Profile (default: the configured profile)")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "Number of lines to show (max 500)")
}

func runLogs(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	profile := logsProfile
	if profile == "" {
		profile = cfg.Profile
	}

	tail, err := logs.ReadServerLogTail(logConfig(cfg).LogDir, profile, logsLines)
	if err != nil {
		return err
	}
	if len(tail) == 0 {
		fmt.Printf("No output recorded for profile %s yet\n", profile)
		return nil
	}
	for _, line := range tail {
		fmt.Println(line)
	}
	return nil
}
