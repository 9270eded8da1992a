package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"devlaunch/internal/config"
	"devlaunch/internal/toolcheck"
	"devlaunch/internal/tui"
	"devlaunch/internal/tunnel"
)

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "Choose what to launch from an interactive menu",
	Args:  cobra.NoArgs,
	RunE:  runMenu,
}

// GetMenuCommand returns the menu command
func GetMenuCommand() *cobra.Command {
	return menuCmd
}

// menuSelection maps a menu choice onto start options. ok is false for exit.
func menuSelection(choice tui.Choice) (startOptions, bool) {
	o := startOptions{interactive: "auto"}
	switch choice {
	case tui.ChoiceLocalWeb:
		o.profile = "web"
	case tui.ChoiceTunnelWeb:
		o.profile = "web"
		o.tunnel = true
	case tui.ChoiceExpo:
		o.profile = "expo"
	default:
		return o, false
	}
	return o, true
}

// ngrokReady reports whether the tunnel choice can work: ngrok is installed
// and has an authtoken.
func ngrokReady(ctx context.Context, cfg *config.Config, logger *zap.Logger) bool {
	report := toolcheck.New(logger).Check(ctx, "ngrok")
	if len(report.Results) == 0 || report.Results[0].Status != toolcheck.StatusOK {
		return false
	}
	return tunnel.Authenticated(os.Getenv, tunnelConfigPaths(cfg))
}

func runMenu(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, _, err := setupLogger(cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	choice, err := tui.Run("devlaunch", tui.DefaultItems(ngrokReady(ctx, cfg, logger)), os.Stdin, os.Stdout)
	if err != nil {
		return err
	}
	o, ok := menuSelection(choice)
	if !ok {
		return nil
	}

	plan, err := resolvePlan(cfg, o, func(string) bool { return false })
	if err != nil {
		return err
	}
	return executeLaunch(ctx, cfg, plan)
}
