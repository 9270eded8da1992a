package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"devlaunch/internal/cli/output"
	"devlaunch/internal/config"
)

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration",
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file and DEVLAUNCH_*
environment overrides have been applied.

Examples:
  devlaunch config show
  devlaunch config show --output=yaml`,
		Args: cobra.NoArgs,
		RunE: runConfigShow,
	}

	configInitCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration to a file",
		Long: `Write the default configuration, including the built-in profiles, to path
(default: ~/.devlaunch/config.json). The extension selects JSON, YAML or TOML.

Examples:
  devlaunch config init
  devlaunch config init devlaunch.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: runConfigInit,
	}

	configInitForce bool
)

// GetConfigCommand returns the config command
func GetConfigCommand() *cobra.Command {
	return configCmd
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

// configView is the effective configuration and where it came from.
type configView struct {
	Source string         `json:"source" yaml:"source"`
	Config *config.Config `json:"config" yaml:"config"`
}

func (v configView) Headers() []string {
	return []string{"PROFILE", "COMMAND", "PORT", "DIR", "LOCAL URL"}
}

func (v configView) Rows() [][]string {
	rows := make([][]string, 0, len(v.Config.Profiles))
	for _, name := range v.Config.ProfileNames() {
		p := v.Config.Profiles[name]
		label := name
		if name == v.Config.Profile {
			label += " *"
		}
		rows = append(rows, []string{
			label,
			fmt.Sprint(p.Command),
			fmt.Sprint(p.DefaultPort),
			dash(p.Dir),
			dash(p.LocalURL),
		})
	}
	return rows
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, source, err := config.LoadWithSource(configFile)
	if err != nil {
		return output.NewStructuredError(output.ErrCodeConfigInvalid, err.Error())
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if source == "" {
		source = "built-in defaults"
	}
	return printResult(configView{Source: source, Config: cfg})
}

func runConfigInit(_ *cobra.Command, args []string) error {
	path := configFile
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		dir := dataDir
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to get user home directory: %w", err)
			}
			dir = filepath.Join(home, config.DefaultDataDir)
		}
		path = config.GetConfigPath(dir)
	}

	if _, err := os.Stat(path); err == nil && !configInitForce {
		return output.NewStructuredError(output.ErrCodeInvalidInput,
			fmt.Sprintf("%s already exists", path)).
			WithRecoveryCommand("devlaunch config init --force")
	}
	if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
