package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"devlaunch/internal/deps"
	"devlaunch/internal/lines"
	"devlaunch/internal/secureenv"
)

var (
	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Install the project's JavaScript dependencies",
		Long: `Install dependencies with the package manager matching the lockfile:
npm ci, pnpm install --frozen-lockfile or yarn install --frozen-lockfile,
falling back to npm install.

Examples:
  devlaunch install
  devlaunch install --dir ./app`,
		Args: cobra.NoArgs,
		RunE: runInstall,
	}

	installProfile string
	installDir     string
)

// GetInstallCommand returns the install command
func GetInstallCommand() *cobra.Command {
	return installCmd
}

func init() {
	installCmd.Flags().StringVarP(&installProfile, "profile", "p", "", "Install in this profile's directory")
	installCmd.Flags().StringVar(&installDir, "dir", "", "Project directory (overrides --profile)")
}

func runInstall(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, sanitizer, err := setupLogger(cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	dir := installDir
	var profileEnv map[string]string
	if dir == "" && installProfile != "" {
		profile, perr := cfg.GetProfile(installProfile)
		if perr != nil {
			return perr
		}
		dir = profile.Dir
		profileEnv = profile.Env
	}

	installer := deps.Installer{
		Dir:    dir,
		Env:    secureenv.NewManager(secureenv.DefaultEnvConfig(), secureenv.WithSecretRegistrar(sanitizer)).Build(profileEnv),
		Logger: logger,
		Sink: func(l lines.Line) {
			if l.Err == nil {
				fmt.Fprintln(os.Stdout, l.Text)
			}
		},
	}
	return installer.Run(cmd.Context())
}
