package main

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"devlaunch/internal/cli/output"
	"devlaunch/internal/config"
	"devlaunch/internal/secureenv"
	"devlaunch/internal/toolcheck"
	"devlaunch/internal/tunnel"
)

var (
	doctorCmd = &cobra.Command{
		Use:   "doctor",
		Short: "Check the tools the profiles need",
		Long: `Check that the tools used by the configured profiles are installed and
recent enough, and whether ngrok has an authtoken.

Examples:
  devlaunch doctor
  devlaunch doctor --profile expo
  devlaunch doctor --output=json`,
		Args: cobra.NoArgs,
		RunE: runDoctor,
	}

	doctorProfile string
	doctorTimeout time.Duration
)

// GetDoctorCommand returns the doctor command
func GetDoctorCommand() *cobra.Command {
	return doctorCmd
}

func init() {
	doctorCmd.Flags().StringVarP(&doctorProfile, "profile", "p", "", "Only check the tools of this profile")
	doctorCmd.Flags().DurationVar(&doctorTimeout, "timeout", 20*time.Second, "Overall time limit for the checks")
}

// doctorReport is the doctor result in every output format.
type doctorReport struct {
	Tools              []toolcheck.Result `json:"tools" yaml:"tools"`
	NgrokAuthenticated bool               `json:"ngrok_authenticated" yaml:"ngrok_authenticated"`
	DataDir            string             `json:"data_dir" yaml:"data_dir"`
	OK                 bool               `json:"ok" yaml:"ok"`
}

func (r doctorReport) Headers() []string {
	return []string{"TOOL", "STATUS", "VERSION", "MINIMUM", "PATH", "HINT"}
}

func (r doctorReport) Rows() [][]string {
	rows := make([][]string, 0, len(r.Tools)+1)
	for _, t := range r.Tools {
		status := string(t.Status)
		if t.Optional && !t.OK() {
			status += " (optional)"
		}
		hint := ""
		if t.Status != toolcheck.StatusOK {
			hint = t.Hint
		}
		rows = append(rows, []string{t.Name, status, dash(t.Version), dash(t.MinVersion), dash(t.Path), hint})
	}
	auth := "missing"
	if r.NgrokAuthenticated {
		auth = "configured"
	}
	rows = append(rows, []string{"ngrok authtoken", auth, "-", "-", "-", ""})
	return rows
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// doctorTools lists the tools to check for profile, or for every profile
// when profile is empty. ngrok is always included.
func doctorTools(cfg *config.Config, profile string) ([]string, error) {
	names := cfg.ProfileNames()
	if profile != "" {
		if _, err := cfg.GetProfile(profile); err != nil {
			return nil, output.NewStructuredError(output.ErrCodeProfileNotFound, err.Error())
		}
		names = []string{profile}
	}

	seen := map[string]bool{}
	var tools []string
	for _, name := range names {
		for _, tool := range cfg.Profiles[name].Tools {
			if !seen[tool] {
				seen[tool] = true
				tools = append(tools, tool)
			}
		}
	}
	sort.Strings(tools)
	if !seen["ngrok"] {
		tools = append(tools, "ngrok")
	}
	return tools, nil
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, _, err := setupLogger(cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tools, err := doctorTools(cfg, doctorProfile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
	defer cancel()

	env := secureenv.NewManager(secureenv.DefaultEnvConfig()).Build(nil)
	report := toolcheck.New(logger, toolcheck.WithEnv(env)).Check(ctx, tools...)

	result := doctorReport{
		Tools:              report.Results,
		NgrokAuthenticated: tunnel.Authenticated(os.Getenv, tunnelConfigPaths(cfg)),
		DataDir:            cfg.DataDir,
		OK:                 report.OK(),
	}
	if err := printResult(result); err != nil {
		return err
	}
	if !result.OK {
		return toolMissingError(report.Failed())
	}
	return nil
}
