package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"devlaunch/internal/updatecheck"
)

var (
	versionCheck   bool
	updateCheckURL = updatecheck.DefaultAPIURL
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "Check GitHub for a newer release")
}

// GetVersionCommand returns the version command
func GetVersionCommand() *cobra.Command {
	return versionCmd
}

type versionInfo struct {
	Version string                   `json:"version" yaml:"version"`
	Go      string                   `json:"go" yaml:"go"`
	OS      string                   `json:"os" yaml:"os"`
	Arch    string                   `json:"arch" yaml:"arch"`
	Update  *updatecheck.VersionInfo `json:"update,omitempty" yaml:"update,omitempty"`
	Note    string                   `json:"note,omitempty" yaml:"note,omitempty"`
}

func (v versionInfo) String() string {
	s := fmt.Sprintf("devlaunch %s (%s %s/%s)", v.Version, v.Go, v.OS, v.Arch)
	switch {
	case v.Update != nil && v.Update.UpdateAvailable:
		s += fmt.Sprintf("\nUpdate available: %s\n%s", v.Update.LatestVersion, v.Update.ReleaseURL)
	case v.Update != nil:
		s += "\nUp to date"
	case v.Note != "":
		s += "\n" + v.Note
	}
	return s
}

func runVersion(cmd *cobra.Command, _ []string) error {
	info := versionInfo{
		Version: version,
		Go:      runtime.Version(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
	}
	if versionCheck {
		info.Update, info.Note = checkForUpdate(cmd.Context())
	}
	return printResult(info)
}

// checkForUpdate never fails the command; problems become a note.
func checkForUpdate(ctx context.Context) (*updatecheck.VersionInfo, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	logger := zap.NewNop()
	client := updatecheck.NewGitHubClient(logger, updateCheckURL, updatecheck.DefaultRepo)
	update, err := updatecheck.New(logger, version, client).Check(ctx)
	switch {
	case err == nil:
		return update, ""
	case errors.Is(err, updatecheck.ErrDisabled), errors.Is(err, updatecheck.ErrDevelopmentBuild):
		return nil, err.Error()
	default:
		return nil, fmt.Sprintf("update check failed: %v", err)
	}
}
