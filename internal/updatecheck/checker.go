// Package updatecheck compares the running version with the newest GitHub
// release.
package updatecheck

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"
)

const (
	// DefaultRepo is the repository releases are published to
	DefaultRepo = "devlaunch/devlaunch"

	// EnvDisable disables update checks when set to "true".
	EnvDisable = "DEVLAUNCH_DISABLE_UPDATE_CHECK"

	// EnvAllowPrerelease includes prereleases when set to "true".
	EnvAllowPrerelease = "DEVLAUNCH_ALLOW_PRERELEASE_UPDATES"
)

var (
	// ErrDisabled is returned when EnvDisable is set
	ErrDisabled = errors.New("update check disabled")
	// ErrDevelopmentBuild is returned for versions that are not semver
	ErrDevelopmentBuild = errors.New("update check skipped for development build")
)

// VersionInfo is the result of a check.
type VersionInfo struct {
	CurrentVersion  string    `json:"current_version" yaml:"current_version"`
	LatestVersion   string    `json:"latest_version,omitempty" yaml:"latest_version,omitempty"`
	UpdateAvailable bool      `json:"update_available" yaml:"update_available"`
	ReleaseURL      string    `json:"release_url,omitempty" yaml:"release_url,omitempty"`
	IsPrerelease    bool      `json:"is_prerelease,omitempty" yaml:"is_prerelease,omitempty"`
	CheckedAt       time.Time `json:"checked_at" yaml:"checked_at"`
}

// Checker performs version checks against GitHub releases.
type Checker struct {
	logger  *zap.Logger
	version string
	getenv  func(string) string

	checkFunc func(ctx context.Context, includePrereleases bool) (*GitHubRelease, error)
}

// New creates a checker for version using client.
func New(logger *zap.Logger, version string, client *GitHubClient) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		logger:    logger,
		version:   version,
		getenv:    os.Getenv,
		checkFunc: client.GetRelease,
	}
}

// Check fetches the newest release and compares it with the running version.
func (c *Checker) Check(ctx context.Context) (*VersionInfo, error) {
	if c.getenv(EnvDisable) == "true" {
		return nil, ErrDisabled
	}
	if !semver.IsValid(ensureVPrefix(c.version)) {
		return nil, ErrDevelopmentBuild
	}

	release, err := c.checkFunc(ctx, c.getenv(EnvAllowPrerelease) == "true")
	if err != nil {
		c.logger.Debug("Update check failed", zap.Error(err))
		return nil, err
	}

	info := &VersionInfo{
		CurrentVersion:  c.version,
		LatestVersion:   release.TagName,
		UpdateAvailable: compareVersions(c.version, release.TagName),
		ReleaseURL:      release.HTMLURL,
		IsPrerelease:    release.Prerelease,
		CheckedAt:       time.Now().UTC(),
	}
	if info.UpdateAvailable {
		c.logger.Info("Update available",
			zap.String("current", c.version),
			zap.String("latest", release.TagName),
			zap.String("url", release.HTMLURL))
	}
	return info, nil
}

// compareVersions reports whether latest is newer than current.
func compareVersions(current, latest string) bool {
	return semver.Compare(ensureVPrefix(current), ensureVPrefix(latest)) < 0
}

// ensureVPrefix ensures the version string has a "v" prefix for semver comparison.
func ensureVPrefix(version string) string {
	if len(version) > 0 && version[0] != 'v' {
		return "v" + version
	}
	return version
}
