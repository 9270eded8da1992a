package logs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	appName = "devlaunch"

	osWindows = "windows"
	osDarwin  = "darwin"
	osLinux   = "linux"
)

// dirEnv is the part of the environment that decides where logs go.
type dirEnv struct {
	goos   string
	uid    int
	home   string
	getenv func(string) string
}

func currentDirEnv() dirEnv {
	home, _ := os.UserHomeDir()
	return dirEnv{goos: runtime.GOOS, uid: os.Getuid(), home: home, getenv: os.Getenv}
}

// GetLogDir returns the standard log directory for the current OS
func GetLogDir() (string, error) {
	return currentDirEnv().logDir(), nil
}

func (e dirEnv) logDir() string {
	switch e.goos {
	case osWindows:
		// %LOCALAPPDATA%\devlaunch\logs
		base := e.getenv("LOCALAPPDATA")
		if base == "" {
			profile := e.getenv("USERPROFILE")
			if profile == "" {
				return e.fallback()
			}
			base = filepath.Join(profile, "AppData", "Local")
		}
		return filepath.Join(base, appName, "logs")
	case osDarwin:
		if e.home == "" {
			return e.fallback()
		}
		return filepath.Join(e.home, "Library", "Logs", appName)
	case osLinux:
		if e.uid == 0 {
			return filepath.Join("/var/log", appName)
		}
		state := e.getenv("XDG_STATE_HOME")
		if state == "" {
			if e.home == "" {
				return e.fallback()
			}
			state = filepath.Join(e.home, ".local", "state")
		}
		return filepath.Join(state, appName, "logs")
	default:
		return e.fallback()
	}
}

func (e dirEnv) fallback() string {
	if e.home == "" {
		return filepath.Join(os.TempDir(), appName, "logs")
	}
	return filepath.Join(e.home, "."+appName, "logs")
}

// EnsureLogDir creates the log directory if it doesn't exist
func EnsureLogDir(logDir string) error {
	return os.MkdirAll(logDir, 0755)
}

// GetLogFilePath returns the full path for a log file in the standard log directory
func GetLogFilePath(filename string) (string, error) {
	return GetLogFilePathWithDir("", filename)
}

// GetLogFilePathWithDir returns the full path for a log file in logDir, or in
// the standard directory when logDir is empty. A leading "~/" is expanded.
func GetLogFilePathWithDir(logDir, filename string) (string, error) {
	if logDir == "" {
		logDir = currentDirEnv().logDir()
	} else if strings.HasPrefix(logDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		logDir = filepath.Join(homeDir, logDir[2:])
	}

	if err := EnsureLogDir(logDir); err != nil {
		return "", err
	}
	return filepath.Join(logDir, filename), nil
}
