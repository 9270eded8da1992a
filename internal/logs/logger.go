package logs

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"devlaunch/internal/config"
	"devlaunch/internal/lines"
)

// Log level constants
const (
	LogLevelTrace = "trace"
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// consoleOutput is where console cores write; tests replace it.
var consoleOutput io.Writer = os.Stderr

// ParseLevel maps a configured level name to a zap level. Unknown names
// fall back to info; trace is debug with nothing further.
func ParseLevel(name string) zapcore.Level {
	switch name {
	case LogLevelTrace, LogLevelDebug:
		return zap.DebugLevel
	case LogLevelWarn:
		return zap.WarnLevel
	case LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// SetupLogger creates a logger with file and console outputs based on configuration
func SetupLogger(cfg *config.LogConfig) (*zap.Logger, error) {
	logger, _, err := SetupSanitizedLogger(cfg)
	return logger, err
}

// SetupSanitizedLogger is SetupLogger that also returns the sanitizer so
// callers can register secret values discovered at runtime.
func SetupSanitizedLogger(cfg *config.LogConfig) (*zap.Logger, *SecretSanitizer, error) {
	if cfg == nil {
		cfg = config.DefaultLogConfig()
	}
	level := ParseLevel(cfg.Level)

	var cores []zapcore.Core
	if cfg.EnableConsole {
		cores = append(cores, zapcore.NewCore(getConsoleEncoder(), zapcore.AddSync(consoleOutput), level))
	}
	if cfg.EnableFile {
		fileCore, err := createFileCore(cfg, level)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create file core: %w", err)
		}
		cores = append(cores, fileCore)
	}
	if len(cores) == 0 {
		return nil, nil, fmt.Errorf("no log outputs configured")
	}

	sanitizer := NewSecretSanitizer(zapcore.NewTee(cores...))
	logger := zap.New(sanitizer, zap.AddCaller(), zap.AddCallerSkip(1))
	return logger, sanitizer, nil
}

// SetupCommandLogger creates a logger for console commands.
// Launching commands default to INFO so negotiation progress is visible;
// everything else defaults to WARN.
func SetupCommandLogger(launchCommand bool, logLevel string, logToFile bool, logDir string) (*zap.Logger, *SecretSanitizer, error) {
	level := LogLevelWarn
	if launchCommand {
		level = LogLevelInfo
	}
	if logLevel != "" {
		level = logLevel
	}

	cfg := config.DefaultLogConfig()
	cfg.Level = level
	cfg.EnableFile = logToFile
	cfg.EnableConsole = true
	cfg.LogDir = logDir
	return SetupSanitizedLogger(cfg)
}

// createFileCore creates a rotating file core
func createFileCore(cfg *config.LogConfig, level zapcore.Level) (zapcore.Core, error) {
	logFilePath, err := GetLogFilePathWithDir(cfg.LogDir, cfg.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to get log file path: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	encoder := getFileEncoder()
	if cfg.JSONFormat {
		encoder = getJSONEncoder()
	}
	return zapcore.NewCore(encoder, zapcore.AddSync(writer), level), nil
}

func getConsoleEncoder() zapcore.Encoder {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// getFileEncoder returns a file-friendly encoder (structured but readable)
func getFileEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	encoderConfig.ConsoleSeparator = " | "
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func getJSONEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

// ServerLogName is the file that captures a profile's dev server output.
func ServerLogName(profile string) string {
	return fmt.Sprintf("server-%s.log", profile)
}

// CreateServerOutputLogger returns a file-only logger that records the
// child's output lines for profile. Output is kept verbatim apart from
// secret masking, one entry per line.
func CreateServerOutputLogger(cfg *config.LogConfig, profile string) (*zap.Logger, error) {
	if cfg == nil {
		cfg = config.DefaultLogConfig()
	}
	serverCfg := *cfg
	serverCfg.Filename = ServerLogName(profile)

	// Dev server output is recorded regardless of the operator's log level
	fileCore, err := createFileCore(&serverCfg, zap.DebugLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create output log for profile %s: %w", profile, err)
	}
	return zap.New(NewSecretSanitizer(fileCore)).With(zap.String("profile", profile)), nil
}

// ReadServerLogTail returns the last n lines of a profile's output log.
// A missing file yields an empty slice.
func ReadServerLogTail(logDir, profile string, n int) ([]string, error) {
	if n <= 0 {
		n = 50
	}
	if n > 500 {
		n = 500
	}

	path, err := GetLogFilePathWithDir(logDir, ServerLogName(profile))
	if err != nil {
		return nil, fmt.Errorf("failed to get log file path for profile %s: %w", profile, err)
	}
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open log file for profile %s: %w", profile, err)
	}
	defer file.Close()

	// keep only the last n lines
	tail := make([]string, 0, n)
	for line, err := range lines.Lines(file) {
		if err != nil {
			return nil, fmt.Errorf("failed to read log file for profile %s: %w", profile, err)
		}
		if len(tail) == n {
			tail = append(tail[:0], tail[1:]...)
		}
		tail = append(tail, line)
	}
	return tail, nil
}
