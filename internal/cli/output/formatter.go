// Package output renders command results as a table, JSON or YAML, and
// renders structured errors the same way.
package output

import (
	"fmt"
	"os"
	"strings"
)

// OutputFormatter formats structured data for CLI output.
type OutputFormatter interface {
	// Format converts data to formatted string output.
	Format(data any) (string, error)

	// FormatError converts a structured error to formatted output.
	FormatError(err StructuredError) (string, error)

	// FormatTable formats tabular data with headers.
	FormatTable(headers []string, rows [][]string) (string, error)
}

// Tabular is implemented by results that have a natural table layout. The
// table formatter uses it; the JSON and YAML formatters marshal the value.
type Tabular interface {
	Headers() []string
	Rows() [][]string
}

// EnvOutputFormat selects the output format when --output is not given.
const EnvOutputFormat = "DEVLAUNCH_OUTPUT"

// NewFormatter creates a formatter for the specified format.
// Supported formats: table, json, yaml (case-insensitive).
func NewFormatter(format string) (OutputFormatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{Indent: true}, nil
	case "yaml", "yml":
		return &YAMLFormatter{}, nil
	case "table", "":
		return &TableFormatter{
			NoColor: os.Getenv("NO_COLOR") != "",
			Styled:  true,
		}, nil
	default:
		return nil, NewStructuredError(ErrCodeInvalidOutputFormat,
			fmt.Sprintf("unknown output format: %s (valid: table, json, yaml)", format))
	}
}

// ResolveFormat picks the output format: explicit flag, then
// DEVLAUNCH_OUTPUT, then table.
func ResolveFormat(outputFlag string) string {
	if outputFlag != "" {
		return outputFlag
	}
	if envFormat := os.Getenv(EnvOutputFormat); envFormat != "" {
		return envFormat
	}
	return "table"
}

// tableRecords turns rows into one map per row keyed by header.
func tableRecords(headers []string, rows [][]string) []map[string]string {
	result := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				obj[header] = row[i]
			} else {
				obj[header] = ""
			}
		}
		result = append(result, obj)
	}
	return result
}
