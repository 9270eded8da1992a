package output

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type runTable struct{}

func (runTable) Headers() []string { return []string{"PROFILE", "RESULT", "PORT"} }
func (runTable) Rows() [][]string {
	return [][]string{{"expo", "ready", "8082"}, {"web", "exhausted", "8002"}}
}

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"flag wins", "yaml", "json", "yaml"},
		{"env used", "", "json", "json"},
		{"default", "", "", "table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvOutputFormat, tt.env)
			if got := ResolveFormat(tt.flag); got != tt.want {
				t.Errorf("ResolveFormat(%q) = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}
}

func TestNewFormatter(t *testing.T) {
	for _, format := range []string{"table", "", "JSON", "yaml", "yml"} {
		if _, err := NewFormatter(format); err != nil {
			t.Errorf("NewFormatter(%q) error = %v", format, err)
		}
	}

	_, err := NewFormatter("xml")
	var se StructuredError
	if !errors.As(err, &se) || se.Code != ErrCodeInvalidOutputFormat {
		t.Errorf("NewFormatter(xml) error = %v, want %s", err, ErrCodeInvalidOutputFormat)
	}
}

func TestTableFormatter_FormatTable(t *testing.T) {
	f := &TableFormatter{}
	out, err := f.Format(runTable{})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out)
	}
	// columns are aligned: RESULT starts at the same offset on every line
	col := strings.Index(lines[0], "RESULT")
	if strings.Index(lines[1], "ready") != col || strings.Index(lines[2], "exhausted") != col {
		t.Errorf("columns not aligned:\n%s", out)
	}

	empty, _ := f.FormatTable([]string{"A"}, nil)
	if empty != "No results found\n" {
		t.Errorf("empty table = %q", empty)
	}
}

func TestTableFormatter_Styled(t *testing.T) {
	f := &TableFormatter{Styled: true, isTerminal: func() bool { return true }}
	out, err := f.FormatTable([]string{"NAME"}, [][]string{{"node"}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "────") {
		t.Errorf("styled table missing rule:\n%s", out)
	}

	f.NoColor = true
	out, _ = f.FormatTable([]string{"NAME"}, [][]string{{"node"}})
	if strings.Contains(out, "─") {
		t.Errorf("NoColor table has rule:\n%s", out)
	}
}

func TestTableFormatter_FormatError(t *testing.T) {
	f := &TableFormatter{}
	se := NewStructuredError(ErrCodePortsExhausted, "no free port after 3 attempts").
		WithGuidance("ports 8081-8083 are taken").
		WithRecoveryCommand("devlaunch start --port 9000")
	out, _ := f.FormatError(se)
	for _, want := range []string{"Error: no free port after 3 attempts", "ports 8081-8083 are taken", "Try: devlaunch start --port 9000"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatError missing %q:\n%s", want, out)
		}
	}
}

func TestJSONFormatter(t *testing.T) {
	f := &JSONFormatter{}
	out, err := f.FormatTable(runTable{}.Headers(), runTable{}.Rows())
	if err != nil {
		t.Fatal(err)
	}
	var records []map[string]string
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[1]["RESULT"] != "exhausted" {
		t.Errorf("unexpected records: %v", records)
	}

	errOut, _ := f.FormatError(NewStructuredError(ErrCodeDeclined, "declined").WithContext("port", 8082).WithSessionID("s1"))
	var decoded StructuredError
	if err := json.Unmarshal([]byte(errOut), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Code != ErrCodeDeclined || decoded.SessionID != "s1" || decoded.Context["port"] != float64(8082) {
		t.Errorf("unexpected error JSON: %s", errOut)
	}
}

func TestYAMLFormatter(t *testing.T) {
	f := &YAMLFormatter{}
	out, err := f.FormatTable([]string{"A", "B"}, [][]string{{"1"}})
	if err != nil {
		t.Fatal(err)
	}
	var records []map[string]string
	if err := yaml.Unmarshal([]byte(out), &records); err != nil {
		t.Fatal(err)
	}
	if records[0]["A"] != "1" || records[0]["B"] != "" {
		t.Errorf("short row not padded: %v", records)
	}
}

func TestWithContext_DoesNotShareMap(t *testing.T) {
	base := NewStructuredError(ErrCodeLaunchFailed, "x").WithContext("a", 1)
	derived := base.WithContext("b", 2)
	if _, ok := base.Context["b"]; ok {
		t.Error("WithContext mutated the original")
	}
	if len(derived.Context) != 2 {
		t.Errorf("derived context = %v", derived.Context)
	}
}

func TestFromError(t *testing.T) {
	se := FromError(errors.New("boom"), ErrCodeOperationFailed)
	if se.Code != ErrCodeOperationFailed || se.Error() != "boom" {
		t.Errorf("FromError = %+v", se)
	}
	if FromError(se, "OTHER").Code != ErrCodeOperationFailed {
		t.Error("FromError should keep an existing StructuredError")
	}
}
