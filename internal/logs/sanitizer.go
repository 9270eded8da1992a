package logs

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// SecretSanitizer wraps a zapcore.Core and masks credentials that dev
// servers and tunnels tend to print or receive on the command line.
type SecretSanitizer struct {
	zapcore.Core
	patterns []*secretPattern
	known    *sync.Map
}

type secretPattern struct {
	name    string
	regex   *regexp.Regexp
	replace func(match []string) string
}

var defaultPatterns = []*secretPattern{
	{
		// NGROK_AUTHTOKEN=..., EXPO_TOKEN: ..., --authtoken ...
		name:  "assignment",
		regex: regexp.MustCompile(`(?i)\b((?:ngrok_)?authtoken|expo_token|api[_-]?key|secret|password)(["']?\s*[=:]\s*["']?|\s+)([^\s"',;]{4,})`),
		replace: func(m []string) string {
			return m[1] + m[2] + maskValue(m[3])
		},
	},
	{
		name:  "bearer_token",
		regex: regexp.MustCompile(`\b(Bearer)\s+([A-Za-z0-9\-._~+/]+=*)`),
		replace: func(m []string) string {
			return m[1] + " " + maskValue(m[2])
		},
	},
	{
		name:  "github_token",
		regex: regexp.MustCompile(`\b(gh[poushr]_[A-Za-z0-9]{36,255})\b`),
		replace: func(m []string) string {
			return m[1][:7] + "***" + m[1][len(m[1])-2:]
		},
	},
	{
		// user:password@host in URLs
		name:  "url_credentials",
		regex: regexp.MustCompile(`(://[^/\s:@]+:)([^/\s@]+)(@)`),
		replace: func(m []string) string {
			return m[1] + "****" + m[3]
		},
	},
}

// NewSecretSanitizer creates a sanitizing core that wraps core
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	return &SecretSanitizer{
		Core:     core,
		patterns: defaultPatterns,
		known:    &sync.Map{},
	}
}

// RegisterSecret masks value wherever it appears, whatever surrounds it.
// Values shorter than 8 bytes are ignored to avoid masking ordinary words.
func (s *SecretSanitizer) RegisterSecret(value string) {
	if len(value) < 8 {
		return
	}
	s.known.Store(value, struct{}{})
}

func (s *SecretSanitizer) sanitizeString(str string) string {
	result := str
	s.known.Range(func(key, _ any) bool {
		secret := key.(string)
		result = strings.ReplaceAll(result, secret, maskValue(secret))
		return true
	})
	for _, p := range s.patterns {
		result = p.regex.ReplaceAllStringFunc(result, func(match string) string {
			return p.replace(p.regex.FindStringSubmatch(match))
		})
	}
	return result
}

// Write sanitizes the entry before writing
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.sanitizeString(entry.Message)
	sanitized := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		sanitized[i] = s.sanitizeField(f)
	}
	return s.Core.Write(entry, sanitized)
}

func (s *SecretSanitizer) sanitizeField(field zapcore.Field) zapcore.Field {
	switch field.Type {
	case zapcore.StringType:
		field.String = s.sanitizeString(field.String)
	case zapcore.ByteStringType:
		if b, ok := field.Interface.([]byte); ok {
			field.Interface = []byte(s.sanitizeString(string(b)))
		}
	case zapcore.StringerType:
		if str, ok := field.Interface.(interface{ String() string }); ok {
			original := str.String()
			if clean := s.sanitizeString(original); clean != original {
				field = zapcore.Field{Key: field.Key, Type: zapcore.StringType, String: clean}
			}
		}
	case zapcore.ReflectType:
		if strs, ok := field.Interface.([]string); ok {
			clean := make([]string, len(strs))
			for i, v := range strs {
				clean[i] = s.sanitizeString(v)
			}
			field = zapcore.Field{Key: field.Key, Type: zapcore.ReflectType, Interface: clean}
		}
	}
	return field
}

// With creates a sanitizing child core
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	sanitized := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		sanitized[i] = s.sanitizeField(f)
	}
	return &SecretSanitizer{
		Core:     s.Core.With(sanitized),
		patterns: s.patterns,
		known:    s.known,
	}
}

// Check delegates to the wrapped core
func (s *SecretSanitizer) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checked.AddCore(entry, s)
	}
	return checked
}

// maskValue shows the first 3 and last 2 characters of longer values
func maskValue(value string) string {
	if len(value) <= 5 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "***" + value[len(value)-2:]
}
