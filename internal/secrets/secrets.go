// Package secrets detects and masks plaintext credentials in collection
// data, so a saved collection or a printed RunResult never echoes a raw
// token back to a terminal or file. Adapted from the teacher's
// pkg/core/secrets.go, which did the same thing for saved Falcon requests;
// here it guards Fracture's request bodies/headers and its own RunResult
// rendering instead.
package secrets

import (
	"regexp"
	"strings"
)

// patterns are regexes matching known secret shapes (provider-specific
// tokens, long random strings, JWTs). Same catalogue the teacher used to
// flag plaintext credentials in saved requests.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(sk|pk|api|key|token|secret|password|passwd|pwd|auth|bearer|jwt|access|refresh)[-_]?[a-zA-Z0-9]{8,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`ghp_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`gho_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`github_pat_[a-zA-Z0-9_]{22,}`),
	regexp.MustCompile(`xox[baprs]-[a-zA-Z0-9\-]+`),
	regexp.MustCompile(`(?i)^ey[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+\.`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
	regexp.MustCompile(`(?i)^sk_live_[a-zA-Z0-9]{24,}`),
	regexp.MustCompile(`(?i)^sk_test_[a-zA-Z0-9]{24,}`),
}

// keyPatterns flag header/variable names that conventionally hold secrets,
// independent of whether the value itself looks random.
var keyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)`),
	regexp.MustCompile(`(?i)(secret[_-]?key|secretkey)`),
	regexp.MustCompile(`(?i)(access[_-]?token|accesstoken)`),
	regexp.MustCompile(`(?i)(refresh[_-]?token|refreshtoken)`),
	regexp.MustCompile(`(?i)(password|passwd|pwd)`),
	regexp.MustCompile(`(?i)(client[_-]?secret|clientsecret)`),
	regexp.MustCompile(`(?i)authorization`),
}

// placeholderPattern matches {{name}} interpolation syntax, which is always
// safe (the actual value lives in an environment/vault, not in the
// collection file).
var placeholderPattern = regexp.MustCompile(`\{\{\s*[A-Za-z0-9_.\-]+\s*\}\}`)

// IsSecret reports whether key/value looks like a credential that should
// have been a {{placeholder}} instead of a literal.
func IsSecret(key, value string) bool {
	for _, p := range keyPatterns {
		if p.MatchString(key) {
			return isHardcoded(value)
		}
	}
	return isHardcoded(value)
}

// isHardcoded reports whether value matches a known secret shape and isn't
// just a bare {{placeholder}}.
func isHardcoded(value string) bool {
	if len(value) < 8 {
		return false
	}
	stripped := strings.TrimSpace(placeholderPattern.ReplaceAllString(value, ""))
	if stripped == "" {
		return false
	}
	for _, p := range patterns {
		if p.MatchString(stripped) {
			return true
		}
	}
	return false
}

// Mask returns a redacted version of a secret value for logs and reports:
// "sk-1234...cdef" for long values, "****" for short ones.
func Mask(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

// ScanHeaders returns the header names whose values look like hardcoded
// secrets, for CollectionValidator-adjacent warnings (spec.md has no
// invariant requiring this to block a run; it's advisory).
func ScanHeaders(headers map[string]string) []string {
	var flagged []string
	for k, v := range headers {
		if IsSecret(k, v) {
			flagged = append(flagged, k)
		}
	}
	return flagged
}

// RedactString returns s with any hardcoded-secret-shaped substring masked.
// Used by internal/report before printing request/response bodies.
func RedactString(s string) string {
	out := s
	for _, p := range patterns {
		out = p.ReplaceAllStringFunc(out, Mask)
	}
	return out
}
