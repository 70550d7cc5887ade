package stringutil

import (
	"regexp"

	"github.com/getsentry/craft/pkg/logger"
)

var sanitizeLog = logger.New("stringutil:sanitize")

// Regex patterns for detecting potential secret key names. Publish output
// routinely echoes subprocess stderr (npm, twine, cargo, mvn, ...) which may
// quote environment variables back at the user; this redacts anything that
// looks like one of craft's own credential env vars before it reaches logs.
var (
	// Match uppercase snake_case identifiers that look like secret names (e.g., NPM_TOKEN, GPG_PASSPHRASE)
	secretNamePattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]*_[A-Z0-9_]+)\b`)

	// Match PascalCase identifiers ending with security-related suffixes (e.g., ApiKey, DeploySecret)
	pascalCaseSecretPattern = regexp.MustCompile(`\b([A-Z][a-z0-9]*(?:[A-Z][a-z0-9]*)*(?:Token|Key|Secret|Password|Credential|Auth))\b`)

	// Common non-sensitive identifiers to exclude from redaction
	commonKeywords = map[string]bool{
		"GITHUB":            true,
		"NPM_REGISTRY":      true,
		"PATH":              true,
		"HOME":              true,
		"SHELL":             true,
		"WORKING_DIRECTORY": true,
		"MAVEN_CENTRAL":     true,
		"MAVEN_REPO":        true,
	}
)

// SanitizeErrorMessage removes potential secret key names from error messages to prevent
// information disclosure via logs. This prevents exposing details about an organization's
// security infrastructure by redacting secret key names that might appear in error messages.
func SanitizeErrorMessage(message string) string {
	if message == "" {
		return message
	}

	sanitizeLog.Printf("Sanitizing error message: length=%d", len(message))

	// Redact uppercase snake_case patterns (e.g., MY_SECRET_KEY, API_TOKEN)
	sanitized := secretNamePattern.ReplaceAllStringFunc(message, func(match string) string {
		// Don't redact common workflow keywords
		if commonKeywords[match] {
			return match
		}
		sanitizeLog.Printf("Redacted snake_case secret pattern: %s", match)
		return "[REDACTED]"
	})

	// Redact PascalCase patterns ending with security suffixes (e.g., GitHubToken, ApiKey)
	sanitized = pascalCaseSecretPattern.ReplaceAllString(sanitized, "[REDACTED]")

	if sanitized != message {
		sanitizeLog.Print("Error message sanitization applied redactions")
	}

	return sanitized
}
