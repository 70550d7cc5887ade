// Package console renders user-facing progress and result messages for the
// craft CLI. It mirrors the teacher's message-prefix convention (a colored
// glyph followed by plain text) without pulling in a TUI framework: craft's
// output is a linear publish/prepare log, not an interactive screen.
package console

import (
	"os"
	"strings"

	"github.com/getsentry/craft/pkg/logger"
	"github.com/mattn/go-isatty"
)

var consoleLog = logger.New("console:console")

var isTTY = isatty.IsTerminal(os.Stderr.Fd())

const (
	colorGreen  = "\033[32m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
	colorReset  = "\033[0m"
)

func colorize(color, glyph, message string) string {
	if !isTTY {
		return glyph + " " + message
	}
	return color + glyph + colorReset + " " + message
}

// FormatSuccessMessage formats a success message with a green checkmark.
func FormatSuccessMessage(message string) string {
	return colorize(colorGreen, "✓", message)
}

// FormatInfoMessage formats an informational message with a blue marker.
func FormatInfoMessage(message string) string {
	return colorize(colorBlue, "ℹ", message)
}

// FormatWarningMessage formats a warning message with a yellow marker.
func FormatWarningMessage(message string) string {
	return colorize(colorYellow, "⚠", message)
}

// FormatErrorMessage formats an error message with a red cross.
func FormatErrorMessage(message string) string {
	return colorize(colorRed, "✗", message)
}

// FormatVerboseMessage formats verbose/debug output with a gray marker.
func FormatVerboseMessage(message string) string {
	return colorize(colorGray, "›", message)
}

// FormatProgressMessage formats a progress/activity message.
func FormatProgressMessage(message string) string {
	return colorize(colorBlue, "→", message)
}

// FormatDryRunMessage formats a dry-run notice the way spec.md §4.9 requires:
// "[dry-run] Would execute git.push …".
func FormatDryRunMessage(action string) string {
	return colorize(colorYellow, "⋯", "[dry-run] Would execute "+action)
}

// FormatErrorWithSuggestions formats an error message with actionable
// suggestions appended as a bullet list.
func FormatErrorWithSuggestions(message string, suggestions []string) string {
	var b strings.Builder
	b.WriteString(FormatErrorMessage(message))
	if len(suggestions) > 0 {
		b.WriteString("\n\nSuggestions:\n")
		for _, s := range suggestions {
			b.WriteString("  • " + s + "\n")
		}
	}
	return b.String()
}

// PrintInfo writes an info message to stderr, matching the teacher's
// convention of routing all CLI chatter to stderr and stdout for data.
func PrintInfo(message string) {
	consoleLog.Printf("info: %s", message)
	os.Stderr.WriteString(FormatInfoMessage(message) + "\n")
}

// PrintWarning writes a warning message to stderr.
func PrintWarning(message string) {
	consoleLog.Printf("warning: %s", message)
	os.Stderr.WriteString(FormatWarningMessage(message) + "\n")
}

// PrintError writes an error message to stderr.
func PrintError(message string) {
	consoleLog.Printf("error: %s", message)
	os.Stderr.WriteString(FormatErrorMessage(message) + "\n")
}

// PrintSuccess writes a success message to stderr.
func PrintSuccess(message string) {
	consoleLog.Printf("success: %s", message)
	os.Stderr.WriteString(FormatSuccessMessage(message) + "\n")
}
