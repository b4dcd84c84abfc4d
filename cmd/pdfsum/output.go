package main

import (
	"fmt"
	"io"
	"os"
)

// ANSI styles used by the CLI.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

// Summaries go to stdout so they can be piped; everything else goes here.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func styled(style, text string) string {
	if noColor {
		return text
	}
	return style + text + ansiReset
}

// notice writes one marked, styled line to stderr.
func notice(style, mark, format string, args []any) {
	fmt.Fprintln(stderr, styled(style, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notice(ansiGreen, "✓", format, args) }
func printError(format string, args ...any) { notice(ansiRed, "✗", format, args) }
func printWarning(format string, args ...any) { notice(ansiYellow, "⚠", format, args) }
func printStep(format string, args ...any) { notice(ansiCyan, "→", format, args) }

// printStatus writes an indented "label: value" line.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", styled(ansiBold, label+":"), fmt.Sprintf(format, args...))
}
