package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "pdfsum",
	Short:         "Summarize PDF documents with a local model",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", colorDisabledByDefault(), "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(configCmd)
}

// colorDisabledByDefault honors NO_COLOR and turns color off when stderr,
// where all styled output goes, is not a terminal.
func colorDisabledByDefault() bool {
	if os.Getenv("NO_COLOR") != "" {
		return true
	}
	return !term.IsTerminal(int(os.Stderr.Fd()))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
