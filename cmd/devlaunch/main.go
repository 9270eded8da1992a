package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"devlaunch/internal/cli/output"
)

var (
	configFile   string
	dataDir      string
	logLevel     string
	logToFile    bool
	logDir       string
	outputFormat string

	version = "v0.1.0" // This will be injected by -ldflags during build
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "devlaunch",
		Short: "Start a local dev server, negotiating a free port when the default is taken",
		Long: `devlaunch starts a development server for a profile (expo, web or your own),
watches its output for port conflicts and alternate-port offers, and restarts it
on a free port without leaving stray processes behind.

Running devlaunch without a subcommand opens the interactive menu.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runMenu,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.devlaunch)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Also write logs to the standard OS log directory")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path (overrides standard OS location)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "Output format (table, json, yaml)")

	rootCmd.AddCommand(GetStartCommand())
	rootCmd.AddCommand(GetWebCommand())
	rootCmd.AddCommand(GetMenuCommand())
	rootCmd.AddCommand(GetDoctorCommand())
	rootCmd.AddCommand(GetInstallCommand())
	rootCmd.AddCommand(GetHistoryCommand())
	rootCmd.AddCommand(GetLogsCommand())
	rootCmd.AddCommand(GetConfigCommand())
	rootCmd.AddCommand(GetVersionCommand())
	return rootCmd
}

// run executes the CLI and returns the process exit code.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		reportError(err)
	}
	return exitCodeFor(err)
}

// reportError prints err on stderr in the selected output format.
func reportError(err error) {
	structured := structuredErrorFor(err)
	formatter, ferr := output.NewFormatter(output.ResolveFormat(outputFormat))
	if ferr != nil {
		formatter = &output.TableFormatter{}
	}
	text, ferr := formatter.FormatError(structured)
	if ferr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Fprint(os.Stderr, text)
}
