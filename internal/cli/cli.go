// Package cli wires the certgen commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"certgen/internal/logging"
)

type globalFlags struct {
	ConfigFile  string
	InputDir    string
	OutputDir   string
	SkipRecords int
	LogLevel    string
	LogFormat   string
	NoColor     bool
}

// App holds state shared by the commands of one invocation.
type App struct {
	version string
	flags   globalFlags
	logger  zerolog.Logger
}

func New(version string) *App {
	return &App{version: version, logger: zerolog.Nop()}
}

// Execute runs the command line. With no subcommand it behaves like "run".
func (a *App) Execute(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *App) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "certgen",
		Short: "Generate EV charging interoperability certificates",
		Long: `certgen reads a beneficiary spreadsheet, checks every charge point
identifier against the roaming registry, fills the certificate template for
each beneficiary and converts it to PDF.

The spreadsheet (*.xlsx), template (*.docx), client certificate (*.crt) and
key (*.key) are discovered in the input directory, which defaults to the
directory holding the executable.`,
		Version:           a.version,
		PersistentPreRunE: a.setup,
		RunE:              a.runBatch,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.ConfigFile, "config", "", "config file (default is certgen.yaml in the input directory)")
	pf.StringVarP(&a.flags.InputDir, "dir", "d", "", "input directory")
	pf.StringVarP(&a.flags.OutputDir, "output", "o", "", "output directory, relative paths resolve against the input directory")
	pf.IntVar(&a.flags.SkipRecords, "skip-records", 1, "leading data rows to ignore")
	pf.StringVar(&a.flags.LogLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.StringVar(&a.flags.LogFormat, "log-format", "", "log format: auto, console, json")
	pf.BoolVar(&a.flags.NoColor, "no-color", false, "disable colored output")

	root.AddCommand(a.runCommand(), a.serveCommand(), a.templateCommand())
	return root
}

// setup configures logging before any command runs. Flags win over
// LOG_LEVEL and LOG_FORMAT.
func (a *App) setup(cmd *cobra.Command, _ []string) error {
	opts := logging.FromEnv()
	if a.flags.LogLevel != "" {
		opts.Level = a.flags.LogLevel
	}
	if a.flags.LogFormat != "" {
		opts.Format = a.flags.LogFormat
	}
	if a.flags.NoColor {
		opts.NoColor = true
	}
	opts.Writer = cmd.ErrOrStderr()
	if opts.Writer == os.Stderr {
		opts.Writer = nil
	}
	logging.Init(opts)
	a.logger = logging.Named("cli")
	return nil
}

// ContextWithSignals cancels the returned context on SIGINT or SIGTERM.
func ContextWithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// ExitOnError logs err and exits with status 1.
func ExitOnError(err error) {
	logging.Default().Error().Err(err).Msg("certgen failed")
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
