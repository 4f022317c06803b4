package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"certgen/internal/batch"
	"certgen/internal/config"
	"certgen/internal/docx"
	"certgen/internal/jobs"
	"certgen/internal/logging"
	"certgen/internal/server"
)

func (a *App) overrides(cmd *cobra.Command) config.Overrides {
	o := config.Overrides{
		ConfigFile: a.flags.ConfigFile,
		InputDir:   a.flags.InputDir,
		OutputDir:  a.flags.OutputDir,
	}
	if cmd.Flags().Changed("skip-records") {
		n := a.flags.SkipRecords
		o.SkipRecords = &n
	}
	if f := cmd.Flags().Lookup("addr"); f != nil && f.Changed {
		o.Addr = f.Value.String()
	}
	return o
}

func (a *App) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Generate certificates for every record of the spreadsheet",
		Args:  cobra.NoArgs,
		RunE:  a.runBatch,
	}
}

func (a *App) runBatch(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.overrides(cmd))
	if err != nil {
		return err
	}
	artifacts, err := config.Discover(cfg.InputDir)
	if err != nil {
		return err
	}
	a.logger.Info().
		Str("spreadsheet", filepath.Base(artifacts.Spreadsheet)).
		Str("template", filepath.Base(artifacts.Template)).
		Str("output", cfg.OutputDir).
		Msg("Starting batch")

	driver, err := batch.NewFromConfig(cfg, artifacts, logging.Named("certgen"))
	if err != nil {
		return err
	}
	summary, err := driver.Run(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d certificate(s) written to %s\n", summary.Rendered, cfg.OutputDir)
	if summary.RenderFailures > 0 {
		fmt.Fprintf(out, "%d record(s) could not be converted, their .docx files were kept\n", summary.RenderFailures)
	}
	fmt.Fprintf(out, "%d unmatched identifier(s) listed in %s\n", summary.Unmatched, summary.Report)
	return nil
}

func (a *App) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept spreadsheet uploads over HTTP and run them in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.overrides(cmd))
			if err != nil {
				return err
			}
			if _, err := config.DiscoverShared(cfg.InputDir); err != nil {
				return err
			}
			store := jobs.NewStore(logging.Named("jobs"))
			srv := server.New(cfg, store, logging.Named("server"), server.WithContext(cmd.Context()))
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().String("addr", config.DefaultAddr, "listen address")
	return cmd
}

func (a *App) templateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "template [file.docx]",
		Short: "List the labels the certificate template fills",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := config.Load(a.overrides(cmd))
				if err != nil {
					return err
				}
				artifacts, err := config.DiscoverShared(cfg.InputDir)
				if err != nil {
					return err
				}
				path = artifacts.Template
			}

			tmpl, err := docx.LoadTemplate(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			labels := tmpl.Labels()
			if len(labels) == 0 {
				fmt.Fprintf(out, "%s: no known labels found\n", tmpl.Name())
				return nil
			}
			fmt.Fprintf(out, "%s fills:\n", tmpl.Name())
			for _, l := range labels {
				fmt.Fprintf(out, "  %s\n", l)
			}
			return nil
		},
	}
}
