// Command scf downloads the Survey of Consumer Finances summary extract
// archives, merges the per-year files and derives the processed tables.
//
//	scf fetch   [--format stata] [--year 2019]
//	scf merge   [--from stata] [--to parquet]
//	scf process [--input data/_raw/scf_merged.dta]
//	scf run
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	scf "github.com/dedwar65/scf-tools"
)

// app carries the state shared by the subcommands once the persistent
// flags have been applied.
type app struct {
	configPath string
	dataDir    string
	logLevel   string

	cfg    *scf.Config
	logger *slog.Logger
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := scf.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = scf.NewLogger(cfg.Logging, os.Stderr).With("run_id", uuid.New().String())
	a.logger.Debug("configuration loaded", "command", cmd.Name(), "data_dir", cfg.DataDir)
	return nil
}

func newRootCommand() *cobra.Command {

	a := &app{}

	root := &cobra.Command{
		Use:               "scf",
		Short:             "Fetch, merge and process Survey of Consumer Finances extracts",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "data directory (overrides the configuration)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(a.fetchCommand(), a.mergeCommand(), a.processCommand(), a.runCommand())
	return root
}

func (a *app) fetchCommand() *cobra.Command {
	var format string
	var year int

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download and extract the survey archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format == "" {
				format = a.cfg.Format
			}
			return a.fetch(cmd.Context(), scf.FileFormat(format), year)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "archive format: stata, sas or csv")
	cmd.Flags().IntVar(&year, "year", 0, "fetch a single survey year")
	return cmd
}

func (a *app) fetch(ctx context.Context, format scf.FileFormat, year int) error {
	f := scf.NewFetcher(a.cfg, a.logger)

	var statuses []scf.YearStatus
	var err error
	if year != 0 {
		var st scf.YearStatus
		st, err = f.Fetch(ctx, year, format)
		statuses = append(statuses, st)
	} else {
		statuses, err = f.FetchAll(ctx, format)
	}
	if err != nil {
		return err
	}

	skipped := 0
	for _, st := range statuses {
		if st.Extract == scf.StatusSkipped {
			skipped++
		}
	}
	a.logger.Info("fetch finished", "years", len(statuses), "skipped", skipped)
	return nil
}

func (a *app) mergeCommand() *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge the per-year data files into one table",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if from == "" {
				from = a.cfg.Format
			}
			if to == "" {
				to = a.cfg.MergeOutput
			}
			return a.merge(scf.FileFormat(from), scf.FileFormat(to))
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "input format: stata, sas or csv")
	cmd.Flags().StringVar(&to, "to", "", "output format: stata, csv, parquet or xlsx")
	return cmd
}

func (a *app) merge(from, to scf.FileFormat) error {
	m := scf.NewMerger(a.cfg, a.logger)
	m.OutputPath = a.cfg.MergedPath(to)

	report, err := m.Merge(from, to)
	if err != nil {
		return err
	}

	failed := 0
	for _, fs := range report.Files {
		if fs.Status == scf.StatusFailed {
			failed++
		}
	}
	a.logger.Info("merge finished", "files", len(report.Files), "failed", failed,
		"rows", report.Rows, "output", report.Output)
	return nil
}

func (a *app) processCommand() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Derive the labelled and transformed tables from the merged table",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.process(input)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "merged table (default from the configuration)")
	return cmd
}

func (a *app) process(input string) error {
	p := scf.NewProcessor(a.cfg, a.logger)
	if input != "" {
		p.InputPath = input
	}
	_, _, err := p.Run()
	return err
}

func (a *app) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Fetch, merge and process with the configured formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format := scf.FileFormat(a.cfg.Format)
			if err := a.fetch(cmd.Context(), format, 0); err != nil {
				return err
			}
			if err := a.merge(format, scf.FileFormat(a.cfg.MergeOutput)); err != nil {
				return err
			}
			return a.process("")
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "scf: %v\n", err)
		stop()
		os.Exit(1)
	}
}
