package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"auditagent/internal/contracts"
	"auditagent/internal/pipeline"
	"auditagent/internal/platform/config"
	"auditagent/internal/platform/logger"
	"auditagent/internal/report"
)

var localFlags struct {
	repo         string
	dir          string
	output       string
	format       string
	onlySelected bool
	envFile      string
}

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Audit one repository and save the findings to a file",
	Long: `Clones a git repository (or reads a local checkout), discovers its .sol
files and audits them. Results go to --output as plain text, JSON or YAML.

Usage:
  agent local --repo https://github.com/org/contracts.git
  agent local --repo https://github.com/org/contracts.git --only-selected-files
  agent local --dir ./contracts --output findings.yaml`,
	Args: cobra.NoArgs,
	RunE: runLocal,
}

func init() {
	f := localCmd.Flags()
	f.StringVar(&localFlags.repo, "repo", "", "Git repository URL to audit")
	f.StringVar(&localFlags.dir, "dir", "", "Local directory to audit instead of cloning")
	f.StringVarP(&localFlags.output, "output", "o", report.DefaultOutputPath, "Output file path")
	f.StringVar(&localFlags.format, "format", "", "Output format: text, json or yaml (default: from the output extension)")
	f.BoolVar(&localFlags.onlySelected, "only-selected-files", false, "List the .sol files and choose which ones to audit")
	f.StringVar(&localFlags.envFile, "env-file", ".env", "Optional dotenv file")
	localCmd.MarkFlagsOneRequired("repo", "dir")
	localCmd.MarkFlagsMutuallyExclusive("repo", "dir")
}

func runLocal(cmd *cobra.Command, _ []string) error {
	format, err := report.OutputFormatFor(localFlags.output, localFlags.format)
	if err != nil {
		return err
	}
	cfg := config.Load(localFlags.envFile)
	log, logCloser, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx := cmd.Context()
	gen, err := newGenerationClient(cfg.Generation, log, nil)
	if err != nil {
		return err
	}

	root := localFlags.dir
	if localFlags.repo != "" {
		checkout, cleanup, err := contracts.NewGitCloner(log).Clone(ctx, localFlags.repo)
		if err != nil {
			log.ErrorContext(ctx, "clone failed", "repo_url", localFlags.repo, "error", err)
			return fmt.Errorf("%w: %w", contracts.ErrSourceUnreachable, err)
		}
		defer cleanup()
		root = checkout
	}

	files, err := chooseFiles(cmd, root, log)
	if err != nil {
		return err
	}
	if localFlags.onlySelected && len(files) == 0 {
		log.WarnContext(ctx, "no files selected, exiting")
		return nil
	}

	svc := pipeline.New(contracts.NewDirFetcher(log, nil), newAuditor(cfg.Audit, gen, log), nil, log, nil)
	rep, err := svc.Audit(ctx, localTaskID(), contracts.Source{Dir: root, Files: files})
	if err != nil {
		return err
	}
	if err := report.WriteFile(localFlags.output, format, rep); err != nil {
		return err
	}
	log.InfoContext(ctx, "security audit completed",
		"output", localFlags.output,
		"format", format,
		"findings", len(rep.Findings),
		"iterations", rep.Iterations,
	)
	return nil
}

// chooseFiles returns nil (every discovered file) unless interactive
// selection is on.
func chooseFiles(cmd *cobra.Command, root string, log *slog.Logger) ([]string, error) {
	if !localFlags.onlySelected {
		return nil, nil
	}
	all, err := contracts.Discover(root)
	if err != nil {
		return nil, fmt.Errorf("discover contracts: %w", err)
	}
	if len(all) == 0 {
		return nil, pipeline.ErrNothingToAudit
	}
	selected, err := selectFiles(cmd.InOrStdin(), cmd.OutOrStdout(), all)
	if errors.Is(err, errNoSelection) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	log.Info("files selected", "count", len(selected))
	return selected, nil
}

func localTaskID() string {
	if localFlags.repo != "" {
		return localFlags.repo
	}
	if host, err := os.Hostname(); err == nil {
		return "local@" + host
	}
	return "local"
}
