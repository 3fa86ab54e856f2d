package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/repoindex/internal/indexer"
)

func newUpdateIndexCmd(a *app) *cobra.Command {
	var opts indexer.UpdateOptions

	cmd := &cobra.Command{
		Use:   "update-index",
		Short: "Index repositories that are missing a generation for their ref",
		Long: `Indexes every selected repository that has no indexed generation for the
ref yet. Repositories are updated in parallel and a failure in one does not
stop the others; with --repo-id the command fails when that repository fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("max-workers") {
				opts.MaxWorkers = 0 // indexing.max_workers from config
			}
			return a.withEngine(cmd.Context(), func(s *session) error {
				report, err := s.engine.Update(cmd.Context(), opts)
				if report != nil {
					printReport(cmd, report)
				}
				return err
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.RepoID, "repo-id", "", "update only this repository")
	f.StringVar(&opts.Ref, "ref", "", "tracking ref (default: the repository's default branch)")
	f.StringSliceVar(&opts.Topics, "topic", nil, "update repositories carrying any of these topics")
	f.IntVar(&opts.MaxWorkers, "max-workers", indexer.DefaultMaxWorkers, "repositories updated in parallel")
	f.BoolVar(&opts.Reset, "reset", false, "drop the ref's existing generations first")
	f.BoolVar(&opts.ResetAll, "reset-all", false, "drop every generation of the repository first")
	f.StringSliceVar(&opts.Exclude, "exclude-repo-id", nil, "repositories to skip")
	f.BoolVar(&opts.Augment, "semantic-augmented-context", false, "add a generated description per chunk before embedding")
	return cmd
}

func printReport(cmd *cobra.Command, report *indexer.Report) {
	for _, r := range report.Results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(cmd.OutOrStdout(), "%s[%s]: %s: %v\n", r.RepoID, r.Ref, r.Outcome, r.Err)
		case r.Outcome == indexer.OutcomeIndexed:
			fmt.Fprintf(cmd.OutOrStdout(), "%s[%s]: %s (%d chunks, namespace %d)\n", r.RepoID, r.Ref, r.Outcome, r.Chunks, r.NamespaceID)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "%s[%s]: %s\n", r.RepoID, r.Ref, r.Outcome)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d repositories, %d failed, %s\n", len(report.Results), report.Failed(), report.Duration.Round(time.Millisecond))
}
