package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/repoindex/internal/retrieval"
)

func newSearchDocumentsCmd(a *app) *cobra.Command {
	var (
		q           retrieval.Query
		showContent bool
	)

	cmd := &cobra.Command{
		Use:   "search-documents QUERY",
		Short: "Search indexed repositories",
		Long: `Runs a hybrid keyword and semantic search, grades the candidates and
rewrites the query when nothing relevant comes back. Without --repo-id the
whole corpus is searched.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Text = strings.Join(args, " ")
			return a.withEngine(cmd.Context(), func(s *session) error {
				res, err := s.engine.Search(cmd.Context(), q)
				if err != nil {
					return err
				}
				if len(res.Results) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No results found.")
					return nil
				}
				for _, r := range res.Results {
					fmt.Fprintf(cmd.OutOrStdout(), "%s[%s]: %s\n", r.RepoID, r.Ref, r.Source)
					if showContent {
						fmt.Fprintln(cmd.OutOrStdout(), indent(r.Content))
						fmt.Fprintln(cmd.OutOrStdout())
					}
				}
				s.logger.Debug("search finished",
					zap.Int("iterations", res.Iterations),
					zap.Strings("queries", res.Queries),
					zap.Duration("duration", res.Duration))
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&q.RepoID, "repo-id", "", "search only this repository")
	f.StringVar(&q.Ref, "ref", "", "tracking ref (default: the repository's default branch)")
	f.StringVar(&q.Intent, "intent", "", "what the results are for; used when grading")
	f.IntVar(&q.K, "k", 0, "maximum number of results (default from config)")
	f.BoolVar(&showContent, "show-content", false, "print the chunk text of every result")
	return cmd
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return "    " + strings.Join(lines, "\n    ")
}
