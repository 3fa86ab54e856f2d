package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteIndexCmd(a *app) *cobra.Command {
	var (
		repoID, ref string
		all         bool
	)

	cmd := &cobra.Command{
		Use:   "delete-index",
		Short: "Delete a repository's generations from both indices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(s *session) error {
				n, err := s.engine.Delete(cmd.Context(), repoID, ref, all)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: deleted %d namespaces\n", repoID, n)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&repoID, "repo-id", "", "repository to delete")
	f.StringVar(&ref, "ref", "", "tracking ref (default: the repository's default branch)")
	f.BoolVar(&all, "all", false, "delete every ref of the repository")
	_ = cmd.MarkFlagRequired("repo-id")
	return cmd
}

func newRebuildLexicalCmd(a *app) *cobra.Command {
	var repoID, ref string

	cmd := &cobra.Command{
		Use:   "rebuild-lexical",
		Short: "Regenerate lexical documents from the semantic store",
		Long: `Rewrites the lexical documents of the latest indexed generations from the
chunks held by the semantic store. Use it after the lexical index file was
lost or a lexical write failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(s *session) error {
				n, err := s.engine.RebuildLexical(cmd.Context(), repoID, ref)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d lexical documents\n", n)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&repoID, "repo-id", "", "rebuild only this repository")
	f.StringVar(&ref, "ref", "", "rebuild only this ref")
	return cmd
}

func newIndexStatusCmd(a *app) *cobra.Command {
	var (
		repoID string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "index-status",
		Short: "List repositories and their generations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(s *session) error {
				status, err := s.engine.Status(cmd.Context(), repoID)
				if err != nil {
					return err
				}
				if asJSON {
					data, err := json.MarshalIndent(status, "", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), string(data))
					return nil
				}
				for _, repo := range status {
					fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, default %s)\n", repo.RepoID, repo.ClientKind, repo.DefaultBranch)
					for _, ns := range repo.Namespaces {
						fmt.Fprintf(cmd.OutOrStdout(), "  #%d %s %s %s %d chunks\n", ns.ID, ns.Ref, shortSHA(ns.SHA), ns.Status, ns.Chunks)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&repoID, "repo-id", "", "show only this repository")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
