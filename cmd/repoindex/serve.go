package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/repoindex/internal/indexer"
	"github.com/dshills/repoindex/internal/mcp"
	"github.com/dshills/repoindex/internal/schedule"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		spec   string
		topics []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP tools over stdio",
		Long: `Starts an MCP server on stdin/stdout exposing search_documents,
update_index, delete_index and index_status. With --schedule the index is
also updated on a five-field cron spec, for example "0 */6 * * *".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(s *session) error {
				if !cmd.Flags().Changed("schedule") {
					spec = s.cfg.Serve.Schedule
				}
				if !cmd.Flags().Changed("topic") {
					topics = s.cfg.Serve.Topics
				}

				if spec != "" {
					sched := schedule.New(s.logger.Named("schedule"))
					if err := sched.AddJob(updateJob(s, topics), spec); err != nil {
						return err
					}
					sched.Start(cmd.Context())
					defer sched.Stop()
				}

				s.logger.Info("mcp server listening on stdio", zap.String("version", version))
				if err := mcp.NewServer(s.engine, s.logger.Named("mcp")).Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout()); err != nil && cmd.Context().Err() == nil {
					return fmt.Errorf("mcp server: %w", err)
				}
				s.logger.Info("server stopped")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&spec, "schedule", "", "cron spec for periodic update-index runs (default from config)")
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "topics the scheduled update is limited to")
	return cmd
}

// updateJob runs a batch update over every repository carrying topics
func updateJob(s *session, topics []string) schedule.Job {
	return schedule.JobFunc{
		JobName: "update-index",
		Fn: func(ctx context.Context) error {
			report, err := s.engine.Update(ctx, indexer.UpdateOptions{Topics: topics})
			if err != nil {
				return err
			}
			s.logger.Info("scheduled update finished",
				zap.Int("repositories", len(report.Results)),
				zap.Int("failed", report.Failed()),
				zap.Duration("duration", report.Duration))
			return nil
		},
	}
}
