package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/contestboard/internal/contest"
)

// refreshOutput is what the refresh command prints.
type refreshOutput struct {
	BuildID      string           `json:"build_id"`
	LastUpdate   time.Time        `json:"last_update"`
	ContestCount int              `json:"contest_count"`
	Contests     []contest.Record `json:"contests"`
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Runs a single build and prints the snapshot as JSON",
		Long: `Fetches the listing once, derives every contest graphic into the configured
storage backend, and writes the resulting snapshot to stdout. The HTTP server
is not started.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			snap, meta, err := appInstance.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			appInstance.Logger().Info("refresh finished",
				zap.String("build_id", meta.BuildID),
				zap.Int("contests", meta.ContestCount),
			)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(refreshOutput{
				BuildID:      meta.BuildID,
				LastUpdate:   meta.LastUpdate,
				ContestCount: meta.ContestCount,
				Contests:     snap.Contests(),
			}); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			return nil
		},
	}
}
