package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leasify/leased/internal/storage/relationaldb/postgres"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired idempotency keys",
	Long: `Remove idempotency records past their expiry from the database.
The serve command runs the same sweep periodically; this is the
one-shot variant for cron jobs and migrations.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	repos, err := postgres.NewRepositoryManager(&cfg.Database)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := repos.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := repos.Close(ctx); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	deleted, err := repos.Idempotency().DeleteExpired(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d expired idempotency keys\n", deleted)
	return nil
}
