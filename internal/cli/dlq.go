package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/leasify/leased/internal/domain"
	"github.com/leasify/leased/internal/eventbus"
)

var dlqListLimit int

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect the dead-letter queue",
	Long: `Inspect and manage events whose handlers failed. The dead-letter
queue lives in Redis, so these commands require redis.enabled in the
configuration.`,
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print dead-letter entries as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDLQ(func(ctx context.Context, dlq eventbus.DeadLetterQueue) error {
			entries, err := dlq.List(ctx, dlqListLimit)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(entries)
		})
	},
}

var dlqAckCmd = &cobra.Command{
	Use:   "ack <dlq-id>",
	Short: "Acknowledge and remove one entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDLQ(func(ctx context.Context, dlq eventbus.DeadLetterQueue) error {
			removed, err := dlq.Acknowledge(ctx, args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no dead-letter entry with id %s", args[0])
			}
			fmt.Printf("Acknowledged %s\n", args[0])
			return nil
		})
	},
}

var dlqClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDLQ(func(ctx context.Context, dlq eventbus.DeadLetterQueue) error {
			count, err := dlq.Count(ctx)
			if err != nil {
				return err
			}
			if err := dlq.Clear(ctx); err != nil {
				return err
			}
			fmt.Printf("Cleared %d entries\n", count)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd, dlqAckCmd, dlqClearCmd)

	dlqListCmd.Flags().IntVar(&dlqListLimit, "limit", 50, "maximum entries to print")
}

// withDLQ connects to Redis per the configuration and hands the
// dead-letter queue to fn.
func withDLQ(fn func(context.Context, eventbus.DeadLetterQueue) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Redis.Enabled {
		return fmt.Errorf("dlq commands require redis.enabled; the in-process queue is not reachable from outside the server")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return err
	}
	return fn(ctx, eventbus.NewRedisDLQ(client, domain.TopicDLQ))
}
