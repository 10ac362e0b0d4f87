package cmd

import (
	"fmt"

	"github.com/arcward/wordlebot/wordlebot"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear every player's attempts for the day",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		bot, err := wordlebot.New(cfg)
		if err != nil {
			return fmt.Errorf("error creating bot: %w", err)
		}
		defer bot.Close(ctx)

		entry, err := bot.ResetAttempts(ctx, wordlebot.ResetTriggerCLI)
		if err != nil {
			return fmt.Errorf("error resetting attempts: %w", err)
		}
		fmt.Fprintf(
			cmd.OutOrStdout(),
			"Reset complete: date=%s rows_deleted=%d\n",
			entry.DateKey,
			entry.RowsDeleted,
		)
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(resetCmd)
}
