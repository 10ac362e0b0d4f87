package cmd

import (
	"fmt"

	"github.com/arcward/wordlebot/wordlebot"
	"github.com/spf13/cobra"
)

var wordsCmd = &cobra.Command{
	Use:   "words",
	Short: "Manage the word list",
}

var wordsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Add words from a file to the word list",
	Long: "Adds words from a file (one word per line) to the word list. " +
		"Running instances are notified to refresh their word count.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		words, err := readWordsFile(args[0])
		if err != nil {
			return err
		}

		bot, err := wordlebot.New(cfg)
		if err != nil {
			return fmt.Errorf("error creating bot: %w", err)
		}
		defer bot.Close(ctx)

		result, err := bot.ImportWords(ctx, words)
		if err != nil {
			return fmt.Errorf("error importing words: %w", err)
		}
		printImportResult(cmd.OutOrStdout(), result)
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	wordsCmd.AddCommand(wordsImportCmd)
	rootCmd.AddCommand(wordsCmd)
}
