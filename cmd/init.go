package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/arcward/wordlebot/wordlebot"
	"github.com/spf13/cobra"
)

var initWordsFile string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and seed the word list",
	Long: "Creates the database tables and imports the word list. Uses the " +
		"embedded default list unless --words is given. Safe to run again: " +
		"words already in the list are skipped.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			return errors.New("database type not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			return errors.New(
				"database not set (must be a valid database connection string or sqlite file path)",
			)
		}

		words := wordlebot.DefaultWords()
		if initWordsFile != "" {
			w, err := readWordsFile(initWordsFile)
			if err != nil {
				return err
			}
			words = w
		}

		db, err := wordlebot.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			return fmt.Errorf("error creating database: %w", err)
		}
		defer func() {
			if sqlDB, e := db.DB(); e == nil {
				_ = sqlDB.Close()
			}
		}()

		store := wordlebot.NewWordStore(
			wordlebot.NewDatabase(db, nil, cfg.DatabaseType != "sqlite"),
			0,
			nil,
		)
		result, err := store.Import(ctx, words)
		if err != nil {
			return fmt.Errorf("error importing words: %w", err)
		}

		out := cmd.OutOrStdout()
		printImportResult(out, result)
		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
		return nil
	},
}

func readWordsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening word list: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	words, err := wordlebot.ReadWordList(f)
	if err != nil {
		return nil, fmt.Errorf("error reading word list: %w", err)
	}
	return words, nil
}

func printImportResult(out io.Writer, result wordlebot.WordImportResult) {
	fmt.Fprintf(
		out,
		"Imported words: added=%d duplicates=%d invalid=%d total=%d\n",
		result.Added,
		result.Duplicates,
		len(result.Invalid),
		result.Total,
	)
	for _, w := range result.Invalid {
		fmt.Fprintf(out, "  invalid: %q\n", w)
	}
}

//nolint:gochecknoinits
func init() {
	initCmd.Flags().StringVar(
		&initWordsFile,
		"words",
		"",
		"Word list file to import instead of the default list (one word per line)",
	)
	rootCmd.AddCommand(initCmd)
}
