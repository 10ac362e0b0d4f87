package cmd

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/arcward/wordlebot/wordlebot"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passwordReader is a function type for reading passwords. It's really only
// here to make testing easier.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

const hashPasswordMaxAttempts = 3

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash an admin password for api.admin_password_hash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		readPassword := customPasswordReader
		if readPassword == nil {
			readPassword = func() ([]byte, error) {
				return term.ReadPassword(int(syscall.Stdin))
			}
		}

		errOut := cmd.ErrOrStderr()
		for i := 0; i < hashPasswordMaxAttempts; i++ {
			fmt.Fprint(errOut, "Enter admin password: ")
			password, err := readPassword()
			fmt.Fprintln(errOut)
			if err != nil {
				return fmt.Errorf("error reading password: %w", err)
			}

			fmt.Fprint(errOut, "Confirm admin password: ")
			confirm, err := readPassword()
			fmt.Fprintln(errOut)
			if err != nil {
				return fmt.Errorf("error reading password: %w", err)
			}

			if len(password) == 0 {
				fmt.Fprintln(errOut, "Password can't be empty. Please try again.")
				continue
			}
			if string(password) != string(confirm) {
				fmt.Fprintln(errOut, "Passwords do not match. Please try again.")
				continue
			}

			hashed, err := wordlebot.HashPassword(string(password))
			if err != nil {
				return fmt.Errorf("error hashing password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hashed)
			return nil
		}
		return errors.New("too many attempts")
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
