package cmd

import (
	"bytes"
	"testing"

	"github.com/arcward/wordlebot/wordlebot"
	"github.com/spf13/viper"
)

// resetConfig clears viper and the package config, so each test starts
// from the defaults
func resetConfig(t testing.TB) {
	t.Helper()
	reset := func() {
		viper.Reset()
		cfg = wordlebot.DefaultConfig()
		configFile = ""
		initWordsFile = ""
	}
	reset()
	t.Cleanup(reset)
}

// executeCommand runs the root command with the given args, returning
// stdout and stderr
func executeCommand(t testing.TB, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer

	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	t.Cleanup(
		func() {
			rootCmd.SetOut(nil)
			rootCmd.SetErr(nil)
			rootCmd.SetArgs(nil)
		},
	)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}
