package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "debatematch",
	Short: "DebateMatch - structured two-player debate match server",
	Long: `DebateMatch coordinates real-time, nine-phase structured debates between
two players, moderated by an AI judge and an optional human referee.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Global flags can be added here
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (not read: every subcommand loads .env from the working directory)")
}
