package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/neo/debatematch_backend/internal/store"
)

var seedSubjectsCmd = &cobra.Command{
	Use:   "seed-subjects",
	Short: "Seed the subjects table with the built-in fallback topics",
	Long: `Write the five built-in debate topics (the same list get_subjects falls
back to when the store is transiently unavailable) into the subjects
table, so a freshly-initialized database has something to debate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: Error loading .env file:", err)
		}

		dataDir := os.Getenv("DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}

		gateway, err := store.Open(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer gateway.Close()

		for _, s := range store.BuiltinSubjects() {
			if err := gateway.InsertSubject(*s); err != nil {
				return fmt.Errorf("failed to seed subject %s: %w", s.ID, err)
			}
			fmt.Printf("Seeded subject: %s\n", s.Title)
		}

		fmt.Println("Subject seeding complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedSubjectsCmd)
}
