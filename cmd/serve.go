package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/neo/debatematch_backend/internal/judge"
	"github.com/neo/debatematch_backend/internal/logging"
	"github.com/neo/debatematch_backend/internal/server"
	"github.com/neo/debatematch_backend/internal/store"
)

var (
	port int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the DebateMatch server",
	Long: `Start the DebateMatch server: opens the SQLite-backed store, connects
the judge client, and begins accepting WebSocket connections for the
match protocol.`,
	PreRun: func(cmd *cobra.Command, args []string) {
		if err := os.MkdirAll("data", 0755); err != nil {
			fmt.Printf("Error creating data directory: %v\n", err)
			os.Exit(1)
		}
		if _, err := os.Stat(".env"); os.IsNotExist(err) {
			fmt.Println("Warning: .env file not found. Make sure to create it with your OPENAI_API_KEY")
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil {
			logging.Info("no .env file found, reading configuration from the environment", nil)
		}

		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is not set in the environment variables")
		}

		narrationModel := os.Getenv("JUDGE_NARRATION_MODEL")
		if narrationModel == "" {
			narrationModel = "gpt-4o-mini"
		}

		dataDir := os.Getenv("DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}

		gateway, err := store.Open(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}

		judgeClient, err := judge.New(apiKey, narrationModel)
		if err != nil {
			return fmt.Errorf("failed to create judge client: %w", err)
		}

		origins := []string{"*"}
		if raw := os.Getenv("CORS_ORIGINS"); raw != "" {
			origins = strings.Split(raw, ",")
		}

		cfg := server.Config{
			Port:                fmt.Sprintf("%d", port),
			CORSOrigins:         origins,
			DataDir:             dataDir,
			OpenAIKey:           apiKey,
			JudgeNarrationModel: narrationModel,
			TLSCertFile:         os.Getenv("TLS_CERT_FILE"),
			TLSKeyFile:          os.Getenv("TLS_KEY_FILE"),
			AppEnv:              os.Getenv("APP_ENV"),
		}

		srv := server.New(cfg, gateway, judgeClient)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		errChan := make(chan error, 1)
		go func() {
			logging.Info("starting server", map[string]interface{}{"port": cfg.Port})
			if err := srv.Run(); err != nil {
				errChan <- err
			}
		}()

		select {
		case err := <-errChan:
			gateway.Close()
			return fmt.Errorf("server error: %w", err)
		case sig := <-sigChan:
			logging.Info("received shutdown signal", map[string]interface{}{"signal": sig.String()})
			gateway.Close()
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on")
}
