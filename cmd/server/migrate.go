package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignite/convoflow/internal/config"
	"github.com/ignite/convoflow/internal/repository/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the executions table in PostgreSQL",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromEnv(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.Storage.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	log.Println("Connected to database")

	if err := postgres.NewExecutionRepo(db).Migrate(ctx); err != nil {
		return err
	}
	log.Println("Migration complete")
	return nil
}
