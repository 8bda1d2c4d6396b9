package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the gateway tables",
	Long: `Run the schema migrations for tenants, API keys, collections, usage logs
and cron job logs. Safe to run repeatedly.

Examples:
  gatewayctl migrate`,
	Args: cobra.NoArgs,
	RunE: withRuntime(runMigrate),
}

func runMigrate(ctx context.Context, rt *runtime, args []string) error {
	if err := rt.store.Init(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Println("Migrations applied")
	return nil
}
