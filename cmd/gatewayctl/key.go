package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sahilchouksey/search-gateway/model"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/utils/validation"
	"github.com/spf13/cobra"
)

var (
	keyTenantID    uint
	keyType        string
	keyPermissions []string
	keyRateLimit   int
	keyExpiresDays int
)

func init() {
	keyCmd.PersistentFlags().UintVar(&keyTenantID, "tenant", 0, "owning tenant id (required)")
	_ = keyCmd.MarkPersistentFlagRequired("tenant")

	keyCreateCmd.Flags().StringVar(&keyType, "type", string(model.KeyTypeSearch), "key type: search, write or admin")
	keyCreateCmd.Flags().StringSliceVar(&keyPermissions, "permissions", nil, "override permissions (search,write,delete)")
	keyCreateCmd.Flags().IntVar(&keyRateLimit, "rate-limit", 0, "requests per window (0 uses the type default)")
	keyCreateCmd.Flags().IntVar(&keyExpiresDays, "expires-in-days", 0, "days until expiry, 0 for never")

	keyCmd.AddCommand(keyCreateCmd, keyListCmd, keyRevokeCmd)
	rootCmd.AddCommand(keyCmd)
}

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage tenant API keys",
}

var keyCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Issue an API key",
	Long: `Issue an API key for a tenant. The secret is printed once and cannot be recovered.

Examples:
  gatewayctl key create --tenant 1 --type admin bootstrap
  gatewayctl key create --tenant 1 --type write --rate-limit 500 ingest`,
	Args: cobra.ExactArgs(1),
	RunE: withRuntime(runKeyCreate),
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's API keys",
	Args:  cobra.NoArgs,
	RunE:  withRuntime(runKeyList),
}

var keyRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key on every gateway instance",
	Args:  cobra.ExactArgs(1),
	RunE:  withRuntime(runKeyRevoke),
}

func runKeyCreate(ctx context.Context, rt *runtime, args []string) error {
	if _, err := rt.tenants.Get(ctx, keyTenantID); err != nil {
		return err
	}

	input := services.CreateKeyInput{
		Name:          validation.SanitizeString(args[0]),
		Type:          model.KeyType(keyType),
		Permissions:   keyPermissions,
		RateLimit:     keyRateLimit,
		ExpiresInDays: keyExpiresDays,
	}
	if err := validation.NewValidator().ValidateStruct(input); err != nil {
		return fmt.Errorf("invalid key: %v", validation.FormatValidationErrors(err))
	}

	key, err := rt.keys.Create(ctx, keyTenantID, input)
	if err != nil {
		return err
	}
	return printJSON(key)
}

func runKeyList(ctx context.Context, rt *runtime, args []string) error {
	keys, err := rt.keys.List(ctx, keyTenantID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPREFIX\tTYPE\tSTATUS\tPERMISSIONS\tREQUESTS\tLAST USED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			k.ID, k.Name, k.KeyPrefix, k.Type, k.Status, strings.Join(k.Permissions, ","), k.RequestCount, lastUsed)
	}
	return w.Flush()
}

func runKeyRevoke(ctx context.Context, rt *runtime, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := rt.keys.Revoke(ctx, keyTenantID, id); err != nil {
		return err
	}
	fmt.Printf("API key %d revoked\n", id)
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
