package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/utils/validation"
	"github.com/spf13/cobra"
)

var (
	tenantEmail        string
	tenantDocLimit     int64
	tenantStorageLimit int64
	tenantCollLimit    int64
)

func init() {
	tenantCreateCmd.Flags().StringVar(&tenantEmail, "email", "", "contact email")
	tenantCreateCmd.Flags().Int64Var(&tenantDocLimit, "document-limit", 0, "maximum documents (0 uses DEFAULT_DOCUMENT_LIMIT)")
	tenantCreateCmd.Flags().Int64Var(&tenantStorageLimit, "storage-limit", 0, "maximum stored bytes (0 uses DEFAULT_STORAGE_LIMIT_BYTES)")
	tenantCreateCmd.Flags().Int64Var(&tenantCollLimit, "collection-limit", 0, "maximum collections (0 uses DEFAULT_COLLECTION_LIMIT)")

	tenantQuotaCmd.Flags().Int64Var(&tenantDocLimit, "document-limit", 0, "maximum documents, 0 for unlimited")
	tenantQuotaCmd.Flags().Int64Var(&tenantStorageLimit, "storage-limit", 0, "maximum stored bytes, 0 for unlimited")
	tenantQuotaCmd.Flags().Int64Var(&tenantCollLimit, "collection-limit", 0, "maximum collections, 0 for unlimited")

	tenantCmd.AddCommand(tenantCreateCmd, tenantShowCmd, tenantQuotaCmd)
	rootCmd.AddCommand(tenantCmd)
}

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a tenant",
	Long: `Create a tenant with its quota. Issue its first key with "gatewayctl key create".

Examples:
  gatewayctl tenant create acme --email ops@acme.test
  gatewayctl tenant create globex --document-limit 50000 --storage-limit 1073741824 --collection-limit 25`,
	Args: cobra.ExactArgs(1),
	RunE: withRuntime(runTenantCreate),
}

var tenantShowCmd = &cobra.Command{
	Use:   "show <tenant-id>",
	Short: "Show a tenant's quota and usage",
	Args:  cobra.ExactArgs(1),
	RunE:  withRuntime(runTenantShow),
}

var tenantQuotaCmd = &cobra.Command{
	Use:   "quota <tenant-id>",
	Short: "Replace a tenant's quota",
	Args:  cobra.ExactArgs(1),
	RunE:  withRuntime(runTenantQuota),
}

func runTenantCreate(ctx context.Context, rt *runtime, args []string) error {
	input := services.CreateTenantInput{
		Name:              validation.SanitizeString(args[0]),
		Email:             tenantEmail,
		DocumentLimit:     tenantDocLimit,
		StorageLimitBytes: tenantStorageLimit,
		CollectionLimit:   tenantCollLimit,
	}
	if err := validation.NewValidator().ValidateStruct(input); err != nil {
		return fmt.Errorf("invalid tenant: %v", validation.FormatValidationErrors(err))
	}

	tenant, err := rt.tenants.Create(ctx, input)
	if err != nil {
		return err
	}
	return printJSON(tenant)
}

func runTenantShow(ctx context.Context, rt *runtime, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	tenant, err := rt.tenants.Get(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(tenant)
}

func runTenantQuota(ctx context.Context, rt *runtime, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	quota := services.QuotaInput{
		DocumentLimit:     tenantDocLimit,
		StorageLimitBytes: tenantStorageLimit,
		CollectionLimit:   tenantCollLimit,
	}
	if err := validation.NewValidator().ValidateStruct(quota); err != nil {
		return fmt.Errorf("invalid quota: %v", validation.FormatValidationErrors(err))
	}
	if err := rt.tenants.SetQuota(ctx, id, quota); err != nil {
		return err
	}
	fmt.Printf("Quota of tenant %d set to %d documents, %d bytes, %d collections\n", id, quota.DocumentLimit, quota.StorageLimitBytes, quota.CollectionLimit)
	return nil
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(id), nil
}
