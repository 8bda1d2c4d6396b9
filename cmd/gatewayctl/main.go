// Package main implements gatewayctl, the operator CLI for tenants and API keys.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sahilchouksey/search-gateway/config"
	"github.com/sahilchouksey/search-gateway/database"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/utils/cache"
	"github.com/sahilchouksey/search-gateway/utils/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// commandTimeout bounds every store round trip of a single command
	commandTimeout time.Duration
	version        = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gatewayctl",
	Short: "Operator CLI for the search gateway",
	Long: `gatewayctl manages the search gateway's relational store directly.
It runs migrations, provisions tenants and issues or revokes API keys.

Connection settings come from the same environment variables as the server
(DB_DRIVER, DATABASE_URL, DB_HOST, ..., REDIS_URL).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&commandTimeout, "timeout", 30*time.Second, "timeout for the whole command")
}

// runtime is what every subcommand needs: the store and the services built on it
type runtime struct {
	env     *config.EnvironmentVariable
	store   *database.GORMStore
	log     *zap.Logger
	tenants *services.TenantService
	keys    *services.APIKeyService
	redis   *cache.RedisCache
}

func openRuntime() (*runtime, error) {
	if err := config.LoadENV(); err != nil {
		return nil, err
	}
	env, err := config.Get()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(env.GO_ENV)
	if err != nil {
		return nil, err
	}

	store, err := database.StartGORM(env)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	rt := &runtime{
		env:   env,
		store: store,
		log:   log,
		tenants: services.NewTenantService(store.GetDB(), services.TenantDefaults{
			DocumentLimit:     env.DEFAULT_DOCUMENT_LIMIT,
			StorageLimitBytes: env.DEFAULT_STORAGE_LIMIT_BYTES,
			CollectionLimit:   env.DEFAULT_COLLECTION_LIMIT,
		}),
	}

	// Revocations reach running gateways through Redis when it is reachable
	var publisher services.Publisher
	if redisCache, err := cache.NewRedisCache(env.REDIS_URL); err == nil {
		rt.redis = redisCache
		publisher = redisCache
	} else {
		log.Warn("redis unavailable, running gateways will drop revoked keys on cache expiry", zap.Error(err))
	}

	rt.keys = services.NewAPIKeyService(store.GetDB(), services.APIKeyConfig{
		DefaultRateLimit: env.DEFAULT_RATE_LIMIT,
		AdminRateLimit:   env.ADMIN_RATE_LIMIT,
		Window:           env.RATE_LIMIT_WINDOW,
	}, publisher, log)

	return rt, nil
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	_ = rt.store.Close()
	_ = rt.log.Sync()
}

// withRuntime opens the runtime, bounds the command by --timeout and closes everything afterwards
func withRuntime(run func(ctx context.Context, rt *runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()
		return run(ctx, rt, args)
	}
}
