package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sahilchouksey/search-gateway/utils/middleware"
	"github.com/spf13/cobra"
)

func init() {
	guardCmd.AddCommand(guardUnlockCmd)
	rootCmd.AddCommand(guardCmd)
}

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Manage invalid key lockouts",
}

var guardUnlockCmd = &cobra.Command{
	Use:   "unlock <ip>",
	Short: "Lift the lockout of a client address",
	Long: `Clear the invalid key counter and lockout of a client address on every
gateway sharing the same Redis.

Example:
  gatewayctl guard unlock 203.0.113.7`,
	Args: cobra.ExactArgs(1),
	RunE: withRuntime(runGuardUnlock),
}

func runGuardUnlock(ctx context.Context, rt *runtime, args []string) error {
	if net.ParseIP(args[0]) == nil {
		return fmt.Errorf("invalid ip %q", args[0])
	}
	if rt.redis == nil {
		return errors.New("lockouts live in redis, which is unreachable")
	}
	if err := middleware.NewBruteForceGuard(rt.redis, rt.log).Unlock(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Unlocked %s\n", args[0])
	return nil
}
