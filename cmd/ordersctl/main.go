package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohamaddakhiliuad/tenantorders/internal/clock"
	"github.com/mohamaddakhiliuad/tenantorders/internal/config"
	"github.com/mohamaddakhiliuad/tenantorders/internal/logger"
	"github.com/mohamaddakhiliuad/tenantorders/internal/storage"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ordersctl",
		Short:         "Operator tooling for the tenant orders service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(customerCmd())
	return root
}

// env is what every subcommand needs: validated config and an open store.
type env struct {
	cfg   config.Config
	store storage.Store
	log   *logger.Logger
	clock clock.Clock
	close func()
}

func openEnv(ctx context.Context) (*env, error) {
	config.LoadDotEnv(logger.NewNop())
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:   cfg,
		store: store,
		log:   log,
		clock: clock.NewSystem(),
		close: func() {
			closeStore()
			log.Sync()
		},
	}, nil
}
