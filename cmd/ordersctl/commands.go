package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohamaddakhiliuad/tenantorders/internal/app"
	"github.com/mohamaddakhiliuad/tenantorders/internal/idempotency"
	"github.com/mohamaddakhiliuad/tenantorders/internal/tenancy"
	"github.com/mohamaddakhiliuad/tenantorders/internal/uow"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", e.cfg.StoreDriver)
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired idempotency records once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			sweeper := idempotency.NewSweeper(e.store, e.clock, e.cfg.IdempotencySweepInterval, idempotency.WithLogger(e.log))
			n, err := sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired idempotency records\n", n)
			return nil
		},
	}
}

func customerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Manage customers",
	}

	var tenantID, name string
	create := &cobra.Command{
		Use:     "create",
		Short:   "Create a customer in a tenant",
		Example: `  ordersctl customer create --tenant acme --name "Ada Lovelace"`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			uows := uow.NewFactory(e.store, tenancy.NewPolicy(nil), e.clock, uow.WithLogger(e.log))
			c, err := app.NewCustomerService(uows).CreateCustomer(cmd.Context(), tenantID, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created customer %d (%s) in tenant %s\n", c.ID, c.Name, tenantID)
			return nil
		},
	}
	create.Flags().StringVar(&tenantID, "tenant", "", "tenant id (required)")
	create.Flags().StringVar(&name, "name", "", "customer name (required)")
	_ = create.MarkFlagRequired("tenant")
	_ = create.MarkFlagRequired("name")

	cmd.AddCommand(create)
	return cmd
}
