package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/thriftpay/internal/config"
	"github.com/punchamoorthee/thriftpay/internal/gateway"
	"github.com/punchamoorthee/thriftpay/internal/logging"
	"github.com/punchamoorthee/thriftpay/internal/service"
	"github.com/punchamoorthee/thriftpay/internal/store"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "thriftctl",
		Short:        "Operate the thriftpay ledger",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(benchCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := store.Connect(cmd.Context(), cfg.DBSource)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := store.NewPostgres(pool).Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("schema applied")
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	var (
		staleAfter time.Duration
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "reconcile [reference]",
		Short: "Verify one payment, or sweep stale pending payments",
		Long: `Verify asks the payment's gateway for its status and settles the ledger.

With a reference, that payment is verified once. Without one, every payment
pending for longer than --stale-after is re-verified, up to --limit.

Examples:
  thriftctl reconcile TOPUP-3F2A9C01B7D4E655
  thriftctl reconcile --stale-after 30m --limit 500`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Logging)

			fees, err := config.LoadPlans(cfg.PlansFile)
			if err != nil {
				return err
			}
			pool, err := store.Connect(cmd.Context(), cfg.DBSource)
			if err != nil {
				return err
			}
			defer pool.Close()
			ledger := store.NewPostgres(pool)

			registry := gateway.NewRegistry(
				gateway.NewPaystack(cfg.Paystack, nil, cfg.GatewayTimeout),
				gateway.NewALATPay(cfg.ALATPay, nil, cfg.GatewayTimeout),
			)
			rec := service.NewReconciler(ledger, registry, fees, logger, cfg.GatewayTimeout)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			if len(args) == 0 {
				rep, err := rec.Sweep(cmd.Context(), ledger, staleAfter, limit)
				if err != nil {
					return err
				}
				return enc.Encode(rep)
			}

			out, err := rec.Verify(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, service.ErrUnknownPayment) {
					return fmt.Errorf("no payment with reference %s", args[0])
				}
				return err
			}
			if err := enc.Encode(out); err != nil {
				return err
			}
			return service.OutcomeErr(out)
		},
	}

	cmd.Flags().DurationVar(&staleAfter, "stale-after", 15*time.Minute, "sweep payments pending for longer than this")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum payments per sweep")
	return cmd
}
