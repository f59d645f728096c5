package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/thriftpay/internal/config"
	"github.com/punchamoorthee/thriftpay/internal/domain"
	"github.com/punchamoorthee/thriftpay/internal/service"
	"github.com/punchamoorthee/thriftpay/internal/store"
	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	var (
		users      int
		balance    string
		registered bool
		payment    string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Bulk load users and accounts for local runs and benchmarks",
		Long: `Seed inserts users across plans A, B and C with one account each, using
COPY for speed. It is a no-op when the users table already holds --users rows.

--pending-payment opens one pending Paystack payment of that naira amount on
the first account and prints its reference, ready for "thriftctl bench".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opening, err := domain.ParseNaira(balance)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := store.Connect(ctx, cfg.DBSource)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := seedUsers(ctx, pool, users, opening, registered); err != nil {
				return err
			}
			if payment == "" {
				return nil
			}
			amount, err := domain.ParseNaira(payment)
			if err != nil {
				return err
			}
			return seedPayment(ctx, store.NewPostgres(pool), pool, amount)
		},
	}

	cmd.Flags().IntVar(&users, "users", 1000, "number of users to create")
	cmd.Flags().StringVar(&balance, "balance", "0", "opening wallet balance in naira")
	cmd.Flags().BoolVar(&registered, "registered", false, "mark seeded users as having paid registration")
	cmd.Flags().StringVar(&payment, "pending-payment", "", "open a pending payment of this naira amount")
	return cmd
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, total int, opening int64, registered bool) error {
	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count >= total {
		log.Printf("Database already has %d users. Skipping.", count)
		return nil
	}

	plans := []domain.Plan{domain.PlanA, domain.PlanB, domain.PlanC}
	batch := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	now := time.Now()

	log.Printf("Generating %d users...", total-count)
	rows := make([][]any, 0, total-count)
	for i := count; i < total; i++ {
		rows = append(rows, []any{
			fmt.Sprintf("Seed User %d", i+1),
			fmt.Sprintf("+234-seed-%s-%06d", batch, i+1),
			string(plans[i%len(plans)]),
			registered,
			now,
		})
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"users"},
		[]string{"full_name", "phone", "plan", "registration_paid", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("bulk insert users failed: %w", err)
	}

	ids, err := usersWithoutAccount(ctx, tx)
	if err != nil {
		return err
	}
	accounts := make([][]any, 0, len(ids))
	for _, id := range ids {
		accounts = append(accounts, []any{id, accountNumber(), opening, now, now})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"accounts"},
		[]string{"user_id", "account_number", "balance", "created_at", "updated_at"},
		pgx.CopyFromRows(accounts),
	); err != nil {
		return fmt.Errorf("bulk insert accounts failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	log.Printf("Successfully seeded %d users and %d accounts.", copied, len(accounts))
	return nil
}

func usersWithoutAccount(ctx context.Context, tx pgx.Tx) ([]int64, error) {
	rows, err := tx.Query(ctx,
		"SELECT u.id FROM users u LEFT JOIN accounts a ON a.user_id = u.id WHERE a.id IS NULL ORDER BY u.id")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// accountNumber derives a ten-digit NUBAN-shaped number from a random UUID.
func accountNumber() string {
	id := uuid.New()
	var n uint64
	for _, b := range id[:8] {
		n = n<<8 | uint64(b)
	}
	return fmt.Sprintf("%010d", n%10_000_000_000)
}

func seedPayment(ctx context.Context, ledger *store.Postgres, pool *pgxpool.Pool, amount int64) error {
	var accountID int64
	if err := pool.QueryRow(ctx, "SELECT id FROM accounts ORDER BY id LIMIT 1").Scan(&accountID); err != nil {
		return fmt.Errorf("find account: %w", err)
	}
	p := &domain.PendingPayment{
		Reference: service.NewReference(),
		AccountID: accountID,
		Provider:  domain.ProviderPaystack,
		Amount:    amount,
		Currency:  domain.CurrencyNGN,
	}
	if err := ledger.CreatePayment(ctx, p); err != nil {
		return err
	}
	fmt.Println(p.Reference)
	return nil
}
