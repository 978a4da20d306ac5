package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/Tiewasters99/ispy-game/internal/credits/migrations"
)

// Postgres is a ledger on a plain PostgreSQL database. Debits are a
// single conditional UPDATE, so the balance can never go negative.
type Postgres struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewPostgres(ctx context.Context, databaseURL string, logger zerolog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Postgres{pool: pool, log: logger.With().Str("component", "ledger-postgres").Logger()}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

// Migrate brings the schema up to date.
func (p *Postgres) Migrate(ctx context.Context) error {
	return Migrate(ctx, p.pool, p.log)
}

// Migrate applies the embedded migrations through pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Account(ctx context.Context, userID string) (Account, error) {
	var a Account
	var sub *string
	err := p.pool.QueryRow(ctx, `
		SELECT id, credits, is_subscriber, subscription_id, (total_spent * 100)::bigint
		FROM users WHERE id = $1`, userID).
		Scan(&a.UserID, &a.Credits, &a.Subscriber, &sub, &a.TotalSpent)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("account: %w", err)
	}
	if sub != nil {
		a.SubscriptionID = *sub
	}
	return a, nil
}

func (p *Postgres) Debit(ctx context.Context, userID string, cost int) (Balance, error) {
	var left int
	err := p.pool.QueryRow(ctx, `
		UPDATE users SET credits = credits - $2
		WHERE id = $1 AND NOT is_subscriber AND credits >= $2
		RETURNING credits`, userID, cost).Scan(&left)
	if err == nil {
		return Balance{Known: true, Credits: left}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, fmt.Errorf("debit: %w", err)
	}
	// nothing was charged: subscriber, short on credits, or unknown
	a, err := p.Account(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	if a.Subscriber {
		return a.Balance(), nil
	}
	return Balance{}, &InsufficientError{Credits: a.Credits, Required: cost}
}

func (p *Postgres) Grant(ctx context.Context, userID string, credits int, paidCents int64) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE users SET credits = credits + $2, total_spent = total_spent + $3::numeric / 100
		WHERE id = $1`, userID, credits, paidCents)
	if err != nil {
		return fmt.Errorf("grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetSubscriber(ctx context.Context, userID, subscriptionID string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE users SET is_subscriber = TRUE, subscription_id = $2 WHERE id = $1`, userID, subscriptionID)
	if err != nil {
		return fmt.Errorf("set subscriber: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) EndSubscription(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return nil
	}
	_, err := p.pool.Exec(ctx, `
		UPDATE users SET is_subscriber = FALSE, subscription_id = NULL WHERE subscription_id = $1`, subscriptionID)
	if err != nil {
		return fmt.Errorf("end subscription: %w", err)
	}
	return nil
}

// gooseLogger routes migration output through zerolog.
type gooseLogger struct{ l zerolog.Logger }

func (g gooseLogger) Printf(format string, v ...any) { g.l.Info().Msgf(format, v...) }
func (g gooseLogger) Fatalf(format string, v ...any) { g.l.Fatal().Msgf(format, v...) }
