package credits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/supabase-community/supabase-go"
)

const usersTable = "users"

type userRow struct {
	ID             string  `json:"id"`
	Credits        int     `json:"credits"`
	IsSubscriber   bool    `json:"is_subscriber"`
	SubscriptionID *string `json:"subscription_id"`
	// TotalSpent is in dollars.
	TotalSpent float64 `json:"total_spent"`
}

func (r userRow) account() Account {
	a := Account{
		UserID:     r.ID,
		Credits:    r.Credits,
		Subscriber: r.IsSubscriber,
		TotalSpent: int64(math.Round(r.TotalSpent * 100)),
	}
	if r.SubscriptionID != nil {
		a.SubscriptionID = *r.SubscriptionID
	}
	return a
}

// Supabase keeps balances in the users table behind PostgREST. Balance
// changes are compare-and-set on the previous value and retried on
// conflict, so concurrent debits never lose an update.
type Supabase struct {
	client *supabase.Client
	log    zerolog.Logger
	// MaxRetries bounds compare-and-set attempts.
	MaxRetries uint64
}

func NewSupabase(url, serviceKey string, logger zerolog.Logger) (*Supabase, error) {
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return &Supabase{
		client:     client,
		log:        logger.With().Str("component", "ledger-supabase").Logger(),
		MaxRetries: 4,
	}, nil
}

func (s *Supabase) Account(ctx context.Context, userID string) (Account, error) {
	row, err := s.fetch(ctx, userID)
	if err != nil {
		return Account{}, err
	}
	return row.account(), nil
}

func (s *Supabase) Debit(ctx context.Context, userID string, cost int) (Balance, error) {
	var out Balance
	err := s.retry(ctx, func(ctx context.Context) error {
		row, err := s.fetch(ctx, userID)
		if err != nil {
			return err
		}
		if row.IsSubscriber {
			out = row.account().Balance()
			return nil
		}
		if row.Credits < cost {
			return &InsufficientError{Credits: row.Credits, Required: cost}
		}
		next := row.Credits - cost
		if err := s.swap(userID, row.Credits, map[string]any{"credits": next}); err != nil {
			return err
		}
		out = Balance{Known: true, Credits: next}
		return nil
	})
	return out, err
}

func (s *Supabase) Grant(ctx context.Context, userID string, credits int, paidCents int64) error {
	return s.retry(ctx, func(ctx context.Context) error {
		row, err := s.fetch(ctx, userID)
		if err != nil {
			return err
		}
		return s.swap(userID, row.Credits, map[string]any{
			"credits":     row.Credits + credits,
			"total_spent": row.TotalSpent + float64(paidCents)/100,
		})
	})
}

func (s *Supabase) SetSubscriber(ctx context.Context, userID, subscriptionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, _, err := s.client.From(usersTable).
		Update(map[string]any{"is_subscriber": true, "subscription_id": subscriptionID}, "representation", "").
		Eq("id", userID).
		Execute()
	if err != nil {
		return fmt.Errorf("set subscriber: %w", err)
	}
	var rows []userRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("set subscriber: %w", err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Supabase) EndSubscription(ctx context.Context, subscriptionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if subscriptionID == "" {
		return nil
	}
	_, _, err := s.client.From(usersTable).
		Update(map[string]any{"is_subscriber": false, "subscription_id": nil}, "minimal", "").
		Eq("subscription_id", subscriptionID).
		Execute()
	if err != nil {
		return fmt.Errorf("end subscription: %w", err)
	}
	return nil
}

func (s *Supabase) fetch(ctx context.Context, userID string) (userRow, error) {
	if err := ctx.Err(); err != nil {
		return userRow{}, err
	}
	if userID == "" {
		return userRow{}, ErrNotFound
	}
	var rows []userRow
	if _, err := s.client.From(usersTable).
		Select("id,credits,is_subscriber,subscription_id,total_spent", "", false).
		Eq("id", userID).
		ExecuteTo(&rows); err != nil {
		return userRow{}, fmt.Errorf("fetch user: %w", err)
	}
	if len(rows) == 0 {
		return userRow{}, ErrNotFound
	}
	return rows[0], nil
}

var errConflict = errors.New("credits: balance changed concurrently")

// swap applies patch only if the balance still equals prev.
func (s *Supabase) swap(userID string, prev int, patch map[string]any) error {
	data, _, err := s.client.From(usersTable).
		Update(patch, "representation", "").
		Eq("id", userID).
		Eq("credits", strconv.Itoa(prev)).
		Execute()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	var rows []userRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if len(rows) == 0 {
		s.log.Debug().Str("user", userID).Msg("balance conflict, retrying")
		return retry.RetryableError(errConflict)
	}
	return nil
}

func (s *Supabase) retry(ctx context.Context, f retry.RetryFunc) error {
	b := retry.NewExponential(25 * time.Millisecond)
	b = retry.WithJitter(10*time.Millisecond, b)
	b = retry.WithMaxRetries(s.MaxRetries, b)
	return retry.Do(ctx, b, f)
}
