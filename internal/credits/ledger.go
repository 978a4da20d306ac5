package credits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned for unknown user ids.
	ErrNotFound = errors.New("credits: user not found")
	// ErrInsufficient is returned when a debit exceeds the balance.
	ErrInsufficient = errors.New("credits: insufficient credits")
)

const (
	// RoundStartCost is charged for calls that produce a new clue.
	RoundStartCost = 10
	// FollowUpCost is charged for every other call.
	FollowUpCost = 3
	// StarterPack is granted by the starter purchase.
	StarterPack = 1000
)

// Account is a user's standing with the ledger.
type Account struct {
	UserID         string
	Credits        int
	Subscriber     bool
	SubscriptionID string
	TotalSpent     int64
}

// Balance returns what a client is told about the account.
func (a Account) Balance() Balance {
	if a.Subscriber {
		return Balance{Known: true, Unlimited: true}
	}
	return Balance{Known: true, Credits: a.Credits}
}

// Ledger reads and debits credit balances.
type Ledger interface {
	Account(ctx context.Context, userID string) (Account, error)
	// Debit charges cost unless the user is a subscriber and returns the
	// balance afterwards.
	Debit(ctx context.Context, userID string, cost int) (Balance, error)
	// Grant adds purchased credits and records the amount paid in cents.
	Grant(ctx context.Context, userID string, credits int, paidCents int64) error
	SetSubscriber(ctx context.Context, userID, subscriptionID string) error
	// EndSubscription clears the subscriber flag of whoever holds
	// subscriptionID.
	EndSubscription(ctx context.Context, subscriptionID string) error
}

// InsufficientError carries the numbers behind ErrInsufficient.
type InsufficientError struct {
	Credits  int
	Required int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("credits: insufficient credits (have %d, need %d)", e.Credits, e.Required)
}

func (e *InsufficientError) Is(target error) bool { return target == ErrInsufficient }

// Balance is the remaining credit count as reported to clients. On the
// wire it is a number, the string "unlimited", or null when unknown.
type Balance struct {
	Known     bool
	Unlimited bool
	Credits   int
}

func (b Balance) String() string {
	switch {
	case !b.Known:
		return "unknown"
	case b.Unlimited:
		return "unlimited"
	}
	return fmt.Sprintf("%d", b.Credits)
}

func (b Balance) MarshalJSON() ([]byte, error) {
	switch {
	case !b.Known:
		return []byte("null"), nil
	case b.Unlimited:
		return []byte(`"unlimited"`), nil
	}
	return json.Marshal(b.Credits)
}

func (b *Balance) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = Balance{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.EqualFold(s, "unlimited") {
			*b = Balance{Known: true, Unlimited: true}
			return nil
		}
		var n int
		if _, err := fmt.Sscan(s, &n); err != nil {
			return fmt.Errorf("credits: bad balance %q", s)
		}
		*b = Balance{Known: true, Credits: n}
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("credits: bad balance %s", string(data))
	}
	*b = Balance{Known: true, Credits: int(n)}
	return nil
}

// CostFor prices a game master call: starting a round costs more than
// a follow-up.
func CostFor(phase, currentAnswer, utterance string) int {
	if phase == "playing" && (strings.TrimSpace(currentAnswer) == "" ||
		utterance == "[Start next round]" || utterance == "[Game session started]") {
		return RoundStartCost
	}
	return FollowUpCost
}
