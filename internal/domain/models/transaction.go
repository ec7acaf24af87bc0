package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind is the direction of a movement against a user balance.
type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

// AmountScale is the number of decimal places a movement amount may carry. The ledger
// column is NUMERIC(20,4), so anything finer would be rounded on append.
const AmountScale = 4

// ParseKind returns the Kind named by s, or false if s is not a known kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindCredit:
		return KindCredit, true
	case KindDebit:
		return KindDebit, true
	}
	return "", false
}

// Apply returns the balance that results from applying a movement of amount to current.
func (k Kind) Apply(current, amount decimal.Decimal) decimal.Decimal {
	if k == KindDebit {
		return current.Sub(amount)
	}
	return current.Add(amount)
}

// Transaction is an immutable ledger record. CreatedAt is assigned by the store on append.
type Transaction struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Kind      Kind            `json:"type" db:"kind"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

func NewTransaction(userID string, amount decimal.Decimal, kind Kind) *Transaction {
	return &Transaction{
		ID:     uuid.New(),
		UserID: userID,
		Amount: amount,
		Kind:   kind,
	}
}
