package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrVerifierUnavailable    = errors.New("identity service unavailable")
	ErrInvalidTransactionKind = errors.New("invalid transaction kind")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInvalidRange           = errors.New("start is after end")
	ErrBalanceUnavailable     = errors.New("balance unavailable")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrBalanceUpdateFailed    = errors.New("balance update failed")
	// ErrLedgerWriteFailed means the balance was changed but no record was written.
	// Such movements need manual reconciliation.
	ErrLedgerWriteFailed = errors.New("ledger write failed")
)

// Stage is the last step of a movement that completed.
type Stage string

const (
	StageStart            Stage = "start"
	StageAuthenticated    Stage = "authenticated"
	StageBalanceRead      Stage = "balance_read"
	StageValidated        Stage = "validated"
	StageBalanceCommitted Stage = "balance_committed"
	StageLedgerAppended   Stage = "ledger_appended"
)

// MovementError carries the stage a failed movement reached.
type MovementError struct {
	Stage Stage
	Err   error
}

func (e *MovementError) Error() string {
	return fmt.Sprintf("movement failed after %s: %s", e.Stage, e.Err)
}

func (e *MovementError) Unwrap() error {
	return e.Err
}

// InsufficientFundsError reports the balance a debit was checked against.
type InsufficientFundsError struct {
	Balance decimal.Decimal
	Amount  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %s, requested %s", e.Balance.String(), e.Amount.String())
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

func fail(stage Stage, err error) error {
	return &MovementError{Stage: stage, Err: err}
}
