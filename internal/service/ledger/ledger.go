// Package ledger records balance movements and answers history queries.
//
// A movement is verify, read, validate, write balance, append record. The balance lives in
// a remote authority and the record in a local store, with no transaction spanning both.
// If the append fails after the balance write succeeded the caller gets ErrLedgerWriteFailed
// and the case is handed to the Reconciler; the balance write is never rolled back.
//
// Without a Locker two concurrent debits for one user can read the same balance and both
// commit, overdrawing the account. Options.Locker and Options.CompareAndSwap close that gap.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IlyasAtabaev731/movement-ledger/internal/auth"
	"github.com/IlyasAtabaev731/movement-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/movement-ledger/internal/lease"
	"github.com/shopspring/decimal"
)

type BalanceAuthority interface {
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	UpdateBalance(ctx context.Context, userID string, newAmount decimal.Decimal, expected *decimal.Decimal) error
}

type Store interface {
	Append(ctx context.Context, tx *models.Transaction) error
	Query(ctx context.Context, userID string, start, end time.Time) ([]models.Transaction, error)
}

// Publisher announces recorded movements. Failures are logged, never returned to the caller.
type Publisher interface {
	PublishMovement(ctx context.Context, tx models.Transaction) error
}

// Reconciler keeps movements whose balance change was applied but whose record was lost.
type Reconciler interface {
	Record(ctx context.Context, tx models.Transaction, previous, next decimal.Decimal, cause error) error
}

const defaultAppendTimeout = 5 * time.Second

type Options struct {
	// AppendTimeout bounds the ledger append, which is detached from the caller's context.
	AppendTimeout time.Duration
	// CompareAndSwap sends the balance that was read along with the new one.
	CompareAndSwap bool
	// Locker, when set, serializes movements per user from the balance read until the balance
	// write returns. Its leases must outlive two balance authority round trips.
	Locker     lease.Locker
	Publisher  Publisher
	Reconciler Reconciler
}

type Service struct {
	log      *slog.Logger
	verifier auth.Verifier
	balances BalanceAuthority
	store    Store
	opts     Options
}

func New(log *slog.Logger, verifier auth.Verifier, balances BalanceAuthority, store Store, opts Options) *Service {
	if opts.AppendTimeout <= 0 {
		opts.AppendTimeout = defaultAppendTimeout
	}
	return &Service{
		log:      log,
		verifier: verifier,
		balances: balances,
		store:    store,
		opts:     opts,
	}
}

// RecordMovement applies amount to the caller's balance and appends the matching record.
// Errors are *MovementError values wrapping one of the package sentinels.
func (s *Service) RecordMovement(ctx context.Context, token string, amount decimal.Decimal, kind string) (*models.Transaction, error) {
	const op = "ledger.RecordMovement"

	identity, err := s.authenticate(ctx, token)
	if err != nil {
		return nil, fail(StageStart, err)
	}
	log := s.log.With(slog.String("op", op), slog.String("user_id", identity.UserID))

	k, ok := models.ParseKind(kind)
	if !ok {
		return nil, fail(StageAuthenticated, fmt.Errorf("%w: %q", ErrInvalidTransactionKind, kind))
	}
	if !amount.IsPositive() {
		return nil, fail(StageAuthenticated, fmt.Errorf("%w: %s", ErrInvalidAmount, amount.String()))
	}
	if !amount.Equal(amount.Truncate(models.AmountScale)) {
		return nil, fail(StageAuthenticated, fmt.Errorf("%w: %s has more than %d decimal places",
			ErrInvalidAmount, amount.String(), models.AmountScale))
	}

	release := func() {}
	if s.opts.Locker != nil {
		release, err = s.opts.Locker.Acquire(ctx, identity.UserID)
		if err != nil {
			log.Error("Failed to acquire user lease", "error", err)
			return nil, fail(StageAuthenticated, fmt.Errorf("%w: %w", ErrBalanceUnavailable, err))
		}
	}
	defer release()

	current, err := s.balances.GetBalance(ctx, identity.UserID)
	if err != nil {
		log.Warn("Failed to read balance", "error", err)
		return nil, fail(StageAuthenticated, fmt.Errorf("%w: %w", ErrBalanceUnavailable, err))
	}

	candidate := k.Apply(current, amount)
	if k == models.KindDebit && candidate.IsNegative() {
		return nil, fail(StageBalanceRead, &InsufficientFundsError{Balance: current, Amount: amount})
	}

	var expected *decimal.Decimal
	if s.opts.CompareAndSwap {
		expected = &current
	}
	err = s.balances.UpdateBalance(ctx, identity.UserID, candidate, expected)
	// the lease only guards read-validate-write; append and publish run without it
	release()
	if err != nil {
		log.Warn("Failed to update balance", "error", err)
		return nil, fail(StageValidated, fmt.Errorf("%w: %w", ErrBalanceUpdateFailed, err))
	}

	tx := models.NewTransaction(identity.UserID, amount, k)
	if err := s.append(ctx, tx); err != nil {
		log.Error("Balance changed but ledger append failed",
			slog.Bool("reconcile", true),
			slog.String("transaction_id", tx.ID.String()),
			slog.String("kind", string(k)),
			slog.String("amount", amount.String()),
			slog.String("previous_balance", current.String()),
			slog.String("new_balance", candidate.String()),
			slog.String("error", err.Error()),
		)
		s.reconcile(ctx, *tx, current, candidate, err)
		return nil, fail(StageBalanceCommitted, fmt.Errorf("%w: %w", ErrLedgerWriteFailed, err))
	}

	log.Info("Movement recorded",
		slog.String("transaction_id", tx.ID.String()),
		slog.String("kind", string(k)),
		slog.String("amount", amount.String()),
	)
	s.publish(ctx, *tx)

	return tx, nil
}

// ListMovements returns the caller's records with start <= created_at <= end, oldest first.
func (s *Service) ListMovements(ctx context.Context, token string, start, end time.Time) ([]models.Transaction, error) {
	const op = "ledger.ListMovements"

	identity, err := s.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	transactions, err := s.store.Query(ctx, identity.UserID, start, end)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return transactions, nil
}

// Authenticate resolves token to the caller's identity. Failures wrap ErrAuthenticationFailed
// or ErrVerifierUnavailable.
func (s *Service) Authenticate(ctx context.Context, token string) (models.Identity, error) {
	return s.authenticate(ctx, token)
}

func (s *Service) authenticate(ctx context.Context, token string) (models.Identity, error) {
	identity, err := s.verifier.Verify(ctx, token)
	switch {
	case err == nil:
		return identity, nil
	case errors.Is(err, auth.ErrInvalidToken):
		return models.Identity{}, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	case errors.Is(err, auth.ErrVerifierUnavailable):
		return models.Identity{}, fmt.Errorf("%w: %w", ErrVerifierUnavailable, err)
	default:
		return models.Identity{}, err
	}
}

// append survives caller cancellation so a committed balance change still gets its record.
func (s *Service) append(ctx context.Context, tx *models.Transaction) error {
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.AppendTimeout)
	defer cancel()
	return s.store.Append(appendCtx, tx)
}

func (s *Service) reconcile(ctx context.Context, tx models.Transaction, previous, next decimal.Decimal, cause error) {
	if s.opts.Reconciler == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.AppendTimeout)
	defer cancel()
	if err := s.opts.Reconciler.Record(recordCtx, tx, previous, next, cause); err != nil {
		s.log.Error("Failed to journal unreconciled movement",
			slog.Bool("reconcile", true),
			slog.String("transaction_id", tx.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) publish(ctx context.Context, tx models.Transaction) {
	if s.opts.Publisher == nil {
		return
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.AppendTimeout)
	defer cancel()
	if err := s.opts.Publisher.PublishMovement(publishCtx, tx); err != nil {
		s.log.Warn("Failed to publish movement", slog.String("transaction_id", tx.ID.String()), "error", err)
	}
}
