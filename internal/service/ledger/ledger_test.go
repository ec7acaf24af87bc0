package ledger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/IlyasAtabaev731/movement-ledger/internal/auth"
	"github.com/IlyasAtabaev731/movement-ledger/internal/balance"
	"github.com/IlyasAtabaev731/movement-ledger/internal/balance/balancetest"
	"github.com/IlyasAtabaev731/movement-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/movement-ledger/internal/lease"
	"github.com/IlyasAtabaev731/movement-ledger/internal/lib/jwt"
	"github.com/IlyasAtabaev731/movement-ledger/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var _ BalanceAuthority = (*balance.Client)(nil)

// ===== Mocks =====

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Append(ctx context.Context, tx *models.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockStore) Query(ctx context.Context, userID string, start, end time.Time) ([]models.Transaction, error) {
	args := m.Called(ctx, userID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, token string) (models.Identity, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(models.Identity), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishMovement(ctx context.Context, tx models.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Record(ctx context.Context, tx models.Transaction, previous, next decimal.Decimal, cause error) error {
	args := m.Called(ctx, tx, previous, next, cause)
	return args.Error(0)
}

// ===== Helpers =====

type fixture struct {
	authority *balancetest.Authority
	store     *memory.Storage
	service   *Service
	logs      *bytes.Buffer
}

func newFixture(t *testing.T, balances map[string]string, opts Options) *fixture {
	t.Helper()

	initial := make(map[string]decimal.Decimal, len(balances))
	for user, amount := range balances {
		initial[user] = decimal.RequireFromString(amount)
	}
	authority := balancetest.NewAuthority(initial)
	t.Cleanup(authority.Close)

	store, err := memory.New(nil)
	require.NoError(t, err)

	logs := &bytes.Buffer{}
	log := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	service := New(log, auth.NewJWTVerifier(testSecret), balance.New(authority.URL, "", 2*time.Second), store, opts)
	return &fixture{authority: authority, store: store, service: service, logs: logs}
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewToken(models.Identity{UserID: userID, Username: userID}, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decEq(want string) interface{} {
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(dec(want)) })
}

func balanceOf(t *testing.T, a *balancetest.Authority, userID string) decimal.Decimal {
	t.Helper()
	b, ok := a.Balance(userID)
	require.True(t, ok)
	return b
}

func listAll(t *testing.T, s *Service, token string) []models.Transaction {
	t.Helper()
	txs, err := s.ListMovements(context.Background(), token, time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	return txs
}

func stageOf(t *testing.T, err error) Stage {
	t.Helper()
	var me *MovementError
	require.ErrorAs(t, err, &me)
	return me.Stage
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// readBarrier holds balance reads until n of them are in flight, so concurrent movements
// observe the same balance. It gives up after a short wait when fewer readers show up.
func readBarrier(n int) func(string) {
	var mu sync.Mutex
	arrived := 0
	all := make(chan struct{})
	return func(string) {
		mu.Lock()
		arrived++
		if arrived == n {
			close(all)
		}
		mu.Unlock()

		select {
		case <-all:
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// ===== RecordMovement =====

func TestRecordMovementCredit(t *testing.T) {
	f := newFixture(t, map[string]string{"u-1": "100"}, Options{})
	token := tokenFor(t, "u-1")

	before := time.Now().UTC()
	tx, err := f.service.RecordMovement(context.Background(), token, dec("25.50"), "credit")
	require.NoError(t, err)

	assert.Equal(t, "u-1", tx.UserID)
	assert.Equal(t, models.KindCredit, tx.Kind)
	assert.True(t, tx.Amount.Equal(dec("25.5")))
	assert.False(t, tx.CreatedAt.Before(before.Add(-time.Second)))
	assert.True(t, balanceOf(t, f.authority, "u-1").Equal(dec("125.5")))

	got, err := f.service.ListMovements(context.Background(), token, tx.CreatedAt, tx.CreatedAt)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tx.ID, got[0].ID)
	assert.Equal(t, models.KindCredit, got[0].Kind)
}

func TestRecordMovementWorkedScenario(t *testing.T) {
	f := newFixture(t, map[string]string{"U": "100"}, Options{})
	token := tokenFor(t, "U")

	_, err := f.service.RecordMovement(context.Background(), token, dec("40"), "debit")
	require.NoError(t, err)
	assert.True(t, balanceOf(t, f.authority, "U").Equal(dec("60")))
	require.Len(t, listAll(t, f.service, token), 1)

	_, err = f.service.RecordMovement(context.Background(), token, dec("40"), "debit")
	require.NoError(t, err)
	assert.True(t, balanceOf(t, f.authority, "U").Equal(dec("20")))

	_, err = f.service.RecordMovement(context.Background(), token, dec("1000"), "debit")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Balance.Equal(dec("20")))
	assert.Contains(t, err.Error(), "balance 20")
	assert.Equal(t, StageBalanceRead, stageOf(t, err))

	assert.True(t, balanceOf(t, f.authority, "U").Equal(dec("20")))
	records := listAll(t, f.service, token)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "U", r.UserID)
		assert.Equal(t, models.KindDebit, r.Kind)
		assert.True(t, r.Amount.Equal(dec("40")))
	}
}

func TestRecordMovementDebitToZero(t *testing.T) {
	f := newFixture(t, map[string]string{"u-1": "40"}, Options{})

	_, err := f.service.RecordMovement(context.Background(), tokenFor(t, "u-1"), dec("40"), "debit")
	require.NoError(t, err)
	assert.True(t, balanceOf(t, f.authority, "u-1").IsZero())
}

func TestRecordMovementInsufficientFundsDoesNotAppend(t *testing.T) {
	authority := balancetest.NewAuthority(map[string]decimal.Decimal{"u-1": dec("10")})
	defer authority.Close()

	store := new(MockStore)
	s := New(quietLogger(), auth.NewJWTVerifier(testSecret), balance.New(authority.URL, "", time.Second), store, Options{})

	_, err := s.RecordMovement(context.Background(), tokenFor(t, "u-1"), dec("10.01"), "debit")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	store.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	assert.Equal(t, 0, authority.Updates())
}

func TestRecordMovementInvalidToken(t *testing.T) {
	f := newFixture(t, map[string]string{"u-1": "100"}, Options{})

	expired, err := jwt.NewToken(models.Identity{UserID: "u-1"}, testSecret, -time.Minute)
	require.NoError(t, err)
	forged, err := jwt.NewToken(models.Identity{UserID: "u-1"}, "other-secret", time.Hour)
	require.NoError(t, err)

	for name, token := range map[string]string{"empty": "", "garbage": "not-a-jwt", "expired": expired, "forged": forged} {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.RecordMovement(context.Background(), token, dec("1"), "credit")
			assert.ErrorIs(t, err, ErrAuthenticationFailed)
			assert.Equal(t, StageStart, stageOf(t, err))

			_, err = f.service.ListMovements(context.Background(), token, time.Time{}, time.Now())
			assert.ErrorIs(t, err, ErrAuthenticationFailed)
		})
	}

	assert.Equal(t, 0, f.authority.Updates())
	assert.Empty(t, listAll(t, f.service, tokenFor(t, "u-1")))
}

func TestRecordMovementInvalidInput(t *testing.T) {
	f := newFixture(t, map[string]string{"u-1": "100"}, Options{})
	token := tokenFor(t, "u-1")

	_, err := f.service.RecordMovement(context.Background(), token, dec("1"), "refund")
	assert.ErrorIs(t, err, ErrInvalidTransactionKind)
	assert.Equal(t, StageAuthenticated, stageOf(t, err))

	_, err = f.service.RecordMovement(context.Background(), token, dec("0"), "credit")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.service.RecordMovement(context.Background(), token, dec("-5"), "debit")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	assert.Equal(t, 0, f.authority.Updates())
	assert.Empty(t, listAll(t, f.service, token))
}

func TestRecordMovementRejectsAmountFinerThanLedgerScale(t *testing.T) {
	f := newFixture(t, map[string]string{"u-1": "100"}, Options{})
	token := tokenFor(t, "u-1")

	for _, amount := range []string{"0.00001", "40.00005"} {
		_, err := f.service.RecordMovement(context.Background(), token, dec(amount), "debit")
		assert.ErrorIs(t, err, ErrInvalidAmount, amount)
		assert.Equal(t, StageAuthenticated, stageOf(t, err))
	}
	assert.Equal(t, 0, f.authority.Updates())
	assert.True(t, balanceOf(t, f.authority, "u-1").Equal(dec("100")))
	assert.Empty(t, listAll(t, f.service, token))

	// trailing zeros do not count against the scale
	for _, amount := range []string{"40.0001", "1.10000"} {
		tx, err := f.service.RecordMovement(context.Background(), token, dec(amount), "debit")
		require.NoError(t, err, amount)
		assert.True(t, tx.Amount.Equal(dec(amount)))
	}
	assert.True(t, balanceOf(t, f.authority, "u-1").Equal(dec("58.8999")))
	assert.Equal(t, 2, f.authority.Updates())
}

func TestRecordMovementBalanceUnavailable(t *testing.T) {
	f := newFixture(t, map[string]string{"u-1": "100"}, Options{})

	_, err := f.service.RecordMovement(context.Background(), tokenFor(t, "ghost"), dec("1"), "credit")
	assert.ErrorIs(t, err, ErrBalanceUnavailable)
	assert.ErrorIs(t, err, balance.ErrNotFound)
	assert.Equal(t, StageAuthenticated, stageOf(t, err))

	f.authority.FailGet = http.StatusBadGateway
	_, err = f.service.RecordMovement(context.Background(), tokenFor(t, "u-1"), dec("1"), "credit")
	assert.ErrorIs(t, err, ErrBalanceUnavailable)
	assert.ErrorIs(t, err, balance.ErrUnavailable)

	assert.Equal(t, 0, f.authority.Updates())
}

func TestRecordMovementBalanceUpdateFailed(t *testing.T) {
	for name, status := range map[string]int{"rejected": http.StatusConflict, "unavailable": http.StatusServiceUnavailable} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, map[string]string{"u-1": "100"}, Options{})
			f.authority.FailUpdate = status
			token := tokenFor(t, "u-1")

			_, err := f.service.RecordMovement(context.Background(), token, dec("10"), "debit")
			assert.ErrorIs(t, err, ErrBalanceUpdateFailed)
			assert.Equal(t, StageValidated, stageOf(t, err))
			assert.True(t, balanceOf(t, f.authority, "u-1").Equal(dec("100")))
			assert.Empty(t, listAll(t, f.service, token))
		})
	}
}

func TestRecordMovementLedgerWriteFailed(t *testing.T) {
	authority := balancetest.NewAuthority(map[string]decimal.Decimal{"u-1": dec("100")})
	defer authority.Close()

	store := new(MockStore)
	store.On("Append", mock.Anything, mock.AnythingOfType("*models.Transaction")).Return(errors.New("disk full"))

	reconciler := new(MockReconciler)
	reconciler.On("Record", mock.Anything,
		mock.MatchedBy(func(tx models.Transaction) bool { return tx.UserID == "u-1" && tx.Kind == models.KindDebit }),
		decEq("100"), decEq("60"), mock.Anything,
	).Return(nil)

	publisher := new(MockPublisher)

	logs := &bytes.Buffer{}
	s := New(slog.New(slog.NewJSONHandler(logs, nil)), auth.NewJWTVerifier(testSecret),
		balance.New(authority.URL, "", time.Second), store,
		Options{Reconciler: reconciler, Publisher: publisher})

	tx, err := s.RecordMovement(context.Background(), tokenFor(t, "u-1"), dec("40"), "debit")
	assert.Nil(t, tx)
	require.ErrorIs(t, err, ErrLedgerWriteFailed)
	assert.NotErrorIs(t, err, ErrBalanceUpdateFailed)
	assert.Equal(t, StageBalanceCommitted, stageOf(t, err))

	// the balance change stands
	b, _ := authority.Balance("u-1")
	assert.True(t, b.Equal(dec("60")))

	assert.Contains(t, logs.String(), `"reconcile":true`)
	reconciler.AssertExpectations(t)
	publisher.AssertNotCalled(t, "PublishMovement", mock.Anything, mock.Anything)
}

func TestRecordMovementReconcilerFailureIsLogged(t *testing.T) {
	authority := balancetest.NewAuthority(map[string]decimal.Decimal{"u-1": dec("100")})
	defer authority.Close()

	store := new(MockStore)
	store.On("Append", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	reconciler := new(MockReconciler)
	reconciler.On("Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("mongo down"))

	logs := &bytes.Buffer{}
	s := New(slog.New(slog.NewJSONHandler(logs, nil)), auth.NewJWTVerifier(testSecret),
		balance.New(authority.URL, "", time.Second), store, Options{Reconciler: reconciler})

	_, err := s.RecordMovement(context.Background(), tokenFor(t, "u-1"), dec("1"), "credit")
	require.ErrorIs(t, err, ErrLedgerWriteFailed)
	assert.Contains(t, logs.String(), "mongo down")
}

// cancelOnUpdate cancels the caller's context right after the balance write lands.
type cancelOnUpdate struct {
	BalanceAuthority
	cancel context.CancelFunc
}

func (c cancelOnUpdate) UpdateBalance(ctx context.Context, userID string, newAmount decimal.Decimal, expected *decimal.Decimal) error {
	err := c.BalanceAuthority.UpdateBalance(ctx, userID, newAmount, expected)
	c.cancel()
	return err
}

func TestRecordMovementAppendSurvivesCancellation(t *testing.T) {
	authority := balancetest.NewAuthority(map[string]decimal.Decimal{"u-1": dec("100")})
	defer authority.Close()
	store, err := memory.New(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := cancelOnUpdate{BalanceAuthority: balance.New(authority.URL, "", time.Second), cancel: cancel}
	s := New(quietLogger(), auth.NewJWTVerifier(testSecret), client, store, Options{AppendTimeout: time.Second})

	tx, err := s.RecordMovement(ctx, tokenFor(t, "u-1"), dec("5"), "credit")
	require.NoError(t, err)
	assert.Error(t, ctx.Err())

	got := listAll(t, s, tokenFor(t, "u-1"))
	require.Len(t, got, 1)
	assert.Equal(t, tx.ID, got[0].ID)
}

func TestRecordMovementAppendContextHasDeadline(t *testing.T) {
	authority := balancetest.NewAuthority(map[string]decimal.Decimal{"u-1": dec("100")})
	defer authority.Close()

	store := new(MockStore)
	store.On("Append", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), mock.Anything).Return(nil)

	s := New(quietLogger(), auth.NewJWTVerifier(testSecret), balance.New(authority.URL, "", time.Second), store, Options{})
	_, err := s.RecordMovement(context.Background(), tokenFor(t, "u-1"), dec("1"), "credit")
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestRecordMovementPublishes(t *testing.T) {
	publisher := new(MockPublisher)
	publisher.On("PublishMovement", mock.Anything, mock.MatchedBy(func(tx models.Transaction) bool {
		return tx.UserID == "u-1" && tx.Amount.Equal(dec("3")) && !tx.CreatedAt.IsZero()
	})).Return(errors.New("broker gone"))

	f := newFixture(t, map[string]string{"u-1": "100"}, Options{Publisher: publisher})

	// a failed publish does not fail the movement
	_, err := f.service.RecordMovement(context.Background(), tokenFor(t, "u-1"), dec("3"), "credit")
	require.NoError(t, err)
	publisher.AssertExpectations(t)
	assert.Contains(t, f.logs.String(), "broker gone")
}

func TestRecordMovementVerifierUnavailable(t *testing.T) {
	verifier := new(MockVerifier)
	verifier.On("Verify", mock.Anything, "tok").Return(models.Identity{}, auth.ErrVerifierUnavailable)
	store := new(MockStore)

	s := New(quietLogger(), verifier, nil, store, Options{})
	_, err := s.RecordMovement(context.Background(), "tok", dec("1"), "credit")
	assert.ErrorIs(t, err, ErrVerifierUnavailable)
	assert.NotErrorIs(t, err, ErrAuthenticationFailed)

	_, err = s.ListMovements(context.Background(), "tok", time.Time{}, time.Now())
	assert.ErrorIs(t, err, ErrVerifierUnavailable)
	store.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// ===== Concurrency =====

func debitConcurrently(t *testing.T, s *Service, token string, amount string, n int) []error {
	t.Helper()
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.RecordMovement(context.Background(), token, dec(amount), "debit")
		}(i)
	}
	wg.Wait()
	return errs
}

// Without a lease both debits pass validation against the same balance.
func TestConcurrentDebitsOverdraftWithoutLease(t *testing.T) {
	f := newFixture(t, map[string]string{"u-1": "100"}, Options{})
	f.authority.BeforeRead = readBarrier(2)
	token := tokenFor(t, "u-1")

	errs := debitConcurrently(t, f.service, token, "80", 2)
	for _, err := range errs {
		require.NoError(t, err)
	}

	// 160 was debited from 100 while the authority only holds the last write
	assert.True(t, balanceOf(t, f.authority, "u-1").Equal(dec("20")))
	assert.Len(t, listAll(t, f.service, token), 2)
}

func TestConcurrentDebitsSerializedWithLease(t *testing.T) {
	f := newFixture(t, map[string]string{"u-1": "100"}, Options{Locker: lease.NewLocal()})
	f.authority.BeforeRead = readBarrier(2)
	token := tokenFor(t, "u-1")

	errs := debitConcurrently(t, f.service, token, "80", 2)

	var succeeded, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	assert.True(t, balanceOf(t, f.authority, "u-1").Equal(dec("20")))
	assert.Len(t, listAll(t, f.service, token), 1)
}

func TestConcurrentDebitsRejectedWithCompareAndSwap(t *testing.T) {
	f := newFixture(t, map[string]string{"u-1": "100"}, Options{CompareAndSwap: true})
	f.authority.HonorExpected = true
	f.authority.BeforeRead = readBarrier(2)
	token := tokenFor(t, "u-1")

	errs := debitConcurrently(t, f.service, token, "80", 2)

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrBalanceUpdateFailed):
			var rejection *balance.RejectedError
			require.ErrorAs(t, err, &rejection)
			assert.Equal(t, http.StatusConflict, rejection.StatusCode)
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.True(t, balanceOf(t, f.authority, "u-1").Equal(dec("20")))
	assert.Len(t, listAll(t, f.service, token), 1)
}

type failingLocker struct{}

func (failingLocker) Acquire(context.Context, string) (func(), error) {
	return nil, lease.ErrNotAcquired
}

func TestRecordMovementLeaseUnavailable(t *testing.T) {
	f := newFixture(t, map[string]string{"u-1": "100"}, Options{Locker: failingLocker{}})

	_, err := f.service.RecordMovement(context.Background(), tokenFor(t, "u-1"), dec("1"), "credit")
	assert.ErrorIs(t, err, ErrBalanceUnavailable)
	assert.ErrorIs(t, err, lease.ErrNotAcquired)
	assert.Equal(t, 0, f.authority.Updates())
}

func TestRecordMovementReleasesLeaseBeforeAppend(t *testing.T) {
	authority := balancetest.NewAuthority(map[string]decimal.Decimal{"u-1": dec("100")})
	defer authority.Close()

	locker := lease.NewLocal()
	store := new(MockStore)
	store.On("Append", mock.Anything, mock.AnythingOfType("*models.Transaction")).
		Run(func(mock.Arguments) {
			assert.Equal(t, 0, locker.Held())
		}).
		Return(nil)

	s := New(quietLogger(), auth.NewJWTVerifier(testSecret), balance.New(authority.URL, "", time.Second), store,
		Options{Locker: locker})
	_, err := s.RecordMovement(context.Background(), tokenFor(t, "u-1"), dec("5"), "debit")
	require.NoError(t, err)
	store.AssertExpectations(t)
	assert.Equal(t, 0, locker.Held())
}

func TestRecordMovementReleasesLeaseOnUpdateFailure(t *testing.T) {
	locker := lease.NewLocal()
	f := newFixture(t, map[string]string{"u-1": "100"}, Options{Locker: locker})
	f.authority.FailUpdate = http.StatusServiceUnavailable

	_, err := f.service.RecordMovement(context.Background(), tokenFor(t, "u-1"), dec("5"), "debit")
	assert.ErrorIs(t, err, ErrBalanceUpdateFailed)
	assert.Equal(t, 0, locker.Held())
}

// ===== ListMovements =====

func TestListMovementsScopedToCaller(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "100", "b": "100"}, Options{})
	tokenA, tokenB := tokenFor(t, "a"), tokenFor(t, "b")

	for i := 0; i < 3; i++ {
		_, err := f.service.RecordMovement(context.Background(), tokenA, dec("1"), "credit")
		require.NoError(t, err)
		_, err = f.service.RecordMovement(context.Background(), tokenB, dec("2"), "debit")
		require.NoError(t, err)
	}

	gotA := listAll(t, f.service, tokenA)
	require.Len(t, gotA, 3)
	for i, tx := range gotA {
		assert.Equal(t, "a", tx.UserID)
		if i > 0 {
			assert.False(t, tx.CreatedAt.Before(gotA[i-1].CreatedAt))
		}
	}
	for _, tx := range listAll(t, f.service, tokenB) {
		assert.Equal(t, "b", tx.UserID)
	}
}

func TestListMovementsIsRepeatable(t *testing.T) {
	f := newFixture(t, map[string]string{"u-1": "100"}, Options{})
	token := tokenFor(t, "u-1")
	_, err := f.service.RecordMovement(context.Background(), token, dec("1"), "credit")
	require.NoError(t, err)

	assert.Equal(t, listAll(t, f.service, token), listAll(t, f.service, token))
}

func TestListMovementsInvalidRange(t *testing.T) {
	f := newFixture(t, nil, Options{})
	now := time.Now()

	_, err := f.service.ListMovements(context.Background(), tokenFor(t, "u-1"), now, now.Add(-time.Second))
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestListMovementsStoreError(t *testing.T) {
	store := new(MockStore)
	store.On("Query", mock.Anything, "u-1", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	s := New(quietLogger(), auth.NewJWTVerifier(testSecret), nil, store, Options{})
	_, err := s.ListMovements(context.Background(), tokenFor(t, "u-1"), time.Time{}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	store.AssertExpectations(t)
}
