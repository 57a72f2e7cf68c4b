package ledger_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/fairdice-platform/internal/dice-service/repo"
	"github.com/radieske/fairdice-platform/internal/ledger"
)

const house = "house"

func newLedger(t *testing.T) (*ledger.Ledger, *repo.Memory) {
	t.Helper()
	store := repo.NewMemory()
	l := ledger.New(zap.NewNop(), store)
	_, err := l.Deposit(context.Background(), house, 1_000_000, "seed-house")
	require.NoError(t, err)
	return l, store
}

func TestReserveConcurrentOnlyOneFits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Deposit(ctx, "alice", 15, "tx-1")
	require.NoError(t, err)

	var ok, insufficient atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := l.Reserve(ctx, "alice", 10, []string{"bet-a", "bet-b"}[i], ledger.Hold{WalletID: house, Amount: 9})
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, ledger.ErrInsufficientBalance):
				insufficient.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), insufficient.Load())

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal)
	h, err := l.HouseFunds(ctx, house)
	require.NoError(t, err)
	assert.Equal(t, int64(9), h.Exposure)
}

func TestSettleIsExactlyOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Deposit(ctx, "alice", 100, "tx-1")
	require.NoError(t, err)
	tok, bal, err := l.Reserve(ctx, "alice", 40, "bet-1", ledger.Hold{WalletID: house, Amount: 38})
	require.NoError(t, err)
	assert.Equal(t, int64(60), bal)

	// vitória: 40 de volta + 38 de lucro, a casa paga 38
	bal, err = l.Settle(ctx, tok, 78, ledger.HouseMove{WalletID: house, Delta: -38})
	require.NoError(t, err)
	assert.Equal(t, int64(138), bal)

	_, err = l.Settle(ctx, tok, 78, ledger.HouseMove{WalletID: house, Delta: -38})
	require.ErrorIs(t, err, ledger.ErrReservationClosed)
	st, ok := ledger.ClosedStatus(err)
	require.True(t, ok)
	assert.Equal(t, ledger.ReservationSettled, st)

	_, err = l.Release(ctx, tok)
	require.ErrorIs(t, err, ledger.ErrReservationClosed)

	bal, err = l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(138), bal)
	hb, err := l.Balance(ctx, house)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000-38), hb)
	h, err := l.HouseFunds(ctx, house)
	require.NoError(t, err)
	assert.Equal(t, ledger.HouseFunds{Funds: 1_000_000 - 38}, h, "second settle does not drop exposure twice")
}

func TestLossMovesWagerToHouse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Deposit(ctx, "bob", 50, "tx-1")
	require.NoError(t, err)
	tok, _, err := l.Reserve(ctx, "bob", 50, "bet-1", ledger.Hold{WalletID: house, Amount: 48})
	require.NoError(t, err)

	bal, err := l.Settle(ctx, tok, 0, ledger.HouseMove{WalletID: house, Delta: 50})
	require.NoError(t, err)
	assert.Zero(t, bal)

	h, err := l.HouseFunds(ctx, house)
	require.NoError(t, err)
	assert.Equal(t, ledger.HouseFunds{Funds: 1_000_050}, h)
}

func TestReleaseRestoresBalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Deposit(ctx, "alice", 30, "tx-1")
	require.NoError(t, err)
	tok, _, err := l.Reserve(ctx, "alice", 30, "bet-1", ledger.Hold{WalletID: house, Amount: 29})
	require.NoError(t, err)

	bal, err := l.Release(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, int64(30), bal)

	res, err := l.Reservation(ctx, "bet-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.ReservationReleased, res.Status)
	assert.NotNil(t, res.ClosedAt)
	assert.Equal(t, house, res.HouseWalletID)
	assert.Equal(t, int64(29), res.Exposure)

	h, err := l.HouseFunds(ctx, house)
	require.NoError(t, err)
	assert.Zero(t, h.Exposure)
	assert.Equal(t, int64(1_000_000), h.Free())
}

func TestReserveHoldsHouseFunds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := ledger.New(zap.NewNop(), repo.NewMemory())

	_, err := l.Deposit(ctx, house, 100, "h")
	require.NoError(t, err)
	_, err = l.Deposit(ctx, "alice", 50, "a")
	require.NoError(t, err)
	_, err = l.Deposit(ctx, "bob", 50, "b")
	require.NoError(t, err)

	_, _, err = l.Reserve(ctx, "alice", 10, "bet-1", ledger.Hold{WalletID: house, Amount: 70})
	require.NoError(t, err)

	// sobram 30 livres na casa
	_, _, err = l.Reserve(ctx, "bob", 10, "bet-2", ledger.Hold{WalletID: house, Amount: 31})
	require.ErrorIs(t, err, ledger.ErrInsufficientHouseFunds)

	bal, err := l.Balance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal)
	_, err = l.Reservation(ctx, "bet-2")
	require.ErrorIs(t, err, ledger.ErrReservationNotFound)

	_, _, err = l.Reserve(ctx, "bob", 10, "bet-3", ledger.Hold{WalletID: house, Amount: 30})
	require.NoError(t, err)

	h, err := l.HouseFunds(ctx, house)
	require.NoError(t, err)
	assert.Equal(t, ledger.HouseFunds{Funds: 100, Exposure: 100}, h)
	assert.Zero(t, h.Free())

	_, _, err = l.Reserve(ctx, "alice", 10, "bet-4", ledger.Hold{WalletID: "alice", Amount: 1})
	require.Error(t, err)
	_, _, err = l.Reserve(ctx, "alice", 10, "bet-5", ledger.Hold{WalletID: house, Amount: -1})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestHouseFundsOfUnknownWallet(t *testing.T) {
	t.Parallel()
	l := ledger.New(zap.NewNop(), repo.NewMemory())

	h, err := l.HouseFunds(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, ledger.HouseFunds{}, h)
}

func TestReserveRejectsWithoutChangingState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, store := newLedger(t)

	_, _, err := l.Reserve(ctx, "ghost", 10, "bet-1", ledger.Hold{})
	require.ErrorIs(t, err, ledger.ErrWalletNotFound)

	_, err = l.Deposit(ctx, "alice", 5, "tx-1")
	require.NoError(t, err)
	_, _, err = l.Reserve(ctx, "alice", 6, "bet-2", ledger.Hold{})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	_, _, err = l.Reserve(ctx, "alice", 0, "bet-3", ledger.Hold{})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal)
	_, err = l.Reservation(ctx, "bet-2")
	require.ErrorIs(t, err, ledger.ErrReservationNotFound)
	assert.Len(t, store.Entries(), 2)
}

func TestDepositIsIdempotentByReference(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)

	bal, err := l.Deposit(ctx, "alice", 10, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal)

	_, err = l.Deposit(ctx, "alice", 10, "sig-1")
	require.ErrorIs(t, err, ledger.ErrDuplicateReference)

	_, err = l.Deposit(ctx, "alice", -1, "sig-2")
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	bal, err = l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal)
}

func TestSettleRejectsHouseShortfall(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := ledger.New(zap.NewNop(), repo.NewMemory())

	_, err := l.Deposit(ctx, house, 5, "h")
	require.NoError(t, err)
	_, err = l.Deposit(ctx, "alice", 10, "a")
	require.NoError(t, err)
	tok, _, err := l.Reserve(ctx, "alice", 10, "bet-1", ledger.Hold{})
	require.NoError(t, err)

	_, err = l.Settle(ctx, tok, 20, ledger.HouseMove{WalletID: house, Delta: -10})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	res, err := l.Reservation(ctx, "bet-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.ReservationOpen, res.Status)
}

func TestSettleRejectsBadArguments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)

	tok := ledger.Token{ID: "bet-1", WalletID: "alice", Amount: 1}
	_, err := l.Settle(ctx, tok, -1, ledger.HouseMove{WalletID: house})
	require.Error(t, err)
	_, err = l.Settle(ctx, tok, 1, ledger.HouseMove{WalletID: "alice"})
	require.Error(t, err)
}

func TestRegisterIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)

	bal, created, err := l.Register(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Zero(t, bal)

	_, err = l.Deposit(ctx, "carol", 7, "tx")
	require.NoError(t, err)

	bal, created, err = l.Register(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(7), bal)
}
