package dice_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/radieske/fairdice-platform/internal/dice"
	"github.com/radieske/fairdice-platform/internal/dice-service/repo"
	"github.com/radieske/fairdice-platform/internal/fairness"
	"github.com/radieske/fairdice-platform/internal/feed"
	"github.com/radieske/fairdice-platform/internal/ledger"
	"github.com/radieske/fairdice-platform/internal/payout"
	"github.com/radieske/fairdice-platform/pkg/contracts/events"
)

const (
	houseWallet = "house"
	token       = int64(1_000_000) // 1 unidade com 6 casas
	houseFunds  = 1_000 * token
)

var errFlaky = errors.New("store unavailable")

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// flakyLedger falha Settle nas primeiras failures chamadas; com applyFirst a primeira
// chamada grava no store e só a resposta se perde.
type flakyLedger struct {
	*repo.Memory
	failures   atomic.Int32
	applyFirst bool
	calls      atomic.Int32
}

func (f *flakyLedger) Settle(ctx context.Context, id string, payoutAmt int64, house ledger.HouseMove) (int64, error) {
	n := f.calls.Add(1)
	if f.applyFirst && n == 1 {
		if _, err := f.Memory.Settle(ctx, id, payoutAmt, house); err != nil {
			return 0, err
		}
		return 0, errFlaky
	}
	if f.failures.Load() != 0 {
		f.failures.Add(-1)
		return 0, errFlaky
	}
	return f.Memory.Settle(ctx, id, payoutAmt, house)
}

// vanishingSeeds passa a perder os rounds depois de armado.
type vanishingSeeds struct {
	*repo.Memory
	gone atomic.Bool
}

func (v *vanishingSeeds) GetRound(ctx context.Context, number int64) (fairness.Round, error) {
	if v.gone.Load() {
		return fairness.Round{}, fairness.ErrRoundNotFound
	}
	return v.Memory.GetRound(ctx, number)
}

// brokenBets nunca consegue gravar a resolução.
type brokenBets struct{ *repo.Memory }

func (brokenBets) MarkResolved(context.Context, string, dice.Resolution) error { return errFlaky }

type recordingPublisher struct {
	mu       sync.Mutex
	placed   []events.BetPlaced
	resolved []events.BetResolved
}

func (p *recordingPublisher) PublishBetPlaced(_ context.Context, e events.BetPlaced) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, e)
	return nil
}

func (p *recordingPublisher) PublishBetResolved(_ context.Context, e events.BetResolved) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolved = append(p.resolved, e)
	return nil
}

type fixture struct {
	svc   *dice.Service
	store *repo.Memory
	seeds *fairness.Registry
	clock *clock
	feed  *feed.Broadcaster
	pub   *recordingPublisher
}

type fixtureOpts struct {
	ledgerStore ledger.Store
	betStore    dice.Store
	seedStore   fairness.SeedStore
	store       *repo.Memory
	log         *zap.Logger
	houseFunds  int64
	start       time.Time
	rules       func(*dice.Rules)
}

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

var depositSeq atomic.Int64

func rules() dice.Rules {
	return dice.Rules{
		Enabled:         true,
		MinBet:          token,
		MaxBet:          1_000 * token,
		HouseEdgeBps:    150,
		MaxProfit:       5_000 * token,
		Decimals:        6,
		HouseWallet:     houseWallet,
		BetTimeout:      10 * time.Minute,
		SettleAttempts:  3,
		LeaderboardSize: 10,
	}
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()

	store := o.store
	if store == nil {
		store = repo.NewMemory()
	}
	start := o.start
	if start.IsZero() {
		start = baseTime
	}
	clk := &clock{t: start}
	store.SetClock(clk.Now)

	var ls ledger.Store = store
	if o.ledgerStore != nil {
		ls = o.ledgerStore
	}
	var bs dice.Store = store
	if o.betStore != nil {
		bs = o.betStore
	}
	r := rules()
	if o.rules != nil {
		o.rules(&r)
	}

	var ss fairness.SeedStore = store
	if o.seedStore != nil {
		ss = o.seedStore
	}
	log := o.log
	if log == nil {
		log = zap.NewNop()
	}
	l := ledger.New(log, ls)
	seeds := fairness.NewRegistry(log, ss, fairness.WithClock(clk.Now))
	fd := feed.NewBroadcaster(feed.DefaultHistory)
	pub := &recordingPublisher{}

	svc := dice.NewService(log, r, l, seeds, bs,
		dice.WithClock(clk.Now), dice.WithFeed(fd), dice.WithPublisher(pub))

	funds := o.houseFunds
	if funds == 0 {
		funds = houseFunds
	}
	ctx := context.Background()
	_, err := svc.Deposit(ctx, houseWallet, funds, "house-initial-"+t.Name())
	if errors.Is(err, dice.ErrValidation) {
		// store compartilhado já fundeado
		require.NoError(t, svc.Recover(ctx))
	} else {
		require.NoError(t, err)
	}

	return &fixture{svc: svc, store: store, seeds: seeds, clock: clk, feed: fd, pub: pub}
}

// bankroll lê o caixa e a exposição da casa direto do store.
func (f *fixture) bankroll(t *testing.T) (funds, exposure int64) {
	t.Helper()
	h, err := f.svc.Bankroll(context.Background())
	require.NoError(t, err)
	return h.Funds, h.Exposure
}

func (f *fixture) fund(t *testing.T, wallet string, amount int64) {
	t.Helper()
	_, err := f.svc.Deposit(context.Background(), wallet, amount, fmt.Sprintf("dep-%s-%d", wallet, depositSeq.Add(1)))
	require.NoError(t, err)
}

// nextOutcome calcula o resultado que a próxima aposta com (wallet, clientSeed) vai ter,
// usando o round ativo e o próximo nonce.
func (f *fixture) nextOutcome(t *testing.T, wallet, clientSeed string, nonce uint64) int {
	t.Helper()
	ctx := context.Background()
	c, err := f.seeds.Current(ctx)
	require.NoError(t, err)
	rd, err := f.store.GetRound(ctx, c.Round)
	require.NoError(t, err)
	return fairness.Derive(rd.ServerSeed, clientSeed, nonce)
}

// winning e losing escolhem um alvo que ganha ou perde contra outcome.
func winning(outcome int) (payout.Direction, int) {
	switch {
	case outcome > 500000:
		return payout.Over, 500000
	case outcome < 500000:
		return payout.Under, 500000
	default:
		return payout.Over, 499999
	}
}

func losing(outcome int) (payout.Direction, int) {
	if outcome > 500000 {
		return payout.Under, 500000
	}
	return payout.Over, 500000
}

func (f *fixture) total(t *testing.T, wallets ...string) int64 {
	t.Helper()
	var sum int64
	for _, w := range wallets {
		b, err := f.svc.Balance(context.Background(), w)
		require.NoError(t, err)
		sum += b.Balance
	}
	return sum
}

func TestPlaceAndResolveWin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	f.fund(t, "alice", 100*token)
	before := f.total(t, "alice", houseWallet)

	outcome := f.nextOutcome(t, "alice", "seed-1", 0)
	dir, target := winning(outcome)

	p, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: 10 * token, Target: target, Direction: dir, ClientSeed: "seed-1"})
	require.NoError(t, err)
	assert.Equal(t, 90*token, p.NewBalance)
	assert.Equal(t, dice.StateCreated, p.Bet.State)
	assert.Equal(t, uint64(0), p.Bet.Nonce)

	_, exposure := f.bankroll(t)
	assert.Equal(t, p.Quote.CappedProfit, exposure)

	r, err := f.svc.ResolveBet(ctx, dice.RollInput{BetID: p.Bet.ID, WalletID: "alice"})
	require.NoError(t, err)
	require.NotNil(t, r.Bet.Outcome)
	assert.Equal(t, outcome, *r.Bet.Outcome)
	assert.True(t, *r.Bet.Won)
	assert.Equal(t, p.Quote.CappedProfit, *r.Bet.Profit)
	assert.Equal(t, 100*token+p.Quote.CappedProfit, r.NewBalance)

	assert.Equal(t, before, f.total(t, "alice", houseWallet), "value is conserved between player and house")
	funds, exposure := f.bankroll(t)
	assert.Zero(t, exposure)
	assert.Equal(t, houseFunds-p.Quote.CappedProfit, funds)
}

func TestPlaceAndResolveLoss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	f.fund(t, "bob", 20*token)
	before := f.total(t, "bob", houseWallet)

	outcome := f.nextOutcome(t, "bob", "s", 0)
	dir, target := losing(outcome)

	p, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "bob", Amount: 5 * token, Target: target, Direction: dir, ClientSeed: "s"})
	require.NoError(t, err)

	r, err := f.svc.ResolveBet(ctx, dice.RollInput{BetID: p.Bet.ID, WalletID: "bob", ClientSeed: "s"})
	require.NoError(t, err)
	assert.False(t, *r.Bet.Won)
	assert.Equal(t, -5*token, *r.Bet.Profit)
	assert.Equal(t, 15*token, r.NewBalance)
	assert.Equal(t, before, f.total(t, "bob", houseWallet))

	funds, _ := f.bankroll(t)
	assert.Equal(t, houseFunds+5*token, funds)
}

func TestResolveIsExactlyOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	f.fund(t, "alice", 10*token)

	p, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: token, Target: 500000, Direction: payout.Over, ClientSeed: "c"})
	require.NoError(t, err)

	var ok, already atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ResolveBet(ctx, dice.RollInput{BetID: p.Bet.ID, WalletID: "alice"})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, dice.ErrAlreadyResolved):
				already.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(7), already.Load())

	settles := 0
	for _, e := range f.store.Entries() {
		if e.Reference == p.Bet.ID && e.Operation == ledger.OpSettle {
			settles++
		}
	}
	assert.Equal(t, 1, settles)
}

func TestConcurrentPlacementsNeverOverdraw(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	f.fund(t, "alice", 15*token)

	var ok, insufficient atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: 10 * token, Target: 500000, Direction: payout.Under, ClientSeed: "c"})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, dice.ErrInsufficientBalance):
				insufficient.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), insufficient.Load())
	b, err := f.svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5*token, b.Balance)

	_, exposure := f.bankroll(t)
	assert.Equal(t, int64(9_700_000), exposure, "rejected bet releases its house hold")
}

func TestPlaceBetValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	f.fund(t, "alice", 10*token)

	valid := dice.PlaceBetInput{WalletID: "alice", Amount: token, Target: 500000, Direction: payout.Over, ClientSeed: "c"}
	tests := []struct {
		name   string
		mutate func(*dice.PlaceBetInput)
		want   error
	}{
		{name: "below min", mutate: func(in *dice.PlaceBetInput) { in.Amount = token - 1 }, want: dice.ErrValidation},
		{name: "above max", mutate: func(in *dice.PlaceBetInput) { in.Amount = 1_001 * token }, want: dice.ErrValidation},
		{name: "no wallet", mutate: func(in *dice.PlaceBetInput) { in.WalletID = "" }, want: dice.ErrValidation},
		{name: "house wallet", mutate: func(in *dice.PlaceBetInput) { in.WalletID = houseWallet }, want: dice.ErrValidation},
		{name: "no client seed", mutate: func(in *dice.PlaceBetInput) { in.ClientSeed = "" }, want: dice.ErrValidation},
		{name: "long client seed", mutate: func(in *dice.PlaceBetInput) { in.ClientSeed = string(make([]byte, 65)) }, want: dice.ErrValidation},
		{name: "bad direction", mutate: func(in *dice.PlaceBetInput) { in.Direction = "sideways" }, want: dice.ErrValidation},
		{name: "degenerate target", mutate: func(in *dice.PlaceBetInput) { in.Direction, in.Target = payout.Under, 0 }, want: dice.ErrValidation},
		{name: "target out of range", mutate: func(in *dice.PlaceBetInput) { in.Target = fairness.Range }, want: dice.ErrValidation},
		{name: "unknown wallet", mutate: func(in *dice.PlaceBetInput) { in.WalletID = "ghost" }, want: dice.ErrInsufficientBalance},
		{name: "over balance", mutate: func(in *dice.PlaceBetInput) { in.Amount = 11 * token }, want: dice.ErrInsufficientBalance},
	}

	for _, tt := range tests {
		in := valid
		tt.mutate(&in)
		_, err := f.svc.PlaceBet(ctx, in)
		require.ErrorIs(t, err, tt.want, tt.name)
	}

	b, err := f.svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10*token, b.Balance)
	_, exposure := f.bankroll(t)
	assert.Zero(t, exposure)
}

func TestPlaceBetRejectedWhenHouseCannotCover(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{houseFunds: 5 * token})
	f.fund(t, "alice", 100*token)

	_, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: 10 * token, Target: 500000, Direction: payout.Over, ClientSeed: "c"})
	require.ErrorIs(t, err, dice.ErrInsufficientHouseFunds)

	b, err := f.svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 100*token, b.Balance)
}

func TestPlaceBetDisabled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{rules: func(r *dice.Rules) { r.Enabled = false }})

	_, err := f.svc.PlaceBet(context.Background(), dice.PlaceBetInput{WalletID: "alice", Amount: token, Target: 500000, Direction: payout.Over, ClientSeed: "c"})
	require.ErrorIs(t, err, dice.ErrGameDisabled)
}

func TestNonceAdvancesPerClientSeed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	f.fund(t, "alice", 100*token)

	place := func(seed string) dice.Bet {
		p, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: token, Target: 500000, Direction: payout.Over, ClientSeed: seed})
		require.NoError(t, err)
		return p.Bet
	}

	a, b, c := place("x"), place("x"), place("y")
	assert.Equal(t, uint64(0), a.Nonce)
	assert.Equal(t, uint64(1), b.Nonce)
	assert.Equal(t, uint64(0), c.Nonce)
	assert.NotEqual(t, a.Round, b.Round, "each bet gets its own seed round")
}

func TestCommitmentIntegrity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	f.fund(t, "alice", 10*token)

	published, err := f.svc.CurrentSeed(ctx)
	require.NoError(t, err)

	p, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: token, Target: 300000, Direction: payout.Under, ClientSeed: "mine"})
	require.NoError(t, err)
	assert.Equal(t, published.ServerSeedHash, p.Bet.ServerSeedHash)
	assert.Equal(t, published.Round, p.Bet.Round)

	_, err = f.svc.RevealSeed(ctx, p.Bet.Round)
	require.ErrorIs(t, err, dice.ErrSeedNotYetRevealable)
	got, err := f.svc.GetBet(ctx, p.Bet.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ServerSeed)

	r, err := f.svc.ResolveBet(ctx, dice.RollInput{BetID: p.Bet.ID, WalletID: "alice"})
	require.NoError(t, err)

	rd, err := f.svc.RevealSeed(ctx, p.Bet.Round)
	require.NoError(t, err)
	assert.Equal(t, r.Bet.ServerSeed, rd.ServerSeed)

	v, err := dice.Verify(rd.ServerSeed, "mine", p.Bet.Nonce, p.Bet.ServerSeedHash)
	require.NoError(t, err)
	assert.True(t, v.HashMatch)
	assert.Equal(t, *r.Bet.Outcome, v.Outcome)
}

func TestResolveRejectsForeignWalletAndSeed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	f.fund(t, "alice", 10*token)

	p, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: token, Target: 500000, Direction: payout.Over, ClientSeed: "c"})
	require.NoError(t, err)

	_, err = f.svc.ResolveBet(ctx, dice.RollInput{BetID: p.Bet.ID, WalletID: "mallory"})
	require.ErrorIs(t, err, dice.ErrValidation)
	_, err = f.svc.ResolveBet(ctx, dice.RollInput{BetID: p.Bet.ID, WalletID: "alice", ClientSeed: "other"})
	require.ErrorIs(t, err, dice.ErrValidation)
	_, err = f.svc.ResolveBet(ctx, dice.RollInput{BetID: "missing", WalletID: "alice"})
	require.ErrorIs(t, err, dice.ErrBetNotFound)

	got, err := f.svc.GetBet(ctx, p.Bet.ID)
	require.NoError(t, err)
	assert.Equal(t, dice.StateCreated, got.State)
}

func TestSettlementRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := repo.NewMemory()
	fl := &flakyLedger{Memory: store}
	f := newFixture(t, fixtureOpts{store: store, ledgerStore: fl})
	f.fund(t, "alice", 10*token)

	p, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: token, Target: 500000, Direction: payout.Over, ClientSeed: "c"})
	require.NoError(t, err)

	fl.failures.Store(2)
	r, err := f.svc.ResolveBet(ctx, dice.RollInput{BetID: p.Bet.ID, WalletID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, dice.StateResolved, r.Bet.State)
	assert.Equal(t, int32(3), fl.calls.Load())
}

func TestSettlementFailureReleasesReservation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := repo.NewMemory()
	fl := &flakyLedger{Memory: store}
	f := newFixture(t, fixtureOpts{store: store, ledgerStore: fl})
	f.fund(t, "alice", 10*token)

	p, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: 4 * token, Target: 500000, Direction: payout.Over, ClientSeed: "c"})
	require.NoError(t, err)

	fl.failures.Store(100)
	_, err = f.svc.ResolveBet(ctx, dice.RollInput{BetID: p.Bet.ID, WalletID: "alice"})
	require.ErrorIs(t, err, dice.ErrSettlementFailure)

	got, err := f.svc.GetBet(ctx, p.Bet.ID)
	require.NoError(t, err)
	assert.Equal(t, dice.StateFailed, got.State)
	assert.Nil(t, got.Outcome)
	assert.NotEmpty(t, got.ServerSeed, "failed bets still reveal their seed")

	b, err := f.svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10*token, b.Balance)
	_, exposure := f.bankroll(t)
	assert.Zero(t, exposure)

	_, err = f.svc.ResolveBet(ctx, dice.RollInput{BetID: p.Bet.ID, WalletID: "alice"})
	require.ErrorIs(t, err, dice.ErrBetFailed)
}

func TestSettlementLostAckIsRecognised(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := repo.NewMemory()
	fl := &flakyLedger{Memory: store, applyFirst: true}
	f := newFixture(t, fixtureOpts{store: store, ledgerStore: fl})
	f.fund(t, "alice", 10*token)
	before := f.total(t, "alice", houseWallet)

	p, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: 2 * token, Target: 500000, Direction: payout.Under, ClientSeed: "c"})
	require.NoError(t, err)

	r, err := f.svc.ResolveBet(ctx, dice.RollInput{BetID: p.Bet.ID, WalletID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, dice.StateResolved, r.Bet.State)
	assert.Equal(t, before, f.total(t, "alice", houseWallet))

	funds, exposure := f.bankroll(t)
	assert.Zero(t, exposure)
	hb, err := f.svc.Balance(ctx, houseWallet)
	require.NoError(t, err)
	assert.Equal(t, hb.Balance, funds, "bankroll tracks the house wallet")
}

func TestSettlementCommittedOnLastAttemptCompletesBet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := repo.NewMemory()
	fl := &flakyLedger{Memory: store, applyFirst: true}
	f := newFixture(t, fixtureOpts{store: store, ledgerStore: fl, rules: func(r *dice.Rules) { r.SettleAttempts = 1 }})
	f.fund(t, "alice", 10*token)
	before := f.total(t, "alice", houseWallet)

	outcome := f.nextOutcome(t, "alice", "c", 0)
	dir, target := winning(outcome)
	p, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: 2 * token, Target: target, Direction: dir, ClientSeed: "c"})
	require.NoError(t, err)

	r, err := f.svc.ResolveBet(ctx, dice.RollInput{BetID: p.Bet.ID, WalletID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), fl.calls.Load())
	assert.Equal(t, dice.StateResolved, r.Bet.State)
	assert.True(t, *r.Bet.Won)
	assert.Equal(t, 8*token+2*token+p.Quote.CappedProfit, r.NewBalance)

	got, err := store.GetBet(ctx, p.Bet.ID)
	require.NoError(t, err)
	assert.Equal(t, dice.StateResolved, got.State)
	assert.Equal(t, before, f.total(t, "alice", houseWallet))

	funds, exposure := f.bankroll(t)
	assert.Zero(t, exposure)
	hb, err := f.svc.Balance(ctx, houseWallet)
	require.NoError(t, err)
	assert.Equal(t, hb.Balance, funds)

	f.clock.Advance(11 * time.Minute)
	report, err := f.svc.ReapExpired(ctx)
	require.NoError(t, err)
	assert.True(t, report.Empty())
}

func TestInstancesShareHouseExposure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := repo.NewMemory()
	a := newFixture(t, fixtureOpts{store: store, houseFunds: 2 * token})
	b := newFixture(t, fixtureOpts{store: store, houseFunds: 2 * token})
	a.fund(t, "alice", 10*token)
	b.fund(t, "bob", 10*token)

	outcome := a.nextOutcome(t, "alice", "c", 0)
	dir, target := winning(outcome)
	p, err := a.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: 2 * token, Target: target, Direction: dir, ClientSeed: "c"})
	require.NoError(t, err)

	// a outra instância vê a exposição gravada pela primeira
	_, err = b.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "bob", Amount: 2 * token, Target: 500000, Direction: payout.Over, ClientSeed: "c"})
	require.ErrorIs(t, err, dice.ErrInsufficientHouseFunds)

	bb, err := b.svc.Balance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 10*token, bb.Balance)

	_, exposureA := a.bankroll(t)
	_, exposureB := b.bankroll(t)
	assert.Equal(t, p.Quote.CappedProfit, exposureA)
	assert.Equal(t, exposureA, exposureB)

	r, err := a.svc.ResolveBet(ctx, dice.RollInput{BetID: p.Bet.ID, WalletID: "alice"})
	require.NoError(t, err)
	assert.True(t, *r.Bet.Won)
	assert.Equal(t, 10*token+p.Quote.CappedProfit, r.NewBalance)

	funds, exposure := b.bankroll(t)
	assert.Zero(t, exposure)
	assert.Equal(t, 2*token-p.Quote.CappedProfit, funds)
	assert.Equal(t, ledger.HouseFunds{Funds: funds}, b.svc.LastBankroll())
}

func TestFailedBetLogsMissingSeed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := repo.NewMemory()
	seeds := &vanishingSeeds{Memory: store}
	core, logs := observer.New(zap.WarnLevel)
	f := newFixture(t, fixtureOpts{store: store, seedStore: seeds, log: zap.New(core)})
	f.fund(t, "alice", 10*token)

	p, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: token, Target: 500000, Direction: payout.Over, ClientSeed: "c"})
	require.NoError(t, err)

	seeds.gone.Store(true)
	_, err = f.svc.ResolveBet(ctx, dice.RollInput{BetID: p.Bet.ID, WalletID: "alice"})
	require.ErrorIs(t, err, dice.ErrSettlementFailure)

	got, err := store.GetBet(ctx, p.Bet.ID)
	require.NoError(t, err)
	assert.Equal(t, dice.StateFailed, got.State)
	assert.Empty(t, got.ServerSeed)

	missing := logs.FilterMessage("failed bet persisted without revealed seed").All()
	require.Len(t, missing, 1)
	assert.Equal(t, p.Bet.ID, missing[0].ContextMap()["bet_id"])
}

func TestReaperFailsExpiredBets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	f.fund(t, "alice", 10*token)

	p, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: 3 * token, Target: 500000, Direction: payout.Over, ClientSeed: "c"})
	require.NoError(t, err)

	report, err := f.svc.ReapExpired(ctx)
	require.NoError(t, err)
	assert.True(t, report.Empty(), "fresh bets are left alone")

	f.clock.Advance(11 * time.Minute)
	report, err = f.svc.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	got, err := f.svc.GetBet(ctx, p.Bet.ID)
	require.NoError(t, err)
	assert.Equal(t, dice.StateFailed, got.State)
	assert.Equal(t, "timeout", got.FailureReason)

	b, err := f.svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10*token, b.Balance)
	_, exposure := f.bankroll(t)
	assert.Zero(t, exposure)

	_, err = f.svc.RevealSeed(ctx, p.Bet.Round)
	require.NoError(t, err)
	_, err = f.svc.ResolveBet(ctx, dice.RollInput{BetID: p.Bet.ID, WalletID: "alice"})
	require.ErrorIs(t, err, dice.ErrBetFailed)
}

func TestReaperReleasesOrphanReservations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	f.fund(t, "alice", 10*token)

	// reserva sem aposta: processo caiu entre Reserve e InsertBet
	_, _, err := f.store.Reserve(ctx, "alice", 2*token, "orphan", ledger.Hold{WalletID: houseWallet, Amount: token})
	require.NoError(t, err)
	_, exposure := f.bankroll(t)
	assert.Equal(t, token, exposure)

	f.clock.Advance(11 * time.Minute)
	report, err := f.svc.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrphansReleased)

	b, err := f.svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10*token, b.Balance)
	_, exposure = f.bankroll(t)
	assert.Zero(t, exposure)
}

func TestRecoverKeepsExposureAndCompletesSettledBets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := repo.NewMemory()
	f := newFixture(t, fixtureOpts{store: store, betStore: brokenBets{store}})
	f.fund(t, "alice", 10*token)
	f.fund(t, "bob", 10*token)

	open, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "bob", Amount: token, Target: 500000, Direction: payout.Over, ClientSeed: "c"})
	require.NoError(t, err)
	settled, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: token, Target: 500000, Direction: payout.Under, ClientSeed: "c"})
	require.NoError(t, err)

	// o saldo é liquidado mas o registro da aposta não é gravado
	r, err := f.svc.ResolveBet(ctx, dice.RollInput{BetID: settled.Bet.ID, WalletID: "alice"})
	require.NoError(t, err)
	got, err := store.GetBet(ctx, settled.Bet.ID)
	require.NoError(t, err)
	assert.Equal(t, dice.StateCreated, got.State)
	aliceBal := r.NewBalance

	// novo processo sobre o mesmo store
	restarted := newFixture(t, fixtureOpts{store: store, start: baseTime.Add(time.Minute)})
	funds, exposure := restarted.bankroll(t)
	assert.Equal(t, open.Quote.CappedProfit, exposure)
	hb, err := restarted.svc.Balance(ctx, houseWallet)
	require.NoError(t, err)
	assert.Equal(t, hb.Balance, funds)

	got, err = store.GetBet(ctx, settled.Bet.ID)
	require.NoError(t, err)
	assert.Equal(t, dice.StateResolved, got.State)
	assert.Equal(t, *r.Bet.Outcome, *got.Outcome)

	b, err := restarted.svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, aliceBal, b.Balance, "completing the record does not move money again")

	got, err = store.GetBet(ctx, open.Bet.ID)
	require.NoError(t, err)
	assert.Equal(t, dice.StateCreated, got.State)
}

func TestFeedAndEventsFollowLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	f.fund(t, "alice", 10*token)

	p, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: token, Target: 500000, Direction: payout.Over, ClientSeed: "c"})
	require.NoError(t, err)
	_, err = f.svc.ResolveBet(ctx, dice.RollInput{BetID: p.Bet.ID, WalletID: "alice"})
	require.NoError(t, err)

	hist := f.feed.History()
	require.Len(t, hist, 2)
	assert.Equal(t, feed.TypeBet, hist[0].Type)
	assert.Equal(t, feed.TypeResult, hist[1].Type)
	assert.Equal(t, "1.000000", hist[0].Amount)
	assert.NotNil(t, hist[1].Result)

	require.Len(t, f.pub.placed, 1)
	require.Len(t, f.pub.resolved, 1)
	assert.Equal(t, p.Bet.ServerSeedHash, f.pub.placed[0].ServerSeedHash)
	assert.True(t, fairness.VerifySeed(f.pub.resolved[0].ServerSeed, f.pub.resolved[0].ServerSeedHash))
	assert.Equal(t, int64(150), f.pub.resolved[0].HouseEdgeBps)
	assert.Equal(t, 5_000*token, f.pub.resolved[0].MaxProfit)
}

func TestQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})

	b, err := f.svc.Balance(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, b.Registered)
	assert.Zero(t, b.Balance)

	_, err = f.svc.Register(ctx, "alice")
	require.NoError(t, err)
	_, err = f.svc.Deposit(ctx, "alice", 5*token, "sig")
	require.NoError(t, err)
	_, err = f.svc.Deposit(ctx, "alice", 5*token, "sig")
	require.ErrorIs(t, err, dice.ErrValidation)

	for i := 0; i < 3; i++ {
		p, err := f.svc.PlaceBet(ctx, dice.PlaceBetInput{WalletID: "alice", Amount: token, Target: 500000, Direction: payout.Over, ClientSeed: "c"})
		require.NoError(t, err)
		_, err = f.svc.ResolveBet(ctx, dice.RollInput{BetID: p.Bet.ID, WalletID: "alice"})
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	bets, err := f.svc.ListBets(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, bets, 2)
	assert.True(t, bets[0].CreatedAt.After(bets[1].CreatedAt))

	board, err := f.svc.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, int64(3), board[0].Bets)
	assert.Equal(t, 3*token, board[0].Wagered)
}
