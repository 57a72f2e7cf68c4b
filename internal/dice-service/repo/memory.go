package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/radieske/fairdice-platform/internal/dice"
	"github.com/radieske/fairdice-platform/internal/fairness"
	"github.com/radieske/fairdice-platform/internal/ledger"
)

// Memory implementa os três stores (carteiras, seeds, apostas) em memória.
// Usado com STORAGE=memory e nos testes; não sobrevive a restart.
type Memory struct {
	mu sync.Mutex

	wallets      map[string]int64
	exposure     map[string]int64
	reservations map[string]*ledger.Reservation
	depositRefs  map[string]struct{}
	entries      []LedgerEntry

	rounds    map[int64]*fairness.Round
	lastRound int64

	bets   map[string]*dice.Bet
	nonces map[string]uint64

	now func() time.Time
}

// LedgerEntry espelha uma linha do wallet_ledger.
type LedgerEntry struct {
	WalletID  string
	Operation string
	Amount    int64
	Reference string
	At        time.Time
}

var (
	_ ledger.Store       = (*Memory)(nil)
	_ fairness.SeedStore = (*Memory)(nil)
	_ dice.Store         = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		wallets:      make(map[string]int64),
		exposure:     make(map[string]int64),
		reservations: make(map[string]*ledger.Reservation),
		depositRefs:  make(map[string]struct{}),
		rounds:       make(map[int64]*fairness.Round),
		bets:         make(map[string]*dice.Bet),
		nonces:       make(map[string]uint64),
		now:          time.Now,
	}
}

// SetClock troca o relógio usado nos timestamps gravados (testes).
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) record(walletID, op string, amount int64, ref string) {
	m.entries = append(m.entries, LedgerEntry{WalletID: walletID, Operation: op, Amount: amount, Reference: ref, At: m.now()})
}

// Entries devolve uma cópia do histórico de movimentações.
func (m *Memory) Entries() []LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LedgerEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ---- ledger.Store

func (m *Memory) EnsureWallet(_ context.Context, walletID string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bal, ok := m.wallets[walletID]; ok {
		return bal, false, nil
	}
	m.wallets[walletID] = 0
	return 0, true, nil
}

func (m *Memory) Balance(_ context.Context, walletID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.wallets[walletID]
	if !ok {
		return 0, ledger.ErrWalletNotFound
	}
	return bal, nil
}

func (m *Memory) Credit(_ context.Context, walletID string, amount int64, ref string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.depositRefs[ref]; dup {
		return 0, ledger.ErrDuplicateReference
	}
	m.depositRefs[ref] = struct{}{}
	m.wallets[walletID] += amount
	m.record(walletID, ledger.OpDeposit, amount, ref)
	return m.wallets[walletID], nil
}

func (m *Memory) Reserve(_ context.Context, walletID string, amount int64, ref string, hold ledger.Hold) (ledger.Reservation, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hold.Amount > 0 && m.wallets[hold.WalletID]-m.exposure[hold.WalletID] < hold.Amount {
		return ledger.Reservation{}, 0, ledger.ErrInsufficientHouseFunds
	}
	bal, ok := m.wallets[walletID]
	if !ok {
		return ledger.Reservation{}, 0, ledger.ErrWalletNotFound
	}
	if _, dup := m.reservations[ref]; dup {
		return ledger.Reservation{}, 0, ledger.ErrDuplicateReference
	}
	if bal < amount {
		return ledger.Reservation{}, 0, ledger.ErrInsufficientBalance
	}

	m.wallets[walletID] = bal - amount
	res := &ledger.Reservation{ID: ref, WalletID: walletID, Amount: amount, Status: ledger.ReservationOpen, CreatedAt: m.now()}
	if hold.Amount > 0 {
		m.exposure[hold.WalletID] += hold.Amount
		res.HouseWalletID, res.Exposure = hold.WalletID, hold.Amount
	}
	m.reservations[ref] = res
	m.record(walletID, ledger.OpReserve, -amount, ref)
	return *res, m.wallets[walletID], nil
}

func (m *Memory) Settle(_ context.Context, id string, payout int64, house ledger.HouseMove) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.openReservation(id)
	if err != nil {
		return 0, err
	}
	houseBal, ok := m.wallets[house.WalletID]
	if !ok {
		return 0, ledger.ErrWalletNotFound
	}
	if houseBal+house.Delta < 0 {
		return 0, ledger.ErrInsufficientBalance
	}

	now := m.now()
	res.Status = ledger.ReservationSettled
	res.Payout = payout
	res.ClosedAt = &now
	m.wallets[res.WalletID] += payout
	m.wallets[house.WalletID] = houseBal + house.Delta
	m.dropExposure(res)
	m.record(res.WalletID, ledger.OpSettle, payout, id)
	m.record(house.WalletID, ledger.OpHouse, house.Delta, id)
	return m.wallets[res.WalletID], nil
}

func (m *Memory) Release(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.openReservation(id)
	if err != nil {
		return 0, err
	}
	now := m.now()
	res.Status = ledger.ReservationReleased
	res.ClosedAt = &now
	m.wallets[res.WalletID] += res.Amount
	m.dropExposure(res)
	m.record(res.WalletID, ledger.OpRelease, res.Amount, id)
	return m.wallets[res.WalletID], nil
}

func (m *Memory) dropExposure(res *ledger.Reservation) {
	if res.Exposure > 0 {
		m.exposure[res.HouseWalletID] -= res.Exposure
	}
}

func (m *Memory) HouseFunds(_ context.Context, walletID string) (ledger.HouseFunds, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ledger.HouseFunds{Funds: m.wallets[walletID], Exposure: m.exposure[walletID]}, nil
}

func (m *Memory) openReservation(id string) (*ledger.Reservation, error) {
	res, ok := m.reservations[id]
	if !ok {
		return nil, ledger.ErrReservationNotFound
	}
	if res.Status != ledger.ReservationOpen {
		return nil, &ledger.ClosedError{ID: id, Status: res.Status}
	}
	return res, nil
}

func (m *Memory) GetReservation(_ context.Context, id string) (ledger.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.reservations[id]
	if !ok {
		return ledger.Reservation{}, ledger.ErrReservationNotFound
	}
	return *res, nil
}

func (m *Memory) OpenReservations(_ context.Context, cutoff time.Time) ([]ledger.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ledger.Reservation
	for _, r := range m.reservations {
		if r.Status == ledger.ReservationOpen && r.CreatedAt.Before(cutoff) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- fairness.SeedStore

func (m *Memory) InsertActiveRound(_ context.Context, seed, hash string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rounds {
		if r.State == fairness.RoundActive {
			return 0, fairness.ErrActiveRoundExists
		}
	}
	m.lastRound++
	m.rounds[m.lastRound] = &fairness.Round{
		Number:         m.lastRound,
		ServerSeed:     seed,
		ServerSeedHash: hash,
		State:          fairness.RoundActive,
		CreatedAt:      at,
	}
	return m.lastRound, nil
}

func (m *Memory) ActiveRound(_ context.Context) (fairness.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rounds {
		if r.State == fairness.RoundActive {
			return *r, nil
		}
	}
	return fairness.Round{}, fairness.ErrRoundNotFound
}

func (m *Memory) GetRound(_ context.Context, number int64) (fairness.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[number]
	if !ok {
		return fairness.Round{}, fairness.ErrRoundNotFound
	}
	return *r, nil
}

func (m *Memory) BindRound(_ context.Context, number int64, betID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[number]
	if !ok {
		return fairness.ErrRoundNotFound
	}
	if r.State != fairness.RoundActive {
		return fairness.ErrRoundUnavailable
	}
	r.State = fairness.RoundBound
	r.BetID = betID
	return nil
}

func (m *Memory) RetireRound(_ context.Context, number int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[number]
	if !ok {
		return fairness.ErrRoundNotFound
	}
	if r.State == fairness.RoundRetired {
		return nil
	}
	r.State = fairness.RoundRetired
	r.RetiredAt = &at
	return nil
}

// ---- dice.Store

func nonceKey(walletID, clientSeed string) string { return walletID + "\x00" + clientSeed }

func (m *Memory) NextNonce(_ context.Context, walletID, clientSeed string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := nonceKey(walletID, clientSeed)
	n := m.nonces[k]
	m.nonces[k] = n + 1
	return n, nil
}

func (m *Memory) InsertBet(_ context.Context, b dice.Bet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.bets[b.ID]; dup {
		return ErrDuplicateBet
	}
	cp := b
	m.bets[b.ID] = &cp
	return nil
}

func (m *Memory) GetBet(_ context.Context, id string) (dice.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bets[id]
	if !ok {
		return dice.Bet{}, dice.ErrBetNotFound
	}
	return copyBet(b), nil
}

func (m *Memory) MarkResolved(_ context.Context, id string, r dice.Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bets[id]
	if !ok {
		return dice.ErrBetNotFound
	}
	if b.State != dice.StateCreated {
		return dice.ErrBetNotCreated
	}
	outcome, won, profit, at := r.Outcome, r.Won, r.Profit, r.ResolvedAt
	b.State = dice.StateResolved
	b.Outcome, b.Won, b.Profit = &outcome, &won, &profit
	b.ServerSeed = r.ServerSeed
	b.ResolvedAt = &at
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id, reason, serverSeed string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bets[id]
	if !ok {
		return dice.ErrBetNotFound
	}
	if b.State != dice.StateCreated {
		return dice.ErrBetNotCreated
	}
	b.State = dice.StateFailed
	b.FailureReason = reason
	b.ServerSeed = serverSeed
	b.ResolvedAt = &at
	return nil
}

func (m *Memory) ListCreated(_ context.Context, cutoff time.Time, limit int) ([]dice.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []dice.Bet
	for _, b := range m.bets {
		if b.State == dice.StateCreated && b.CreatedAt.Before(cutoff) {
			out = append(out, copyBet(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListByWallet(_ context.Context, walletID string, limit int) ([]dice.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []dice.Bet
	for _, b := range m.bets {
		if b.WalletID == walletID {
			out = append(out, copyBet(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Leaderboard(_ context.Context, limit int) ([]dice.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byWallet := make(map[string]*dice.LeaderboardEntry)
	for _, b := range m.bets {
		if b.State != dice.StateResolved {
			continue
		}
		e, ok := byWallet[b.WalletID]
		if !ok {
			e = &dice.LeaderboardEntry{WalletID: b.WalletID}
			byWallet[b.WalletID] = e
		}
		e.Bets++
		e.Wagered += b.Amount
		e.Profit += *b.Profit
		if *b.Won {
			e.Wins++
		}
	}

	out := make([]dice.LeaderboardEntry, 0, len(byWallet))
	for _, e := range byWallet {
		out = append(out, *e)
	}
	sortLeaderboard(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sortLeaderboard ordena por lucro, depois volume apostado, depois carteira (desempate estável).
func sortLeaderboard(out []dice.LeaderboardEntry) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Profit != out[j].Profit {
			return out[i].Profit > out[j].Profit
		}
		if out[i].Wagered != out[j].Wagered {
			return out[i].Wagered > out[j].Wagered
		}
		return out[i].WalletID < out[j].WalletID
	})
}

func copyBet(b *dice.Bet) dice.Bet {
	cp := *b
	if b.Outcome != nil {
		v := *b.Outcome
		cp.Outcome = &v
	}
	if b.Won != nil {
		v := *b.Won
		cp.Won = &v
	}
	if b.Profit != nil {
		v := *b.Profit
		cp.Profit = &v
	}
	if b.ResolvedAt != nil {
		v := *b.ResolvedAt
		cp.ResolvedAt = &v
	}
	return cp
}
