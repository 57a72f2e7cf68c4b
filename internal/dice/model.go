package dice

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/fairdice-platform/internal/payout"
)

type State string

const (
	StateCreated  State = "CREATED"
	StateResolved State = "RESOLVED"
	StateFailed   State = "FAILED"
)

func (s State) Terminal() bool { return s == StateResolved || s == StateFailed }

// Bet é o registro persistido de uma aposta. Outcome, Won e Profit são todos nil
// ou todos preenchidos; depois de RESOLVED o registro não muda mais.
type Bet struct {
	ID             string
	WalletID       string
	Amount         int64
	Target         int
	Direction      payout.Direction
	ClientSeed     string
	Nonce          uint64
	Round          int64
	ServerSeedHash string // congelado na criação
	Multiplier     decimal.Decimal
	CappedProfit   int64
	HouseEdgeBps   int64 // regras vigentes na cotação
	MaxProfit      int64
	State          State
	Outcome        *int
	Won            *bool
	Profit         *int64 // +lucro numa vitória, -wager numa derrota
	ServerSeed     string // preenchido quando a aposta fica terminal
	FailureReason  string
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

// Resolution são os campos gravados na transição CREATED -> RESOLVED.
type Resolution struct {
	Outcome    int
	Won        bool
	Profit     int64
	ServerSeed string
	ResolvedAt time.Time
}

type LeaderboardEntry struct {
	WalletID string
	Bets     int64
	Wins     int64
	Wagered  int64
	Profit   int64
}

// Store persiste apostas e contadores de nonce.
type Store interface {
	// NextNonce devolve o próximo nonce para (carteira, client seed), começando em 0.
	NextNonce(ctx context.Context, walletID, clientSeed string) (uint64, error)
	InsertBet(ctx context.Context, b Bet) error
	// GetBet devolve ErrBetNotFound quando não existe.
	GetBet(ctx context.Context, id string) (Bet, error)
	// MarkResolved e MarkFailed só transicionam apostas CREATED; caso contrário ErrBetNotCreated.
	MarkResolved(ctx context.Context, id string, r Resolution) error
	MarkFailed(ctx context.Context, id, reason, serverSeed string, at time.Time) error
	// ListCreated devolve apostas CREATED criadas antes de cutoff, mais antigas primeiro.
	ListCreated(ctx context.Context, cutoff time.Time, limit int) ([]Bet, error)
	ListByWallet(ctx context.Context, walletID string, limit int) ([]Bet, error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}
