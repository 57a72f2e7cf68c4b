// Package ledger é a fonte de verdade dos saldos por carteira.
// Toda operação numa carteira roda em exclusão mútua com as demais da mesma carteira;
// carteiras distintas nunca se bloqueiam.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/fairdice-platform/internal/shared/keylock"
)

// Token referencia exatamente o valor reservado numa carteira.
type Token struct {
	ID       string
	WalletID string
	Amount   int64
}

type Ledger struct {
	log   *zap.Logger
	store Store
	locks *keylock.Map
}

func New(log *zap.Logger, store Store) *Ledger {
	return &Ledger{log: log, store: store, locks: keylock.New()}
}

// Register cria a carteira (saldo zero) se necessário.
func (l *Ledger) Register(ctx context.Context, walletID string) (balance int64, created bool, err error) {
	unlock := l.locks.Lock(walletID)
	defer unlock()

	return l.store.EnsureWallet(ctx, walletID)
}

func (l *Ledger) Balance(ctx context.Context, walletID string) (int64, error) {
	return l.store.Balance(ctx, walletID)
}

// Deposit credita um depósito confirmado; ref garante idempotência (ex.: assinatura da transação).
func (l *Ledger) Deposit(ctx context.Context, walletID string, amount int64, ref string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	unlock := l.locks.Lock(walletID)
	defer unlock()

	bal, err := l.store.Credit(ctx, walletID, amount, ref)
	if err != nil {
		return 0, fmt.Errorf("credit %s: %w", walletID, err)
	}
	l.log.Info("deposit credited", zap.String("wallet", walletID), zap.Int64("amount", amount), zap.String("ref", ref))
	return bal, nil
}

// Reserve bloqueia amount da carteira e, junto, hold no caixa da casa. Falha com
// ErrInsufficientHouseFunds ou ErrInsufficientBalance sem alterar nada.
func (l *Ledger) Reserve(ctx context.Context, walletID string, amount int64, ref string, hold Hold) (Token, int64, error) {
	if amount <= 0 || hold.Amount < 0 {
		return Token{}, 0, ErrInvalidAmount
	}
	if hold.Amount > 0 && hold.WalletID == walletID {
		return Token{}, 0, fmt.Errorf("reserve %s: house wallet cannot hold its own bet", ref)
	}
	unlock := l.locks.Lock(walletID)
	defer unlock()

	res, bal, err := l.store.Reserve(ctx, walletID, amount, ref, hold)
	if err != nil {
		return Token{}, 0, fmt.Errorf("reserve %s: %w", walletID, err)
	}
	return Token{ID: res.ID, WalletID: res.WalletID, Amount: res.Amount}, bal, nil
}

// Settle fecha a reserva creditando payout (0 numa derrota, wager+lucro numa vitória).
// Uma segunda chamada com o mesmo token devolve ErrReservationClosed e não mexe em saldo.
func (l *Ledger) Settle(ctx context.Context, tok Token, payout int64, house HouseMove) (int64, error) {
	if payout < 0 {
		return 0, fmt.Errorf("settle %s: negative payout %d", tok.ID, payout)
	}
	if house.WalletID == tok.WalletID {
		return 0, fmt.Errorf("settle %s: house wallet cannot settle its own bet", tok.ID)
	}
	unlock := l.locks.Lock(tok.WalletID)
	defer unlock()

	bal, err := l.store.Settle(ctx, tok.ID, payout, house)
	if err != nil {
		return 0, fmt.Errorf("settle %s: %w", tok.ID, err)
	}
	return bal, nil
}

// Release devolve o valor reservado sem pagamento (apostas que falharam).
func (l *Ledger) Release(ctx context.Context, tok Token) (int64, error) {
	unlock := l.locks.Lock(tok.WalletID)
	defer unlock()

	bal, err := l.store.Release(ctx, tok.ID)
	if err != nil {
		return 0, fmt.Errorf("release %s: %w", tok.ID, err)
	}
	l.log.Info("reservation released", zap.String("wallet", tok.WalletID), zap.String("reservation", tok.ID), zap.Int64("amount", tok.Amount))
	return bal, nil
}

// HouseFunds lê caixa e exposição da casa direto do store.
func (l *Ledger) HouseFunds(ctx context.Context, houseWalletID string) (HouseFunds, error) {
	return l.store.HouseFunds(ctx, houseWalletID)
}

func (l *Ledger) Reservation(ctx context.Context, id string) (Reservation, error) {
	return l.store.GetReservation(ctx, id)
}

func (l *Ledger) OpenReservations(ctx context.Context, cutoff time.Time) ([]Reservation, error) {
	return l.store.OpenReservations(ctx, cutoff)
}

// ClosedStatus extrai o status final de um ErrReservationClosed.
func ClosedStatus(err error) (ReservationStatus, bool) {
	var ce *ClosedError
	if errors.As(err, &ce) {
		return ce.Status, true
	}
	return "", false
}

func TokenOf(r Reservation) Token {
	return Token{ID: r.ID, WalletID: r.WalletID, Amount: r.Amount}
}
