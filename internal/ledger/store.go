package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientHouseFunds = errors.New("insufficient house funds")
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrReservationNotFound    = errors.New("reservation not found")
	ErrReservationClosed      = errors.New("reservation already closed")
	ErrDuplicateReference     = errors.New("reference already used")
	ErrInvalidAmount          = errors.New("amount must be positive")
)

type ReservationStatus string

const (
	ReservationOpen     ReservationStatus = "OPEN"
	ReservationSettled  ReservationStatus = "SETTLED"
	ReservationReleased ReservationStatus = "RELEASED"
)

// Operações gravadas no wallet_ledger.
const (
	OpDeposit = "DEPOSIT"
	OpReserve = "RESERVE"
	OpSettle  = "SETTLE"
	OpRelease = "RELEASE"
	OpHouse   = "HOUSE"
)

// Reservation é o bloqueio de saldo feito na criação da aposta. O ID é a referência externa (betID).
type Reservation struct {
	ID        string
	WalletID  string
	Amount    int64
	Status    ReservationStatus
	Payout    int64
	CreatedAt time.Time
	ClosedAt  *time.Time

	// lucro máximo que a casa comprometeu com esta reserva; volta a zero quando ela fecha
	HouseWalletID string
	Exposure      int64
}

// Hold é o pior caso que a casa compromete junto com a reserva do jogador.
// Zero dispensa a checagem (reservas sem contraparte da casa).
type Hold struct {
	WalletID string
	Amount   int64
}

// HouseMove é o lado da casa numa liquidação: Delta = wager - payout (positivo quando o jogador perde).
type HouseMove struct {
	WalletID string
	Delta    int64
}

// ClosedError acompanha ErrReservationClosed com o status final encontrado.
type ClosedError struct {
	ID     string
	Status ReservationStatus
}

func (e *ClosedError) Error() string {
	return "reservation " + e.ID + " already " + string(e.Status)
}

func (e *ClosedError) Is(target error) bool { return target == ErrReservationClosed }

// Store é a persistência durável das carteiras. Cada método é atômico por si só;
// a serialização por carteira fica a cargo do Ledger.
type Store interface {
	// EnsureWallet cria a carteira com saldo zero se ela ainda não existir.
	EnsureWallet(ctx context.Context, walletID string) (balance int64, created bool, err error)
	// Balance devolve o saldo disponível ou ErrWalletNotFound.
	Balance(ctx context.Context, walletID string) (int64, error)
	// Credit soma amount ao saldo (criando a carteira); ErrDuplicateReference se ref já foi usada.
	Credit(ctx context.Context, walletID string, amount int64, ref string) (int64, error)
	// Reserve soma hold à exposição da casa (ErrInsufficientHouseFunds se available - exposure
	// não cobrir), debita amount do jogador e abre uma reserva com ID ref, tudo na mesma transação.
	Reserve(ctx context.Context, walletID string, amount int64, ref string, hold Hold) (Reservation, int64, error)
	// Settle fecha a reserva como SETTLED, credita payout ao jogador, aplica house na carteira da casa
	// e devolve a exposição da reserva, tudo na mesma transação. Devolve o novo saldo do jogador.
	Settle(ctx context.Context, reservationID string, payout int64, house HouseMove) (int64, error)
	// Release fecha a reserva como RELEASED devolvendo o valor reservado e a exposição da casa.
	Release(ctx context.Context, reservationID string) (int64, error)
	// HouseFunds lê saldo e exposição de uma carteira; carteira inexistente tem os dois zerados.
	HouseFunds(ctx context.Context, walletID string) (HouseFunds, error)
	GetReservation(ctx context.Context, reservationID string) (Reservation, error)
	// OpenReservations lista reservas OPEN criadas antes de cutoff.
	OpenReservations(ctx context.Context, cutoff time.Time) ([]Reservation, error)
}
