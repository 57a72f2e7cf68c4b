package dice

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/radieske/fairdice-platform/internal/fairness"
	"github.com/radieske/fairdice-platform/internal/ledger"
)

// WalletBalance é a visão pública de uma carteira; carteira desconhecida tem saldo zero.
type WalletBalance struct {
	WalletID   string
	Balance    int64
	Registered bool
}

func (s *Service) Balance(ctx context.Context, walletID string) (WalletBalance, error) {
	if walletID == "" {
		return WalletBalance{}, invalid("wallet", "required")
	}
	bal, err := s.ledger.Balance(ctx, walletID)
	if errors.Is(err, ledger.ErrWalletNotFound) {
		return WalletBalance{WalletID: walletID}, nil
	}
	if err != nil {
		return WalletBalance{}, err
	}
	return WalletBalance{WalletID: walletID, Balance: bal, Registered: true}, nil
}

// Register cria a carteira com saldo zero; chamadas repetidas são inofensivas.
func (s *Service) Register(ctx context.Context, walletID string) (WalletBalance, error) {
	if walletID == "" || len(walletID) > maxWalletLen {
		return WalletBalance{}, invalid("wallet", "must have 1 to %d characters", maxWalletLen)
	}
	bal, created, err := s.ledger.Register(ctx, walletID)
	if err != nil {
		return WalletBalance{}, err
	}
	if created {
		s.log.Info("wallet registered", zap.String("wallet", walletID))
	}
	return WalletBalance{WalletID: walletID, Balance: bal, Registered: true}, nil
}

// Deposit credita um depósito já confirmado fora do motor. Depósitos na carteira da casa
// aumentam o bankroll disponível para cobrir apostas.
func (s *Service) Deposit(ctx context.Context, walletID string, amount int64, ref string) (WalletBalance, error) {
	switch {
	case walletID == "" || len(walletID) > maxWalletLen:
		return WalletBalance{}, invalid("wallet", "must have 1 to %d characters", maxWalletLen)
	case amount <= 0:
		return WalletBalance{}, invalid("amount", "must be positive")
	case ref == "":
		return WalletBalance{}, invalid("txRef", "required")
	}

	bal, err := s.ledger.Deposit(ctx, walletID, amount, ref)
	if errors.Is(err, ledger.ErrDuplicateReference) {
		return WalletBalance{}, invalid("txRef", "already credited")
	}
	if err != nil {
		return WalletBalance{}, err
	}
	if walletID == s.rules.HouseWallet {
		s.reportExposure(ctx)
	}
	return WalletBalance{WalletID: walletID, Balance: bal, Registered: true}, nil
}

// GetBet devolve qualquer aposta; a seed só aparece em apostas terminais.
func (s *Service) GetBet(ctx context.Context, id string) (Bet, error) {
	bet, err := s.bets.GetBet(ctx, id)
	if err != nil {
		return Bet{}, err
	}
	if !bet.State.Terminal() {
		bet.ServerSeed = ""
	}
	return bet, nil
}

func (s *Service) ListBets(ctx context.Context, walletID string, limit int) ([]Bet, error) {
	if walletID == "" {
		return nil, invalid("wallet", "required")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	bets, err := s.bets.ListByWallet(ctx, walletID, limit)
	if err != nil {
		return nil, err
	}
	for i := range bets {
		if !bets[i].State.Terminal() {
			bets[i].ServerSeed = ""
		}
	}
	return bets, nil
}

func (s *Service) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	return s.bets.Leaderboard(ctx, s.rules.LeaderboardSize)
}

// CurrentSeed devolve o hash que a próxima aposta vai congelar.
func (s *Service) CurrentSeed(ctx context.Context) (fairness.Commitment, error) {
	return s.seeds.Current(ctx)
}

// RevealSeed devolve a seed de um round já aposentado.
func (s *Service) RevealSeed(ctx context.Context, round int64) (fairness.Round, error) {
	return s.seeds.Reveal(ctx, round)
}

// Verification é o recálculo independente de uma rodada.
type Verification struct {
	Outcome   int
	HashMatch bool
	Hash      string
}

// Verify recalcula o resultado a partir do material revelado; não consulta estado.
func Verify(serverSeed, clientSeed string, nonce uint64, serverSeedHash string) (Verification, error) {
	if serverSeed == "" || clientSeed == "" {
		return Verification{}, invalid("serverSeed", "serverSeed and clientSeed are required")
	}
	v := Verification{
		Outcome: fairness.Derive(serverSeed, clientSeed, nonce),
		Hash:    fairness.HashSeed(serverSeed),
	}
	if serverSeedHash != "" {
		v.HashMatch = fairness.VerifySeed(serverSeed, serverSeedHash)
	}
	return v, nil
}

// Bankroll lê caixa e exposição da casa no store, que é compartilhado entre instâncias.
func (s *Service) Bankroll(ctx context.Context) (ledger.HouseFunds, error) {
	h, err := s.ledger.HouseFunds(ctx, s.rules.HouseWallet)
	if err != nil {
		return ledger.HouseFunds{}, err
	}
	s.bankroll.Update(h)
	return h, nil
}

// LastBankroll devolve a última leitura do caixa da casa feita por esta instância, sem ir ao store.
func (s *Service) LastBankroll() ledger.HouseFunds {
	return s.bankroll.Snapshot()
}
