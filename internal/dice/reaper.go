package dice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/fairdice-platform/internal/ledger"
)

const reapBatch = 500

// ReapReport resume uma passada do reaper.
type ReapReport struct {
	Failed          int // apostas expiradas que tiveram a reserva devolvida
	Completed       int // apostas já liquidadas cujo registro foi completado
	OrphansReleased int // reservas abertas sem aposta correspondente
}

func (r ReapReport) Empty() bool {
	return r.Failed == 0 && r.Completed == 0 && r.OrphansReleased == 0
}

type reapResult int

const (
	reapSkipped reapResult = iota
	reapFailed
	reapCompleted
)

// ReapExpired resolve apostas CREATED mais velhas que BetTimeout e reservas órfãs.
// A reserva decide o desfecho: OPEN é devolvida (aposta FAILED), SETTLED significa que o saldo
// já foi liquidado e só falta completar o registro (aposta RESOLVED).
func (s *Service) ReapExpired(ctx context.Context) (ReapReport, error) {
	var report ReapReport
	var errs []error

	cutoff := s.now().Add(-s.rules.BetTimeout)
	bets, err := s.bets.ListCreated(ctx, cutoff, reapBatch)
	if err != nil {
		return report, fmt.Errorf("list expired bets: %w", err)
	}

	for _, b := range bets {
		res, err := s.reapBet(ctx, b.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("reap %s: %w", b.ID, err))
			continue
		}
		switch res {
		case reapFailed:
			report.Failed++
		case reapCompleted:
			report.Completed++
		}
	}

	released, err := s.releaseOrphans(ctx, cutoff)
	report.OrphansReleased = released
	if err != nil {
		errs = append(errs, err)
	}

	if !report.Empty() {
		s.log.Info("reaper pass",
			zap.Int("failed", report.Failed),
			zap.Int("completed", report.Completed),
			zap.Int("orphans_released", report.OrphansReleased),
		)
	}
	return report, errors.Join(errs...)
}

func (s *Service) reapBet(ctx context.Context, id string) (reapResult, error) {
	unlock := s.betLocks.Lock(id)
	defer unlock()

	bet, err := s.bets.GetBet(ctx, id)
	if err != nil {
		return reapSkipped, err
	}
	if bet.State != StateCreated {
		return reapSkipped, nil
	}

	res, err := s.ledger.Reservation(ctx, bet.ID)
	if errors.Is(err, ledger.ErrReservationNotFound) {
		return reapFailed, s.markFailed(ctx, bet, "reservation missing")
	}
	if err != nil {
		return reapSkipped, err
	}

	switch res.Status {
	case ledger.ReservationOpen:
		_, err := s.ledger.Release(ctx, ledger.TokenOf(res))
		if err != nil && !errors.Is(err, ledger.ErrReservationClosed) {
			return reapSkipped, err
		}
		s.reportExposure(ctx)
		return reapFailed, s.markFailed(ctx, bet, "timeout")
	case ledger.ReservationReleased:
		return reapFailed, s.markFailed(ctx, bet, "timeout")
	case ledger.ReservationSettled:
		return reapCompleted, s.completeSettled(ctx, bet)
	default:
		return reapSkipped, fmt.Errorf("unknown reservation status %q", res.Status)
	}
}

// completeSettled grava o desfecho de uma aposta cujo saldo já foi liquidado.
// O resultado é recalculado a partir da seed ainda guardada; saldo e exposição já foram acertados.
func (s *Service) completeSettled(ctx context.Context, bet Bet) error {
	seed, err := s.fetchSecret(ctx, bet)
	if err != nil {
		return err
	}
	bal, err := s.ledger.Balance(ctx, bet.WalletID)
	if err != nil {
		return err
	}
	s.finishResolved(ctx, bet, s.outcome(bet, seed), bal)
	return nil
}

// releaseOrphans devolve reservas abertas cuja aposta nunca foi gravada (queda entre reserva e insert).
func (s *Service) releaseOrphans(ctx context.Context, cutoff time.Time) (int, error) {
	open, err := s.ledger.OpenReservations(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list open reservations: %w", err)
	}

	var errs []error
	released := 0
	for _, r := range open {
		_, err := s.bets.GetBet(ctx, r.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrBetNotFound) {
			errs = append(errs, err)
			continue
		}
		if _, err := s.ledger.Release(ctx, ledger.TokenOf(r)); err != nil && !errors.Is(err, ledger.ErrReservationClosed) {
			errs = append(errs, err)
			continue
		}
		s.log.Warn("orphan reservation released", zap.String("reservation", r.ID), zap.String("wallet", r.WalletID))
		released++
	}
	if released > 0 {
		s.reportExposure(ctx)
	}
	return released, errors.Join(errs...)
}

// Recover roda na subida: garante a carteira da casa, completa as apostas CREATED cujo saldo
// já foi liquidado e passa o reaper. Caixa e exposição vivem no store e não precisam ser reconstruídos.
func (s *Service) Recover(ctx context.Context) error {
	if _, _, err := s.ledger.Register(ctx, s.rules.HouseWallet); err != nil {
		return fmt.Errorf("load house wallet: %w", err)
	}

	created, err := s.bets.ListCreated(ctx, s.now(), 0)
	if err != nil {
		return fmt.Errorf("list open bets: %w", err)
	}

	completed := 0
	for _, b := range created {
		res, err := s.ledger.Reservation(ctx, b.ID)
		if err != nil {
			s.log.Warn("recover: reservation lookup failed", zap.String("bet_id", b.ID), zap.Error(err))
			continue
		}
		if res.Status != ledger.ReservationSettled {
			continue
		}
		if _, err := s.reapBet(ctx, b.ID); err != nil {
			s.log.Error("recover: complete settled bet failed", zap.String("bet_id", b.ID), zap.Error(err))
			continue
		}
		completed++
	}

	house, err := s.Bankroll(ctx)
	if err != nil {
		return fmt.Errorf("load house funds: %w", err)
	}

	s.log.Info("recovered state",
		zap.Int64("house_funds", house.Funds),
		zap.Int64("exposure", house.Exposure),
		zap.Int("open_bets", len(created)),
		zap.Int("completed", completed),
	)

	if _, err := s.ReapExpired(ctx); err != nil {
		s.log.Warn("recover: reaper pass had errors", zap.Error(err))
	}
	return nil
}
