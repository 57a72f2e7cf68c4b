package dice

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/fairdice-platform/internal/feed"
	"github.com/radieske/fairdice-platform/internal/shared/money"
	"github.com/radieske/fairdice-platform/pkg/contracts/events"
)

func (s *Service) emitPlaced(ctx context.Context, bet Bet) {
	if s.feed != nil {
		s.feed.Publish(ctx, s.feedEvent(feed.TypeBet, bet))
	}
	if s.publ == nil {
		return
	}
	err := s.publ.PublishBetPlaced(ctx, events.BetPlaced{
		BetID:          bet.ID,
		WalletID:       bet.WalletID,
		AmountUnits:    bet.Amount,
		Target:         bet.Target,
		Direction:      string(bet.Direction),
		ClientSeed:     bet.ClientSeed,
		Nonce:          bet.Nonce,
		Round:          bet.Round,
		ServerSeedHash: bet.ServerSeedHash,
		Multiplier:     bet.Multiplier.String(),
		CappedProfit:   bet.CappedProfit,
		ReservedRef:    bet.ID,
	})
	if err != nil {
		s.log.Warn("publish bet_placed failed", zap.String("bet_id", bet.ID), zap.Error(err))
	}
}

func (s *Service) emitResolved(ctx context.Context, bet Bet) {
	if s.feed != nil {
		s.feed.Publish(ctx, s.feedEvent(feed.TypeResult, bet))
	}
	if s.publ == nil {
		return
	}
	if err := s.publ.PublishBetResolved(ctx, ResolvedEvent(bet)); err != nil {
		s.log.Warn("publish bet_resolved failed", zap.String("bet_id", bet.ID), zap.Error(err))
	}
}

// ResolvedEvent monta o evento de auditoria de uma aposta terminal.
func ResolvedEvent(bet Bet) events.BetResolved {
	return events.BetResolved{
		BetID:          bet.ID,
		WalletID:       bet.WalletID,
		State:          string(bet.State),
		AmountUnits:    bet.Amount,
		Target:         bet.Target,
		Direction:      string(bet.Direction),
		ClientSeed:     bet.ClientSeed,
		Nonce:          bet.Nonce,
		Round:          bet.Round,
		ServerSeedHash: bet.ServerSeedHash,
		ServerSeed:     bet.ServerSeed,
		Outcome:        bet.Outcome,
		Won:            bet.Won,
		ProfitUnits:    bet.Profit,
		CappedProfit:   bet.CappedProfit,
		HouseEdgeBps:   bet.HouseEdgeBps,
		MaxProfit:      bet.MaxProfit,
		Reason:         bet.FailureReason,
	}
}

func (s *Service) feedEvent(t feed.EventType, bet Bet) feed.Event {
	ev := feed.Event{
		ID:             uuid.NewString(),
		Type:           t,
		BetID:          bet.ID,
		Wallet:         bet.WalletID,
		Amount:         money.Format(bet.Amount, s.rules.Decimals),
		Target:         bet.Target,
		Direction:      string(bet.Direction),
		Multiplier:     bet.Multiplier.StringFixed(4),
		Round:          bet.Round,
		ServerSeedHash: bet.ServerSeedHash,
		At:             bet.CreatedAt,
	}
	if t == feed.TypeResult {
		ev.State = string(bet.State)
		ev.Result = bet.Outcome
		ev.Won = bet.Won
		if bet.Profit != nil {
			ev.Profit = money.Format(*bet.Profit, s.rules.Decimals)
		}
		if bet.ResolvedAt != nil {
			ev.At = *bet.ResolvedAt
		}
	}
	return ev
}
