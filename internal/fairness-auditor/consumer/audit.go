package consumer

import (
	"errors"
	"fmt"

	"github.com/radieske/fairdice-platform/internal/fairness"
	"github.com/radieske/fairdice-platform/internal/payout"
	"github.com/radieske/fairdice-platform/pkg/contracts/events"
)

var ErrMismatch = errors.New("audit mismatch")

// MismatchError descreve o primeiro campo que não bate com o recálculo.
type MismatchError struct {
	BetID string
	Field string
	Want  string
	Got   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("bet %s: %s mismatch: recomputed %s, event has %s", e.BetID, e.Field, e.Want, e.Got)
}

func (e *MismatchError) Is(target error) bool { return target == ErrMismatch }

func mismatch(ev events.BetResolved, field string, want, got any) error {
	return &MismatchError{BetID: ev.BetID, Field: field, Want: fmt.Sprint(want), Got: fmt.Sprint(got)}
}

// Auditor recalcula cada aposta terminal só com o material publicado no evento.
// Params só vale para eventos que não trazem as regras da cotação.
type Auditor struct {
	Params payout.Params
}

func (a Auditor) paramsFor(ev events.BetResolved) payout.Params {
	if ev.MaxProfit > 0 {
		return payout.Params{HouseEdgeBps: ev.HouseEdgeBps, MaxProfit: ev.MaxProfit}
	}
	return a.Params
}

// Audit confere hash da seed, resultado, vitória e lucro. Apostas FAILED só têm a seed conferida.
func (a Auditor) Audit(ev events.BetResolved) error {
	if ev.ServerSeed == "" {
		if ev.State == "RESOLVED" {
			return mismatch(ev, "server_seed", "revealed", "empty")
		}
		return nil
	}
	if !fairness.VerifySeed(ev.ServerSeed, ev.ServerSeedHash) {
		return mismatch(ev, "server_seed_hash", fairness.HashSeed(ev.ServerSeed), ev.ServerSeedHash)
	}
	if ev.State != "RESOLVED" {
		return nil
	}
	if ev.Outcome == nil || ev.Won == nil || ev.ProfitUnits == nil {
		return mismatch(ev, "outcome", "present", "missing")
	}

	outcome := fairness.Derive(ev.ServerSeed, ev.ClientSeed, ev.Nonce)
	if outcome != *ev.Outcome {
		return mismatch(ev, "outcome", outcome, *ev.Outcome)
	}

	dir, err := payout.ParseDirection(ev.Direction)
	if err != nil {
		return mismatch(ev, "direction", "over|under", ev.Direction)
	}
	won := payout.Wins(dir, ev.Target, outcome)
	if won != *ev.Won {
		return mismatch(ev, "won", won, *ev.Won)
	}

	q, err := payout.Calculate(dir, ev.Target, ev.AmountUnits, a.paramsFor(ev))
	if err != nil {
		return mismatch(ev, "quote", "valid", err.Error())
	}
	if q.CappedProfit != ev.CappedProfit {
		return mismatch(ev, "capped_profit", q.CappedProfit, ev.CappedProfit)
	}
	profit := -ev.AmountUnits
	if won {
		profit = q.CappedProfit
	}
	if profit != *ev.ProfitUnits {
		return mismatch(ev, "profit", profit, *ev.ProfitUnits)
	}
	return nil
}
