// Package payout calcula probabilidade, multiplicador e lucro limitado de uma aposta no dado.
// Não guarda estado; toda a aritmética monetária é inteira ou decimal exata.
package payout

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/radieske/fairdice-platform/internal/fairness"
)

type Direction string

const (
	Over  Direction = "over"
	Under Direction = "under"
)

const bpsDenominator = 10_000

var (
	ErrInvalidDirection = errors.New("direction must be over or under")
	ErrTargetOutOfRange = errors.New("target out of range")
	ErrDegenerateTarget = errors.New("target leaves no winning or no losing outcome")
	ErrInvalidWager     = errors.New("wager must be positive")
	ErrInvalidEdge      = errors.New("house edge out of range")
	ErrNoProfit         = errors.New("bet cannot produce a profit")
	ErrInvalidCap       = errors.New("max profit must be positive")
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Over, Under:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

// Params são as duas configurações independentes: a vantagem da casa e o teto de lucro.
type Params struct {
	HouseEdgeBps int64
	MaxProfit    int64
}

// Quote é o resultado da cotação. Probabilidade e multiplicador nunca são afetados pelo teto;
// só CappedProfit (o que de fato é pago numa vitória) é limitado.
type Quote struct {
	Direction      Direction
	Target         int
	Wager          int64
	WinCount       int64           // resultados vencedores dentre Range
	WinProbability decimal.Decimal // WinCount / Range
	RawMultiplier  decimal.Decimal // 1 / WinProbability
	Multiplier     decimal.Decimal // RawMultiplier * (1 - edge)
	Profit         int64           // floor(wager * (Multiplier - 1)), sem teto
	CappedProfit   int64
	Capped         bool
}

// WinCount conta os resultados vencedores: under ganha com outcome < target,
// over ganha com outcome > target.
func WinCount(dir Direction, target int) int64 {
	switch dir {
	case Under:
		return int64(target)
	case Over:
		return int64(fairness.Range - 1 - target)
	default:
		return 0
	}
}

// Wins decide se um resultado vence a aposta.
func Wins(dir Direction, target, outcome int) bool {
	switch dir {
	case Under:
		return outcome < target
	case Over:
		return outcome > target
	default:
		return false
	}
}

// Calculate cota uma aposta. Alvos que deixam probabilidade 0 ou 1 são rejeitados,
// assim como apostas cujo lucro arredondado seria zero ou negativo.
func Calculate(dir Direction, target int, wager int64, p Params) (Quote, error) {
	if dir != Over && dir != Under {
		return Quote{}, ErrInvalidDirection
	}
	if target < 0 || target >= fairness.Range {
		return Quote{}, fmt.Errorf("%w: %d not in [0, %d)", ErrTargetOutOfRange, target, fairness.Range)
	}
	if wager <= 0 {
		return Quote{}, ErrInvalidWager
	}
	if p.HouseEdgeBps < 0 || p.HouseEdgeBps >= bpsDenominator {
		return Quote{}, fmt.Errorf("%w: %d bps", ErrInvalidEdge, p.HouseEdgeBps)
	}
	if p.MaxProfit <= 0 {
		return Quote{}, ErrInvalidCap
	}

	wins := WinCount(dir, target)
	if wins <= 0 || wins >= fairness.Range {
		return Quote{}, fmt.Errorf("%w: %s %d", ErrDegenerateTarget, dir, target)
	}

	rangeD := decimal.NewFromInt(fairness.Range)
	winsD := decimal.NewFromInt(wins)
	keep := decimal.NewFromInt(bpsDenominator - p.HouseEdgeBps)
	bps := decimal.NewFromInt(bpsDenominator)

	q := Quote{
		Direction:      dir,
		Target:         target,
		Wager:          wager,
		WinCount:       wins,
		WinProbability: winsD.Div(rangeD),
		RawMultiplier:  rangeD.Div(winsD),
		Multiplier:     rangeD.Mul(keep).Div(winsD.Mul(bps)),
	}

	// lucro exato: wager * (Range*keep - wins*bps) / (wins*bps), truncado
	num := rangeD.Mul(keep).Sub(winsD.Mul(bps))
	if !num.IsPositive() {
		return Quote{}, ErrNoProfit
	}
	profit, _ := decimal.NewFromInt(wager).Mul(num).QuoRem(winsD.Mul(bps), 0)
	if !profit.IsPositive() {
		return Quote{}, ErrNoProfit
	}

	maxProfit := decimal.NewFromInt(p.MaxProfit)
	if profit.GreaterThan(maxProfit) {
		q.Capped = true
		q.CappedProfit = p.MaxProfit
		q.Profit = math.MaxInt64
		if profit.LessThan(decimal.NewFromInt(math.MaxInt64)) {
			q.Profit = profit.IntPart()
		}
		return q, nil
	}
	q.Profit = profit.IntPart()
	q.CappedProfit = q.Profit
	return q, nil
}
