// Package money converte valores decimais (ex.: "10.5") para unidades mínimas inteiras e vice-versa.
// Todo o núcleo trabalha em int64 de unidades mínimas; decimal só aparece nas bordas (config, HTTP).
package money

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

const DefaultDecimals int32 = 6

var (
	ErrNegative     = errors.New("amount must not be negative")
	ErrTooPrecise   = errors.New("amount has more fractional digits than the token supports")
	ErrOverflow     = errors.New("amount overflows int64 units")
	ErrInvalidInput = errors.New("amount is not a decimal number")
)

var maxUnits = decimal.NewFromInt(math.MaxInt64)

// ToUnits converte um valor decimal em unidades mínimas, sem arredondar.
func ToUnits(d decimal.Decimal, decimals int32) (int64, error) {
	if d.IsNegative() {
		return 0, ErrNegative
	}
	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return 0, ErrTooPrecise
	}
	if shifted.GreaterThan(maxUnits) {
		return 0, ErrOverflow
	}
	return shifted.IntPart(), nil
}

// Parse aceita uma string decimal ("10", "0.25") e devolve unidades mínimas.
func Parse(s string, decimals int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidInput
	}
	return ToUnits(d, decimals)
}

func FromUnits(units int64, decimals int32) decimal.Decimal {
	return decimal.New(units, -decimals)
}

// Format devolve a representação com casas fixas, ex.: 15000000 (6 casas) -> "15.000000".
func Format(units int64, decimals int32) string {
	return FromUnits(units, decimals).StringFixed(decimals)
}
