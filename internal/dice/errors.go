package dice

import (
	"errors"
	"fmt"

	"github.com/radieske/fairdice-platform/internal/fairness"
	"github.com/radieske/fairdice-platform/internal/ledger"
)

var (
	ErrValidation             = errors.New("validation error")
	ErrInsufficientBalance    = ledger.ErrInsufficientBalance
	ErrInsufficientHouseFunds = ledger.ErrInsufficientHouseFunds
	ErrAlreadyResolved        = errors.New("bet already resolved")
	ErrSeedNotYetRevealable   = fairness.ErrSeedNotYetRevealable
	ErrSettlementFailure      = errors.New("settlement failure")

	ErrBetNotFound   = errors.New("bet not found")
	ErrBetFailed     = errors.New("bet failed")
	ErrBetNotCreated = errors.New("bet is not in CREATED state")
	ErrGameDisabled  = errors.New("game disabled")
)

// ValidationError descreve uma entrada rejeitada antes de qualquer movimentação de saldo.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
