package repo

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/radieske/fairdice-platform/internal/dice"
	"github.com/radieske/fairdice-platform/internal/fairness"
	"github.com/radieske/fairdice-platform/internal/ledger"
)

// Postgres implementa ledger.Store, fairness.SeedStore e dice.Store sobre o schema de migrations/.
type Postgres struct{ db *sql.DB }

var (
	_ ledger.Store       = (*Postgres)(nil)
	_ fairness.SeedStore = (*Postgres)(nil)
	_ dice.Store         = (*Postgres)(nil)
)

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

var ErrDuplicateBet = errors.New("bet already exists")

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// scanner cobre *sql.Row e *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
