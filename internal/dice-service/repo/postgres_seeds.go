package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/radieske/fairdice-platform/internal/fairness"
)

// InsertActiveRound depende do índice único parcial em seed_rounds(state) WHERE ACTIVE.
func (p *Postgres) InsertActiveRound(ctx context.Context, seed, hash string, at time.Time) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO seed_rounds(server_seed, server_seed_hash, state, created_at) VALUES($1,$2,$3,$4) RETURNING round`,
		seed, hash, fairness.RoundActive, at).Scan(&n)
	if isUniqueViolation(err) {
		return 0, fairness.ErrActiveRoundExists
	}
	return n, err
}

func (p *Postgres) ActiveRound(ctx context.Context) (fairness.Round, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT round, server_seed, server_seed_hash, state, bet_id, created_at, retired_at
		FROM seed_rounds WHERE state='ACTIVE'`)
	return scanRound(row)
}

func (p *Postgres) GetRound(ctx context.Context, number int64) (fairness.Round, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT round, server_seed, server_seed_hash, state, bet_id, created_at, retired_at
		FROM seed_rounds WHERE round=$1`, number)
	return scanRound(row)
}

// BindRound é um compare-and-set: só o primeiro a chegar move ACTIVE -> BOUND.
func (p *Postgres) BindRound(ctx context.Context, number int64, betID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE seed_rounds SET state='BOUND', bet_id=$1 WHERE round=$2 AND state='ACTIVE'`, betID, number)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := p.GetRound(ctx, number); err != nil {
		return err
	}
	return fairness.ErrRoundUnavailable
}

func (p *Postgres) RetireRound(ctx context.Context, number int64, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE seed_rounds SET state='RETIRED', retired_at=$1 WHERE round=$2 AND state <> 'RETIRED'`, at, number)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// já aposentado ou inexistente
		_, err := p.GetRound(ctx, number)
		return err
	}
	return nil
}

func scanRound(s scanner) (fairness.Round, error) {
	var r fairness.Round
	var state string
	var betID sql.NullString
	var retired sql.NullTime
	err := s.Scan(&r.Number, &r.ServerSeed, &r.ServerSeedHash, &state, &betID, &r.CreatedAt, &retired)
	if errors.Is(err, sql.ErrNoRows) {
		return fairness.Round{}, fairness.ErrRoundNotFound
	}
	if err != nil {
		return fairness.Round{}, err
	}
	r.State = fairness.RoundState(state)
	r.BetID = betID.String
	if retired.Valid {
		t := retired.Time
		r.RetiredAt = &t
	}
	return r, nil
}
