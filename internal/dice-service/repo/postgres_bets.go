package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/fairdice-platform/internal/dice"
	"github.com/radieske/fairdice-platform/internal/payout"
)

const betColumns = `id, wallet_id, amount, target, direction, client_seed, nonce, round, server_seed_hash,
	multiplier, capped_profit, house_edge_bps, max_profit, state, outcome, won, profit, server_seed, failure_reason,
	created_at, resolved_at`

// NextNonce incrementa o contador de (carteira, client seed) num único UPSERT.
func (p *Postgres) NextNonce(ctx context.Context, walletID, clientSeed string) (uint64, error) {
	var next int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO client_seed_nonces(wallet_id, client_seed, next_nonce) VALUES($1,$2,1)
		ON CONFLICT (wallet_id, client_seed) DO UPDATE SET next_nonce = client_seed_nonces.next_nonce + 1
		RETURNING next_nonce`, walletID, clientSeed).Scan(&next)
	if err != nil {
		return 0, err
	}
	return uint64(next - 1), nil
}

func (p *Postgres) InsertBet(ctx context.Context, b dice.Bet) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bets(id, wallet_id, amount, target, direction, client_seed, nonce, round, server_seed_hash,
			multiplier, capped_profit, house_edge_bps, max_profit, state, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		b.ID, b.WalletID, b.Amount, b.Target, string(b.Direction), b.ClientSeed, int64(b.Nonce), b.Round,
		b.ServerSeedHash, b.Multiplier.String(), b.CappedProfit, b.HouseEdgeBps, b.MaxProfit, string(b.State), b.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateBet
	}
	return err
}

func (p *Postgres) GetBet(ctx context.Context, id string) (dice.Bet, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+betColumns+` FROM bets WHERE id=$1`, id)
	b, err := scanBet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return b, dice.ErrBetNotFound
	}
	return b, err
}

func (p *Postgres) MarkResolved(ctx context.Context, id string, r dice.Resolution) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE bets SET state='RESOLVED', outcome=$1, won=$2, profit=$3, server_seed=$4, resolved_at=$5
		WHERE id=$6 AND state='CREATED'`,
		r.Outcome, r.Won, r.Profit, r.ServerSeed, r.ResolvedAt, id)
	return p.transitioned(ctx, id, res, err)
}

func (p *Postgres) MarkFailed(ctx context.Context, id, reason, serverSeed string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE bets SET state='FAILED', failure_reason=$1, server_seed=NULLIF($2, ''), resolved_at=$3
		WHERE id=$4 AND state='CREATED'`,
		reason, serverSeed, at, id)
	return p.transitioned(ctx, id, res, err)
}

// transitioned traduz zero linhas afetadas em ErrBetNotFound ou ErrBetNotCreated.
func (p *Postgres) transitioned(ctx context.Context, id string, res sql.Result, err error) error {
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
	if _, err := p.GetBet(ctx, id); err != nil {
		return err
	}
	return dice.ErrBetNotCreated
}

func (p *Postgres) ListCreated(ctx context.Context, cutoff time.Time, limit int) ([]dice.Bet, error) {
	q := `SELECT ` + betColumns + ` FROM bets WHERE state='CREATED' AND created_at < $1 ORDER BY created_at`
	args := []any{cutoff}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	return p.queryBets(ctx, q, args...)
}

func (p *Postgres) ListByWallet(ctx context.Context, walletID string, limit int) ([]dice.Bet, error) {
	q := `SELECT ` + betColumns + ` FROM bets WHERE wallet_id=$1 ORDER BY created_at DESC`
	args := []any{walletID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	return p.queryBets(ctx, q, args...)
}

func (p *Postgres) Leaderboard(ctx context.Context, limit int) ([]dice.LeaderboardEntry, error) {
	q := `
		SELECT wallet_id, COUNT(*), COUNT(*) FILTER (WHERE won), SUM(amount), SUM(profit)
		FROM bets WHERE state='RESOLVED'
		GROUP BY wallet_id
		ORDER BY SUM(profit) DESC, SUM(amount) DESC, wallet_id`
	var args []any
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dice.LeaderboardEntry
	for rows.Next() {
		var e dice.LeaderboardEntry
		if err := rows.Scan(&e.WalletID, &e.Bets, &e.Wins, &e.Wagered, &e.Profit); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) queryBets(ctx context.Context, q string, args ...any) ([]dice.Bet, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dice.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBet(s scanner) (dice.Bet, error) {
	var (
		b          dice.Bet
		direction  string
		nonce      int64
		multiplier string
		state      string
		outcome    sql.NullInt64
		won        sql.NullBool
		profit     sql.NullInt64
		seed       sql.NullString
		reason     sql.NullString
		resolvedAt sql.NullTime
	)
	if err := s.Scan(&b.ID, &b.WalletID, &b.Amount, &b.Target, &direction, &b.ClientSeed, &nonce, &b.Round,
		&b.ServerSeedHash, &multiplier, &b.CappedProfit, &b.HouseEdgeBps, &b.MaxProfit, &state, &outcome, &won, &profit, &seed, &reason,
		&b.CreatedAt, &resolvedAt); err != nil {
		return dice.Bet{}, err
	}

	m, err := decimal.NewFromString(multiplier)
	if err != nil {
		return dice.Bet{}, err
	}
	b.Direction = payout.Direction(direction)
	b.Nonce = uint64(nonce)
	b.Multiplier = m
	b.State = dice.State(state)
	b.ServerSeed = seed.String
	b.FailureReason = reason.String
	if outcome.Valid {
		v := int(outcome.Int64)
		b.Outcome = &v
	}
	if won.Valid {
		v := won.Bool
		b.Won = &v
	}
	if profit.Valid {
		v := profit.Int64
		b.Profit = &v
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		b.ResolvedAt = &t
	}
	return b, nil
}
