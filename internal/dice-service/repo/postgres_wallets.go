package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/radieske/fairdice-platform/internal/ledger"
	"github.com/radieske/fairdice-platform/internal/shared/db"
)

func (p *Postgres) EnsureWallet(ctx context.Context, walletID string) (int64, bool, error) {
	var bal int64
	var created bool
	err := db.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO wallets(id) VALUES($1) ON CONFLICT (id) DO NOTHING`, walletID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n == 1
		return tx.QueryRowContext(ctx, `SELECT available FROM wallets WHERE id=$1`, walletID).Scan(&bal)
	})
	return bal, created, err
}

func (p *Postgres) Balance(ctx context.Context, walletID string) (int64, error) {
	var bal int64
	err := p.db.QueryRowContext(ctx, `SELECT available FROM wallets WHERE id=$1`, walletID).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrWalletNotFound
	}
	return bal, err
}

// Credit grava o depósito; o índice único em wallet_ledger(reference) WHERE DEPOSIT garante idempotência.
func (p *Postgres) Credit(ctx context.Context, walletID string, amount int64, ref string) (int64, error) {
	var bal int64
	err := db.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO wallets(id) VALUES($1) ON CONFLICT (id) DO NOTHING`, walletID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wallet_ledger(wallet_id, operation_type, amount, reference) VALUES($1,$2,$3,$4)`,
			walletID, ledger.OpDeposit, amount, ref); err != nil {
			if isUniqueViolation(err) {
				return ledger.ErrDuplicateReference
			}
			return err
		}
		return tx.QueryRowContext(ctx,
			`UPDATE wallets SET available = available + $1, updated_at = NOW() WHERE id=$2 RETURNING available`,
			amount, walletID).Scan(&bal)
	})
	return bal, err
}

// Reserve compromete o caixa da casa, trava a linha da carteira, confere o saldo, debita e abre a reserva.
// Casa antes do jogador, na mesma ordem de Settle e Release.
func (p *Postgres) Reserve(ctx context.Context, walletID string, amount int64, ref string, hold ledger.Hold) (ledger.Reservation, int64, error) {
	var res ledger.Reservation
	var bal int64
	err := db.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		if hold.Amount > 0 {
			r, err := tx.ExecContext(ctx,
				`UPDATE wallets SET exposure = exposure + $1, updated_at = NOW() WHERE id=$2 AND available - exposure >= $1`,
				hold.Amount, hold.WalletID)
			if err != nil {
				return err
			}
			n, err := r.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return ledger.ErrInsufficientHouseFunds
			}
		}

		err := tx.QueryRowContext(ctx, `SELECT available FROM wallets WHERE id=$1 FOR UPDATE`, walletID).Scan(&bal)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrWalletNotFound
		}
		if err != nil {
			return err
		}
		if bal < amount {
			return ledger.ErrInsufficientBalance
		}

		var houseID sql.NullString
		if hold.Amount > 0 {
			houseID = sql.NullString{String: hold.WalletID, Valid: true}
		}
		var createdAt time.Time
		err = tx.QueryRowContext(ctx,
			`INSERT INTO wallet_reservations(id, wallet_id, amount, status, house_wallet_id, exposure)
			 VALUES($1,$2,$3,$4,$5,$6) RETURNING created_at`,
			ref, walletID, amount, ledger.ReservationOpen, houseID, hold.Amount).Scan(&createdAt)
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateReference
		}
		if err != nil {
			return err
		}

		if err := tx.QueryRowContext(ctx,
			`UPDATE wallets SET available = available - $1, updated_at = NOW() WHERE id=$2 RETURNING available`,
			amount, walletID).Scan(&bal); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wallet_ledger(wallet_id, operation_type, amount, reference) VALUES($1,$2,$3,$4)`,
			walletID, ledger.OpReserve, -amount, ref); err != nil {
			return err
		}

		res = ledger.Reservation{
			ID: ref, WalletID: walletID, Amount: amount, Status: ledger.ReservationOpen, CreatedAt: createdAt,
			HouseWalletID: houseID.String, Exposure: hold.Amount,
		}
		return nil
	})
	return res, bal, err
}

const reservationColumns = `id, wallet_id, amount, status, payout, created_at, closed_at, house_wallet_id, exposure`

// lockOpenReservation trava a reserva e exige status OPEN.
func lockOpenReservation(ctx context.Context, tx *sql.Tx, id string) (ledger.Reservation, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+reservationColumns+`
		FROM wallet_reservations WHERE id=$1 FOR UPDATE`, id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ledger.ErrReservationNotFound
	}
	if err != nil {
		return r, err
	}
	if r.Status != ledger.ReservationOpen {
		return r, &ledger.ClosedError{ID: id, Status: r.Status}
	}
	return r, nil
}

func (p *Postgres) Settle(ctx context.Context, id string, payout int64, house ledger.HouseMove) (int64, error) {
	var bal int64
	err := db.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		r, err := lockOpenReservation(ctx, tx, id)
		if err != nil {
			return err
		}

		// casa antes do jogador: ordem fixa de locks entre liquidações concorrentes
		var houseBal int64
		err = tx.QueryRowContext(ctx, `SELECT available FROM wallets WHERE id=$1 FOR UPDATE`, house.WalletID).Scan(&houseBal)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrWalletNotFound
		}
		if err != nil {
			return err
		}
		if houseBal+house.Delta < 0 {
			return ledger.ErrInsufficientBalance
		}
		if err := dropExposure(ctx, tx, r); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE wallet_reservations SET status=$1, payout=$2, closed_at=NOW() WHERE id=$3`,
			ledger.ReservationSettled, payout, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE wallets SET available = available + $1, updated_at = NOW() WHERE id=$2`,
			house.Delta, house.WalletID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`UPDATE wallets SET available = available + $1, updated_at = NOW() WHERE id=$2 RETURNING available`,
			payout, r.WalletID).Scan(&bal); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wallet_ledger(wallet_id, operation_type, amount, reference) VALUES($1,$2,$3,$4),($5,$6,$7,$4)`,
			r.WalletID, ledger.OpSettle, payout, id, house.WalletID, ledger.OpHouse, house.Delta); err != nil {
			return err
		}
		return nil
	})
	return bal, err
}

func (p *Postgres) Release(ctx context.Context, id string) (int64, error) {
	var bal int64
	err := db.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		r, err := lockOpenReservation(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE wallet_reservations SET status=$1, closed_at=NOW() WHERE id=$2`,
			ledger.ReservationReleased, id); err != nil {
			return err
		}
		if err := dropExposure(ctx, tx, r); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`UPDATE wallets SET available = available + $1, updated_at = NOW() WHERE id=$2 RETURNING available`,
			r.Amount, r.WalletID).Scan(&bal); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO wallet_ledger(wallet_id, operation_type, amount, reference) VALUES($1,$2,$3,$4)`,
			r.WalletID, ledger.OpRelease, r.Amount, id)
		return err
	})
	return bal, err
}

// dropExposure devolve à casa o lucro comprometido pela reserva que está fechando.
func dropExposure(ctx context.Context, tx *sql.Tx, r ledger.Reservation) error {
	if r.Exposure == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE wallets SET exposure = exposure - $1, updated_at = NOW() WHERE id=$2`,
		r.Exposure, r.HouseWalletID)
	return err
}

func (p *Postgres) HouseFunds(ctx context.Context, walletID string) (ledger.HouseFunds, error) {
	var h ledger.HouseFunds
	err := p.db.QueryRowContext(ctx, `SELECT available, exposure FROM wallets WHERE id=$1`, walletID).Scan(&h.Funds, &h.Exposure)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.HouseFunds{}, nil
	}
	return h, err
}

func (p *Postgres) GetReservation(ctx context.Context, id string) (ledger.Reservation, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+reservationColumns+`
		FROM wallet_reservations WHERE id=$1`, id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ledger.ErrReservationNotFound
	}
	return r, err
}

func (p *Postgres) OpenReservations(ctx context.Context, cutoff time.Time) ([]ledger.Reservation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM wallet_reservations
		WHERE status='OPEN' AND created_at < $1
		ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReservation(s scanner) (ledger.Reservation, error) {
	var r ledger.Reservation
	var status string
	var closed sql.NullTime
	var houseID sql.NullString
	if err := s.Scan(&r.ID, &r.WalletID, &r.Amount, &status, &r.Payout, &r.CreatedAt, &closed, &houseID, &r.Exposure); err != nil {
		return ledger.Reservation{}, err
	}
	r.Status = ledger.ReservationStatus(status)
	r.HouseWalletID = houseID.String
	if closed.Valid {
		t := closed.Time
		r.ClosedAt = &t
	}
	return r, nil
}
