package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/willexec/willexec/internal/domain/will"
)

// WillRepository implements will.Repository.
type WillRepository struct {
	pool *pgxpool.Pool
}

func NewWillRepository(pool *pgxpool.Pool) *WillRepository {
	return &WillRepository{pool: pool}
}

func (r *WillRepository) Get(ctx context.Context) (*will.Will, error) {
	var w will.Will
	err := r.pool.QueryRow(ctx, `
		SELECT statement_text, executor_identity, poll_interval_seconds, fixed_payout_amount, created_at, updated_at
		FROM wills WHERE will_id=1
	`).Scan(&w.StatementText, &w.ExecutorIdentity, &w.PollIntervalSeconds, &w.FixedPayoutAmount, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT account_id, split_weight::text FROM will_beneficiaries ORDER BY position ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var b will.BeneficiaryShare
		var weight string
		if err := rows.Scan(&b.AccountID, &weight); err != nil {
			return nil, err
		}
		if b.SplitWeight, err = decimal.NewFromString(weight); err != nil {
			return nil, err
		}
		w.Beneficiaries = append(w.Beneficiaries, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	accts, err := r.pool.Query(ctx, `
		SELECT platform, identifier, grace_window_days::text, last_known_activity_at
		FROM monitored_accounts ORDER BY position ASC
	`)
	if err != nil {
		return nil, err
	}
	defer accts.Close()
	for accts.Next() {
		var a will.MonitoredAccount
		var grace string
		if err := accts.Scan(&a.Platform, &a.Identifier, &grace, &a.LastKnownActivityAt); err != nil {
			return nil, err
		}
		if a.GraceWindowDays, err = decimal.NewFromString(grace); err != nil {
			return nil, err
		}
		w.MonitoredAccounts = append(w.MonitoredAccounts, a)
	}
	return &w, accts.Err()
}

func (r *WillRepository) Save(ctx context.Context, w *will.Will) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO wills (will_id, statement_text, executor_identity, poll_interval_seconds, fixed_payout_amount, created_at, updated_at)
		VALUES (1,$1,$2,$3,$4,$5,$6)
		ON CONFLICT (will_id) DO UPDATE SET
			statement_text=EXCLUDED.statement_text,
			executor_identity=EXCLUDED.executor_identity,
			poll_interval_seconds=EXCLUDED.poll_interval_seconds,
			fixed_payout_amount=EXCLUDED.fixed_payout_amount,
			updated_at=EXCLUDED.updated_at
	`, w.StatementText, w.ExecutorIdentity, w.PollIntervalSeconds, w.FixedPayoutAmount, w.CreatedAt, w.UpdatedAt); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM will_beneficiaries`); err != nil {
		return err
	}
	for i, b := range w.Beneficiaries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO will_beneficiaries (position, account_id, split_weight) VALUES ($1,$2,$3)
		`, i, b.AccountID, b.SplitWeight.String()); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM monitored_accounts`); err != nil {
		return err
	}
	for i, a := range w.MonitoredAccounts {
		if _, err := tx.Exec(ctx, `
			INSERT INTO monitored_accounts (position, platform, identifier, grace_window_days, last_known_activity_at)
			VALUES ($1,$2,$3,$4,$5)
		`, i, string(a.Platform), a.Identifier, a.GraceWindowDays.String(), a.LastKnownActivityAt); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *WillRepository) UpdateActivity(ctx context.Context, updates []will.ActivityUpdate, updatedAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		if _, err := tx.Exec(ctx, `
			UPDATE monitored_accounts SET last_known_activity_at=$1 WHERE platform=$2 AND identifier=$3
		`, u.At, string(u.Platform), u.Identifier); err != nil {
			return err
		}
	}
	tag, err := tx.Exec(ctx, `UPDATE wills SET updated_at=$1 WHERE will_id=1`, updatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return will.ErrNotFound
	}
	return tx.Commit(ctx)
}
