package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/willexec/willexec/internal/domain/will"
)

// WillRepository implements will.Repository.
type WillRepository struct {
	db *sql.DB
}

func NewWillRepository(db *sql.DB) *WillRepository {
	return &WillRepository{db: db}
}

func (r *WillRepository) Get(ctx context.Context) (*will.Will, error) {
	var (
		w                will.Will
		fixed            sql.NullInt64
		created, updated string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT statement_text, executor_identity, poll_interval_seconds, fixed_payout_amount, created_at, updated_at
		FROM wills WHERE will_id = 1
	`).Scan(&w.StatementText, &w.ExecutorIdentity, &w.PollIntervalSeconds, &fixed, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if fixed.Valid {
		amt := fixed.Int64
		w.FixedPayoutAmount = &amt
	}
	if w.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT account_id, split_weight FROM will_beneficiaries ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var b will.BeneficiaryShare
		var weight string
		if err := rows.Scan(&b.AccountID, &weight); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if b.SplitWeight, err = decimal.NewFromString(weight); err != nil {
			_ = rows.Close()
			return nil, err
		}
		w.Beneficiaries = append(w.Beneficiaries, b)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	accts, err := r.db.QueryContext(ctx, `
		SELECT platform, identifier, grace_window_days, last_known_activity_at
		FROM monitored_accounts ORDER BY position ASC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = accts.Close() }()
	for accts.Next() {
		var (
			a        will.MonitoredAccount
			platform string
			grace    string
			last     sql.NullString
		)
		if err := accts.Scan(&platform, &a.Identifier, &grace, &last); err != nil {
			return nil, err
		}
		a.Platform = will.Platform(platform)
		if a.GraceWindowDays, err = decimal.NewFromString(grace); err != nil {
			return nil, err
		}
		if a.LastKnownActivityAt, err = parseTimePtr(last); err != nil {
			return nil, err
		}
		w.MonitoredAccounts = append(w.MonitoredAccounts, a)
	}
	if err := accts.Err(); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WillRepository) Save(ctx context.Context, w *will.Will) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var fixed any
	if w.FixedPayoutAmount != nil {
		fixed = *w.FixedPayoutAmount
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wills (will_id, statement_text, executor_identity, poll_interval_seconds, fixed_payout_amount, created_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (will_id) DO UPDATE SET
			statement_text = excluded.statement_text,
			executor_identity = excluded.executor_identity,
			poll_interval_seconds = excluded.poll_interval_seconds,
			fixed_payout_amount = excluded.fixed_payout_amount,
			updated_at = excluded.updated_at
	`, w.StatementText, w.ExecutorIdentity, w.PollIntervalSeconds, fixed, formatTime(w.CreatedAt), formatTime(w.UpdatedAt)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM will_beneficiaries`); err != nil {
		return err
	}
	for i, b := range w.Beneficiaries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO will_beneficiaries (position, account_id, split_weight) VALUES (?, ?, ?)
		`, i, b.AccountID, b.SplitWeight.String()); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM monitored_accounts`); err != nil {
		return err
	}
	for i, a := range w.MonitoredAccounts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO monitored_accounts (position, platform, identifier, grace_window_days, last_known_activity_at)
			VALUES (?, ?, ?, ?, ?)
		`, i, string(a.Platform), a.Identifier, a.GraceWindowDays.String(), formatTimePtr(a.LastKnownActivityAt)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *WillRepository) UpdateActivity(ctx context.Context, updates []will.ActivityUpdate, updatedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `
			UPDATE monitored_accounts SET last_known_activity_at = ? WHERE platform = ? AND identifier = ?
		`, formatTime(u.At), string(u.Platform), u.Identifier); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `UPDATE wills SET updated_at = ? WHERE will_id = 1`, formatTime(updatedAt))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return will.ErrNotFound
	}
	return tx.Commit()
}
