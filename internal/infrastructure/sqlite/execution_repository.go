package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/willexec/willexec/internal/domain/execution"
)

// ExecutionRepository implements execution.Repository.
type ExecutionRepository struct {
	db *sql.DB
}

func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

const executionColumns = `execution_id, status, total_amount, reason, started_at, completed_at`

func (r *ExecutionRepository) Create(ctx context.Context, exec *execution.Execution) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO executions (`+executionColumns+`) VALUES (?, ?, ?, ?, ?, ?)
	`, exec.ExecutionID.String(), string(exec.Status), exec.TotalAmount, exec.Reason,
		formatTime(exec.StartedAt), formatTimePtr(exec.CompletedAt)); err != nil {
		return err
	}
	for _, p := range exec.Payouts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO execution_payouts (payout_id, execution_id, seq, account_id, amount, status, last_error, attempted_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.PayoutID.String(), p.ExecutionID.String(), p.Seq, p.AccountID, p.Amount, string(p.Status),
			nullString(p.LastError), formatTimePtr(p.AttemptedAt), formatTimePtr(p.FinishedAt)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *ExecutionRepository) Active(ctx context.Context) (*execution.Execution, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE status <> ? ORDER BY started_at DESC LIMIT 1
	`, string(execution.StatusArchived))
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if exec.Payouts, err = r.listPayouts(ctx, exec.ExecutionID); err != nil {
		return nil, err
	}
	return exec, nil
}

func (r *ExecutionRepository) List(ctx context.Context, limit, offset int) ([]*execution.Execution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM executions
		ORDER BY started_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	var out []*execution.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, exec)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Payouts are loaded after the cursor closes; the pool holds one connection.
	for _, exec := range out {
		if exec.Payouts, err = r.listPayouts(ctx, exec.ExecutionID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *ExecutionRepository) UpdatePayout(ctx context.Context, p *execution.Payout) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE execution_payouts SET status = ?, last_error = ?, attempted_at = ?, finished_at = ?
		WHERE payout_id = ?
	`, string(p.Status), nullString(p.LastError), formatTimePtr(p.AttemptedAt), formatTimePtr(p.FinishedAt), p.PayoutID.String())
	if err != nil {
		return err
	}
	return requireRow(res, execution.ErrNotFound)
}

func (r *ExecutionRepository) Complete(ctx context.Context, executionID uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, completed_at = ? WHERE execution_id = ?
	`, string(execution.StatusCompleted), formatTime(at), executionID.String())
	if err != nil {
		return err
	}
	return requireRow(res, execution.ErrNotFound)
}

func (r *ExecutionRepository) Archive(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE executions SET status = ? WHERE status <> ?
	`, string(execution.StatusArchived), string(execution.StatusArchived))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ExecutionRepository) listPayouts(ctx context.Context, executionID uuid.UUID) ([]*execution.Payout, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT payout_id, execution_id, seq, account_id, amount, status, last_error, attempted_at, finished_at
		FROM execution_payouts WHERE execution_id = ? ORDER BY seq ASC
	`, executionID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*execution.Payout
	for rows.Next() {
		var (
			p                   execution.Payout
			payoutID, execID    string
			status              string
			lastErr             sql.NullString
			attempted, finished sql.NullString
		)
		if err := rows.Scan(&payoutID, &execID, &p.Seq, &p.AccountID, &p.Amount, &status, &lastErr, &attempted, &finished); err != nil {
			return nil, err
		}
		if p.PayoutID, err = uuid.Parse(payoutID); err != nil {
			return nil, err
		}
		if p.ExecutionID, err = uuid.Parse(execID); err != nil {
			return nil, err
		}
		p.Status = execution.PayoutStatus(status)
		if lastErr.Valid {
			msg := lastErr.String
			p.LastError = &msg
		}
		if p.AttemptedAt, err = parseTimePtr(attempted); err != nil {
			return nil, err
		}
		if p.FinishedAt, err = parseTimePtr(finished); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*execution.Execution, error) {
	var (
		exec              execution.Execution
		id, status, start string
		completed         sql.NullString
	)
	if err := row.Scan(&id, &status, &exec.TotalAmount, &exec.Reason, &start, &completed); err != nil {
		return nil, err
	}
	var err error
	if exec.ExecutionID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	exec.Status = execution.Status(status)
	if exec.StartedAt, err = parseTime(start); err != nil {
		return nil, err
	}
	if exec.CompletedAt, err = parseTimePtr(completed); err != nil {
		return nil, err
	}
	return &exec, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
