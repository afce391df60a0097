package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/willexec/willexec/internal/domain/execution"
)

// ExecutionRepository implements execution.Repository.
type ExecutionRepository struct {
	pool *pgxpool.Pool
}

func NewExecutionRepository(pool *pgxpool.Pool) *ExecutionRepository {
	return &ExecutionRepository{pool: pool}
}

func (r *ExecutionRepository) Create(ctx context.Context, exec *execution.Execution) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO executions (execution_id, status, total_amount, reason, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, exec.ExecutionID, string(exec.Status), exec.TotalAmount, exec.Reason, exec.StartedAt, exec.CompletedAt); err != nil {
		return err
	}
	for _, p := range exec.Payouts {
		if _, err := tx.Exec(ctx, `
			INSERT INTO execution_payouts (payout_id, execution_id, seq, account_id, amount, status, last_error, attempted_at, finished_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, p.PayoutID, p.ExecutionID, p.Seq, p.AccountID, p.Amount, string(p.Status), p.LastError, p.AttemptedAt, p.FinishedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *ExecutionRepository) Active(ctx context.Context) (*execution.Execution, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT execution_id, status, total_amount, reason, started_at, completed_at
		FROM executions WHERE status <> $1
		ORDER BY started_at DESC LIMIT 1
	`, string(execution.StatusArchived))
	exec, err := scanExecution(row)
	if err != nil || exec == nil {
		return nil, err
	}
	if exec.Payouts, err = r.listPayouts(ctx, exec.ExecutionID); err != nil {
		return nil, err
	}
	return exec, nil
}

func (r *ExecutionRepository) List(ctx context.Context, limit, offset int) ([]*execution.Execution, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT execution_id, status, total_amount, reason, started_at, completed_at
		FROM executions ORDER BY started_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	var out []*execution.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, exec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, exec := range out {
		if exec.Payouts, err = r.listPayouts(ctx, exec.ExecutionID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *ExecutionRepository) UpdatePayout(ctx context.Context, p *execution.Payout) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE execution_payouts SET status=$1, last_error=$2, attempted_at=$3, finished_at=$4
		WHERE payout_id=$5
	`, string(p.Status), p.LastError, p.AttemptedAt, p.FinishedAt, p.PayoutID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return execution.ErrNotFound
	}
	return nil
}

func (r *ExecutionRepository) Complete(ctx context.Context, executionID uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE executions SET status=$1, completed_at=$2 WHERE execution_id=$3
	`, string(execution.StatusCompleted), at, executionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return execution.ErrNotFound
	}
	return nil
}

func (r *ExecutionRepository) Archive(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE executions SET status=$1 WHERE status <> $1
	`, string(execution.StatusArchived))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *ExecutionRepository) listPayouts(ctx context.Context, executionID uuid.UUID) ([]*execution.Payout, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT payout_id, execution_id, seq, account_id, amount, status, last_error, attempted_at, finished_at
		FROM execution_payouts WHERE execution_id=$1 ORDER BY seq ASC
	`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*execution.Payout
	for rows.Next() {
		var p execution.Payout
		if err := rows.Scan(&p.PayoutID, &p.ExecutionID, &p.Seq, &p.AccountID, &p.Amount, &p.Status, &p.LastError, &p.AttemptedAt, &p.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func scanExecution(row pgx.Row) (*execution.Execution, error) {
	var exec execution.Execution
	if err := row.Scan(&exec.ExecutionID, &exec.Status, &exec.TotalAmount, &exec.Reason, &exec.StartedAt, &exec.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &exec, nil
}
