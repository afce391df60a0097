package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willexec/willexec/internal/domain/execution"
	"github.com/willexec/willexec/internal/domain/will"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleWill(now time.Time) *will.Will {
	fixed := int64(1000)
	seen := now.Add(-time.Hour)
	return &will.Will{
		StatementText:       "split evenly",
		ExecutorIdentity:    "executor-1",
		PollIntervalSeconds: 3600,
		FixedPayoutAmount:   &fixed,
		Beneficiaries: []will.BeneficiaryShare{
			{AccountID: "acct-a", SplitWeight: decimal.RequireFromString("0.5")},
			{AccountID: "acct-b", SplitWeight: decimal.RequireFromString("0.5")},
		},
		MonitoredAccounts: []will.MonitoredAccount{
			{Platform: will.PlatformHeartbeat, Identifier: "alice", GraceWindowDays: decimal.NewFromInt(30), LastKnownActivityAt: &seen},
			{Platform: will.PlatformCheckin, Identifier: "alice", GraceWindowDays: decimal.RequireFromString("2.5")},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestWillRepository_GetEmpty(t *testing.T) {
	repo := NewWillRepository(openTestDB(t))
	w, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestWillRepository_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewWillRepository(openTestDB(t))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := sampleWill(now)

	require.NoError(t, repo.Save(ctx, in))
	out, err := repo.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, in.StatementText, out.StatementText)
	assert.Equal(t, in.ExecutorIdentity, out.ExecutorIdentity)
	assert.Equal(t, int64(3600), out.PollIntervalSeconds)
	require.NotNil(t, out.FixedPayoutAmount)
	assert.Equal(t, int64(1000), *out.FixedPayoutAmount)
	require.Len(t, out.Beneficiaries, 2)
	assert.Equal(t, "acct-a", out.Beneficiaries[0].AccountID)
	assert.True(t, out.Beneficiaries[0].SplitWeight.Equal(decimal.RequireFromString("0.5")))
	require.Len(t, out.MonitoredAccounts, 2)
	assert.Equal(t, will.PlatformHeartbeat, out.MonitoredAccounts[0].Platform)
	require.NotNil(t, out.MonitoredAccounts[0].LastKnownActivityAt)
	assert.True(t, in.MonitoredAccounts[0].LastKnownActivityAt.Equal(*out.MonitoredAccounts[0].LastKnownActivityAt))
	assert.Nil(t, out.MonitoredAccounts[1].LastKnownActivityAt)
	assert.True(t, out.MonitoredAccounts[1].GraceWindowDays.Equal(decimal.RequireFromString("2.5")))
	assert.True(t, now.Equal(out.CreatedAt))
}

func TestWillRepository_SaveReplacesChildren(t *testing.T) {
	ctx := context.Background()
	repo := NewWillRepository(openTestDB(t))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, sampleWill(now)))

	next := sampleWill(now)
	next.Beneficiaries = next.Beneficiaries[:1]
	next.MonitoredAccounts = nil
	next.FixedPayoutAmount = nil
	require.NoError(t, repo.Save(ctx, next))

	out, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Len(t, out.Beneficiaries, 1)
	assert.Empty(t, out.MonitoredAccounts)
	assert.Nil(t, out.FixedPayoutAmount)
}

func TestWillRepository_UpdateActivity(t *testing.T) {
	ctx := context.Background()
	repo := NewWillRepository(openTestDB(t))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := repo.UpdateActivity(ctx, nil, now)
	assert.ErrorIs(t, err, will.ErrNotFound)

	require.NoError(t, repo.Save(ctx, sampleWill(now)))
	seen := now.Add(time.Minute)
	later := now.Add(2 * time.Minute)
	require.NoError(t, repo.UpdateActivity(ctx, []will.ActivityUpdate{
		{Platform: will.PlatformCheckin, Identifier: "alice", At: seen},
	}, later))

	out, err := repo.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, out.MonitoredAccounts[1].LastKnownActivityAt)
	assert.True(t, seen.Equal(*out.MonitoredAccounts[1].LastKnownActivityAt))
	assert.True(t, later.Equal(out.UpdatedAt))
	assert.True(t, now.Equal(out.CreatedAt))
}

func TestExecutionRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewExecutionRepository(openTestDB(t))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	active, err := repo.Active(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	exec := execution.NewExecution(100, "inactive", []execution.Allocation{
		{AccountID: "a", Amount: 60},
		{AccountID: "b", Amount: 40},
	}, now)
	require.NoError(t, repo.Create(ctx, exec))

	active, err = repo.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, exec.ExecutionID, active.ExecutionID)
	assert.Equal(t, execution.StatusStarted, active.Status)
	require.Len(t, active.Payouts, 2)
	assert.Equal(t, "a", active.Payouts[0].AccountID)
	assert.Equal(t, execution.PayoutPending, active.Payouts[1].Status)

	p := active.Payouts[0]
	require.NoError(t, p.Begin(now))
	require.NoError(t, p.Finish(execution.PayoutFailed, assert.AnError, now))
	require.NoError(t, repo.UpdatePayout(ctx, p))
	require.NoError(t, repo.Complete(ctx, exec.ExecutionID, now.Add(time.Second)))

	active, err = repo.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, execution.StatusCompleted, active.Status)
	require.NotNil(t, active.CompletedAt)
	assert.Equal(t, execution.PayoutFailed, active.Payouts[0].Status)
	require.NotNil(t, active.Payouts[0].LastError)
	assert.Equal(t, assert.AnError.Error(), *active.Payouts[0].LastError)

	n, err := repo.Archive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	active, err = repo.Active(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	all, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, execution.StatusArchived, all[0].Status)
	assert.Len(t, all[0].Payouts, 2)
}

func TestExecutionRepository_UpdateMissing(t *testing.T) {
	ctx := context.Background()
	repo := NewExecutionRepository(openTestDB(t))
	exec := execution.NewExecution(10, "inactive", []execution.Allocation{{AccountID: "a", Amount: 10}}, time.Now())
	err := repo.UpdatePayout(ctx, exec.Payouts[0])
	assert.ErrorIs(t, err, execution.ErrNotFound)
	err = repo.Complete(ctx, exec.ExecutionID, time.Now())
	assert.ErrorIs(t, err, execution.ErrNotFound)
}
