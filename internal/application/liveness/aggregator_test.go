package liveness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domain "github.com/willexec/willexec/internal/domain/liveness"
	livenessMocks "github.com/willexec/willexec/internal/domain/liveness/mocks"
	"github.com/willexec/willexec/internal/domain/will"
	"github.com/willexec/willexec/internal/infrastructure/probe"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type recorderStub struct {
	mu      sync.Mutex
	updates []will.ActivityUpdate
	calls   int
	err     error
}

func (r *recorderStub) RecordActivity(ctx context.Context, updates []will.ActivityUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.updates = append(r.updates, updates...)
	return r.err
}

type observerStub struct {
	mu      sync.Mutex
	results []AccountResult
}

func (o *observerStub) ProbeFinished(ctx context.Context, res AccountResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, res)
}

func acct(platform will.Platform, id string, graceDays int64) will.MonitoredAccount {
	return will.MonitoredAccount{Platform: platform, Identifier: id, GraceWindowDays: decimal.NewFromInt(graceDays)}
}

func ago(d time.Duration) *time.Time {
	ts := now.Add(-d)
	return &ts
}

func newAggregator(p domain.Probe, rec ActivityRecorder) *Aggregator {
	return NewAggregator(p, rec, zerolog.Nop()).WithClock(func() time.Time { return now })
}

func TestAggregator_EmptyAccounts(t *testing.T) {
	ctrl := gomock.NewController(t)
	probe := livenessMocks.NewMockProbe(ctrl)
	rec := &recorderStub{}

	report, err := newAggregator(probe, rec).Check(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, report.Alive)
	assert.True(t, report.NoAccounts)
	assert.Equal(t, 0, rec.calls)
}

func TestAggregator_ActiveAccountKeepsAlive(t *testing.T) {
	ctrl := gomock.NewController(t)
	probe := livenessMocks.NewMockProbe(ctrl)
	rec := &recorderStub{}
	a := acct(will.PlatformHeartbeat, "alice", 30)
	b := acct(will.PlatformCheckin, "alice", 30)

	probe.EXPECT().Probe(gomock.Any(), a).Return(ago(40*24*time.Hour), nil)
	probe.EXPECT().Probe(gomock.Any(), b).Return(ago(time.Hour), nil)

	report, err := newAggregator(probe, rec).Check(context.Background(), []will.MonitoredAccount{a, b})
	require.NoError(t, err)
	assert.True(t, report.Alive)
	assert.False(t, report.FailSafe)
	require.Len(t, report.Accounts, 2)
	assert.False(t, report.Accounts[0].WithinGrace)
	assert.True(t, report.Accounts[1].WithinGrace)
	assert.Equal(t, EvidenceProbe, report.Accounts[1].Evidence)
	assert.Len(t, rec.updates, 2)
}

func TestAggregator_AllSilentIsDead(t *testing.T) {
	ctrl := gomock.NewController(t)
	probe := livenessMocks.NewMockProbe(ctrl)
	rec := &recorderStub{}
	a := acct(will.PlatformHeartbeat, "alice", 30)

	probe.EXPECT().Probe(gomock.Any(), a).Return(ago(31*24*time.Hour), nil)

	report, err := newAggregator(probe, rec).Check(context.Background(), []will.MonitoredAccount{a})
	require.NoError(t, err)
	assert.False(t, report.Alive)
	assert.Equal(t, 31*24*time.Hour, report.Accounts[0].Age)
}

func TestAggregator_GraceBoundaryIsInclusive(t *testing.T) {
	a := acct(will.PlatformHeartbeat, "alice", 30)
	cases := []struct {
		name  string
		age   time.Duration
		alive bool
	}{
		{"exactly at grace", 30 * 24 * time.Hour, true},
		{"one second past grace", 30*24*time.Hour + time.Second, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			probe := livenessMocks.NewMockProbe(ctrl)
			probe.EXPECT().Probe(gomock.Any(), a).Return(ago(tc.age), nil)

			report, err := newAggregator(probe, &recorderStub{}).Check(context.Background(), []will.MonitoredAccount{a})
			require.NoError(t, err)
			assert.Equal(t, tc.alive, report.Alive)
		})
	}
}

func TestAggregator_FailSafe(t *testing.T) {
	t.Run("probe error counts as alive", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		probe := livenessMocks.NewMockProbe(ctrl)
		rec := &recorderStub{}
		a := acct(will.PlatformHeartbeat, "alice", 30)
		probe.EXPECT().Probe(gomock.Any(), a).Return(nil, errors.New("timeout"))

		report, err := newAggregator(probe, rec).Check(context.Background(), []will.MonitoredAccount{a})
		require.NoError(t, err)
		assert.True(t, report.Alive)
		assert.True(t, report.FailSafe)
		assert.Equal(t, EvidenceFailSafeDefault, report.Accounts[0].Evidence)
		assert.Error(t, report.Accounts[0].Err)
		assert.Empty(t, rec.updates)
	})

	t.Run("no data falls back to cached timestamp", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		probe := livenessMocks.NewMockProbe(ctrl)
		a := acct(will.PlatformHeartbeat, "alice", 30)
		a.LastKnownActivityAt = ago(100 * 24 * time.Hour)
		probe.EXPECT().Probe(gomock.Any(), a).Return(nil, nil)

		report, err := newAggregator(probe, &recorderStub{}).Check(context.Background(), []will.MonitoredAccount{a})
		require.NoError(t, err)
		assert.True(t, report.Alive)
		assert.True(t, report.FailSafe)
		assert.Equal(t, EvidenceFailSafeCached, report.Accounts[0].Evidence)
		assert.Equal(t, 100*24*time.Hour, report.Accounts[0].Age)
	})

	t.Run("probe evidence of life is not fail-safe", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		probe := livenessMocks.NewMockProbe(ctrl)
		a := acct(will.PlatformHeartbeat, "alice", 30)
		b := acct(will.PlatformCheckin, "alice", 30)
		probe.EXPECT().Probe(gomock.Any(), a).Return(nil, errors.New("down"))
		probe.EXPECT().Probe(gomock.Any(), b).Return(ago(time.Minute), nil)

		report, err := newAggregator(probe, &recorderStub{}).Check(context.Background(), []will.MonitoredAccount{a, b})
		require.NoError(t, err)
		assert.True(t, report.Alive)
		assert.False(t, report.FailSafe)
	})
}

func TestAggregator_ProbePanicIsContained(t *testing.T) {
	a := acct(will.PlatformHeartbeat, "alice", 30)
	probe := domain.ProbeFunc(func(ctx context.Context, acct will.MonitoredAccount) (*time.Time, error) {
		panic("bad adapter")
	})

	report, err := newAggregator(probe, &recorderStub{}).Check(context.Background(), []will.MonitoredAccount{a})
	require.NoError(t, err)
	assert.True(t, report.Alive)
	var pe *domain.ProbeError
	require.ErrorAs(t, report.Accounts[0].Err, &pe)
	assert.Contains(t, pe.Error(), "bad adapter")
}

func TestAggregator_ProbeTimeout(t *testing.T) {
	a := acct(will.PlatformHeartbeat, "alice", 30)
	probe := domain.ProbeFunc(func(ctx context.Context, acct will.MonitoredAccount) (*time.Time, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	agg := newAggregator(probe, &recorderStub{}).WithProbeTimeout(20 * time.Millisecond)
	report, err := agg.Check(context.Background(), []will.MonitoredAccount{a})
	require.NoError(t, err)
	assert.True(t, report.FailSafe)
	assert.ErrorIs(t, report.Accounts[0].Err, context.DeadlineExceeded)
}

func TestAggregator_PersistsBeforeReturning(t *testing.T) {
	ctrl := gomock.NewController(t)
	probe := livenessMocks.NewMockProbe(ctrl)
	a := acct(will.PlatformHeartbeat, "alice", 30)
	seen := ago(time.Hour)
	probe.EXPECT().Probe(gomock.Any(), a).Return(seen, nil)

	rec := &recorderStub{}
	_, err := newAggregator(probe, rec).Check(context.Background(), []will.MonitoredAccount{a})
	require.NoError(t, err)
	require.Len(t, rec.updates, 1)
	assert.Equal(t, will.ActivityUpdate{Platform: will.PlatformHeartbeat, Identifier: "alice", At: *seen}, rec.updates[0])

	ctrl2 := gomock.NewController(t)
	probe2 := livenessMocks.NewMockProbe(ctrl2)
	probe2.EXPECT().Probe(gomock.Any(), a).Return(seen, nil)
	failing := &recorderStub{err: errors.New("disk full")}
	report, err := newAggregator(probe2, failing).Check(context.Background(), []will.MonitoredAccount{a})
	assert.Error(t, err)
	assert.Nil(t, report)
}

func TestAggregator_NotifiesObserver(t *testing.T) {
	ctrl := gomock.NewController(t)
	probe := livenessMocks.NewMockProbe(ctrl)
	a := acct(will.PlatformHeartbeat, "alice", 30)
	probe.EXPECT().Probe(gomock.Any(), a).Return(ago(time.Hour), nil)

	obs := &observerStub{}
	_, err := newAggregator(probe, &recorderStub{}).WithObserver(obs).Check(context.Background(), []will.MonitoredAccount{a})
	require.NoError(t, err)
	require.Len(t, obs.results, 1)
	assert.Equal(t, EvidenceProbe, obs.results[0].Evidence)
}

func TestAggregator_PersistedCheckinAfterRestart(t *testing.T) {
	registry := domain.NewRegistry()
	registry.Register(will.PlatformCheckin, probe.NewCheckinLedger())

	stale := acct(will.PlatformCheckin, "principal", 30)
	stale.LastKnownActivityAt = ago(60 * 24 * time.Hour)

	rep, err := newAggregator(registry, &recorderStub{}).Check(context.Background(), []will.MonitoredAccount{stale})
	require.NoError(t, err)
	assert.False(t, rep.Alive)
	assert.False(t, rep.FailSafe)
	require.Len(t, rep.Accounts, 1)
	assert.Equal(t, EvidenceProbe, rep.Accounts[0].Evidence)
	assert.False(t, rep.Accounts[0].WithinGrace)

	fresh := acct(will.PlatformCheckin, "principal", 30)
	fresh.LastKnownActivityAt = ago(24 * time.Hour)
	rep, err = newAggregator(registry, &recorderStub{}).Check(context.Background(), []will.MonitoredAccount{fresh})
	require.NoError(t, err)
	assert.True(t, rep.Alive)
	assert.False(t, rep.FailSafe)
}
