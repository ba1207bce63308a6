package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"watchtower/core"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupAlertStore(t *testing.T) *SQLiteAlertStore {
	return NewSQLiteAlertStore(newTestSQLite(t), zap.NewNop().Sugar())
}

func newTestAlert(ruleID, groupKey string, sev core.Severity, seen time.Time) *core.SecurityAlert {
	return &core.SecurityAlert{
		AlertID:           uuid.New().String(),
		CorrelationRuleID: ruleID,
		GroupKey:          groupKey,
		Type:              "BRUTE_FORCE",
		Severity:          sev,
		Status:            core.AlertStatusOpen,
		Title:             "Repeated authentication failures",
		EvidenceEventIDs:  []string{uuid.New().String()},
		FirstSeen:         seen,
		LastSeen:          seen,
		CreatedBy:         "correlation",
		UpdatedAt:         seen,
	}
}

func TestSQLiteAlertStore_CreateGetUpdate(t *testing.T) {
	store := setupAlertStore(t)
	ctx := context.Background()

	alert := newTestAlert("rule-1", "userId=alice", core.SeverityHigh, testBase)
	require.NoError(t, store.CreateAlert(ctx, alert))
	assert.Equal(t, int64(1), alert.Version)

	got, err := store.GetAlert(ctx, alert.AlertID)
	require.NoError(t, err)
	assert.Equal(t, alert.EvidenceEventIDs, got.EvidenceEventIDs)
	assert.Equal(t, "userId=alice", got.GroupKey)
	assert.Nil(t, got.Resolution)

	require.NoError(t, got.Resolve(core.ResolveInput{ResolvedBy: "analyst"}, testBase.Add(time.Hour)))
	require.NoError(t, store.UpdateAlert(ctx, got, 1))
	assert.Equal(t, int64(2), got.Version)

	reloaded, err := store.GetAlert(ctx, alert.AlertID)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusResolved, reloaded.Status)
	require.NotNil(t, reloaded.Resolution)
	assert.Equal(t, core.ResolutionFixed, reloaded.Resolution.ResolutionType)
	assert.Equal(t, int64(2), reloaded.Version)
}

func TestSQLiteAlertStore_UpdateConflictReportsCurrentState(t *testing.T) {
	store := setupAlertStore(t)
	ctx := context.Background()

	alert := newTestAlert("rule-1", "", core.SeverityMedium, testBase)
	require.NoError(t, store.CreateAlert(ctx, alert))

	first, err := store.GetAlert(ctx, alert.AlertID)
	require.NoError(t, err)
	second, err := store.GetAlert(ctx, alert.AlertID)
	require.NoError(t, err)

	require.NoError(t, first.Dismiss("op-1", "noise", testBase))
	require.NoError(t, store.UpdateAlert(ctx, first, 1))

	require.NoError(t, second.Resolve(core.ResolveInput{ResolvedBy: "op-2"}, testBase))
	err = store.UpdateAlert(ctx, second, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidState)
	assert.ErrorIs(t, err, ErrConcurrentModification)
	current, ok := core.CurrentState(err)
	require.True(t, ok)
	assert.Equal(t, string(core.AlertStatusDismissed), current)
}

func TestSQLiteAlertStore_ConcurrentResolveOnlyOneWins(t *testing.T) {
	store := setupAlertStore(t)
	ctx := context.Background()

	alert := newTestAlert("rule-1", "", core.SeverityMedium, testBase)
	require.NoError(t, store.CreateAlert(ctx, alert))

	const operators = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < operators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := store.GetAlert(ctx, alert.AlertID)
			if err != nil {
				return
			}
			expected := a.Version
			if err := a.Resolve(core.ResolveInput{ResolvedBy: "op"}, testBase); err != nil {
				return
			}
			if store.UpdateAlert(ctx, a, expected) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestSQLiteAlertStore_UpdateMissing(t *testing.T) {
	store := setupAlertStore(t)
	err := store.UpdateAlert(context.Background(), newTestAlert("r", "", core.SeverityLow, testBase), 1)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSQLiteAlertStore_FindLiveAlert(t *testing.T) {
	store := setupAlertStore(t)
	ctx := context.Background()

	old := newTestAlert("rule-1", "userId=alice", core.SeverityHigh, testBase.Add(-10*time.Minute))
	require.NoError(t, store.CreateAlert(ctx, old))
	live := newTestAlert("rule-1", "userId=alice", core.SeverityHigh, testBase)
	require.NoError(t, store.CreateAlert(ctx, live))
	other := newTestAlert("rule-1", "userId=bob", core.SeverityHigh, testBase)
	require.NoError(t, store.CreateAlert(ctx, other))

	got, err := store.FindLiveAlert(ctx, "rule-1", "userId=alice", testBase.Add(-time.Minute))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, live.AlertID, got.AlertID)

	require.NoError(t, got.Dismiss("op", "", testBase))
	require.NoError(t, store.UpdateAlert(ctx, got, got.Version))

	got, err = store.FindLiveAlert(ctx, "rule-1", "userId=alice", testBase.Add(-time.Minute))
	require.NoError(t, err)
	assert.Nil(t, got, "terminal alerts are not live")

	got, err = store.FindLiveAlert(ctx, "rule-2", "", testBase.Add(-time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteAlertStore_ListAlertsSortAndFilter(t *testing.T) {
	store := setupAlertStore(t)
	ctx := context.Background()

	low := newTestAlert("rule-a", "", core.SeverityLow, testBase.Add(time.Minute))
	critOld := newTestAlert("rule-b", "", core.SeverityCritical, testBase)
	critNew := newTestAlert("rule-b", "", core.SeverityCritical, testBase.Add(2*time.Minute))
	critNew.AssignedTo = "analyst"
	for _, a := range []*core.SecurityAlert{low, critOld, critNew} {
		require.NoError(t, store.CreateAlert(ctx, a))
	}

	page, err := store.ListAlerts(ctx, core.AlertFilter{}, core.Pagination{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, critNew.AlertID, page.Items[0].AlertID)
	assert.Equal(t, critOld.AlertID, page.Items[1].AlertID)
	assert.Equal(t, low.AlertID, page.Items[2].AlertID)

	page, err = store.ListAlerts(ctx, core.AlertFilter{CorrelationRuleID: "rule-b", AssignedTo: "analyst"}, core.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)

	page, err = store.ListAlerts(ctx, core.AlertFilter{Statuses: []core.AlertStatus{core.AlertStatusResolved}}, core.Pagination{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestSQLiteAlertStore_AlertsExist(t *testing.T) {
	store := setupAlertStore(t)
	ctx := context.Background()

	a := newTestAlert("rule-a", "", core.SeverityLow, testBase)
	require.NoError(t, store.CreateAlert(ctx, a))

	missing, err := store.AlertsExist(ctx, []string{a.AlertID, "nope"})
	require.NoError(t, err)
	assert.Equal(t, []string{"nope"}, missing)
}

func TestSQLiteAlertStore_AlertMetrics(t *testing.T) {
	store := setupAlertStore(t)
	ctx := context.Background()

	resolvedFast := newTestAlert("r", "", core.SeverityHigh, testBase)
	resolvedSlow := newTestAlert("r", "", core.SeverityLow, testBase)
	dismissed := newTestAlert("r", "", core.SeverityLow, testBase)
	open := newTestAlert("r", "", core.SeverityLow, testBase)
	outside := newTestAlert("r", "", core.SeverityLow, testBase.Add(-72*time.Hour))
	for _, a := range []*core.SecurityAlert{resolvedFast, resolvedSlow, dismissed, open, outside} {
		require.NoError(t, store.CreateAlert(ctx, a))
	}

	require.NoError(t, resolvedFast.Resolve(core.ResolveInput{ResolvedBy: "op"}, testBase.Add(10*time.Minute)))
	require.NoError(t, store.UpdateAlert(ctx, resolvedFast, 1))
	require.NoError(t, resolvedSlow.Resolve(core.ResolveInput{ResolvedBy: "op"}, testBase.Add(30*time.Minute)))
	require.NoError(t, store.UpdateAlert(ctx, resolvedSlow, 1))
	require.NoError(t, dismissed.Dismiss("op", "", testBase.Add(5*time.Hour)))
	require.NoError(t, store.UpdateAlert(ctx, dismissed, 1))

	m, err := store.AlertMetrics(ctx, core.TimeRange{Start: testBase.Add(-time.Hour), End: testBase.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(4), m.Total)
	assert.Equal(t, int64(2), m.ByStatus["RESOLVED"])
	assert.Equal(t, int64(1), m.ByStatus["DISMISSED"])
	assert.Equal(t, int64(3), m.BySeverity["LOW"])
	assert.Equal(t, int64(2), m.ResolvedCount)
	assert.InDelta(t, 1200.0, m.AvgResolutionSeconds, 0.001, "dismissed alerts do not count toward resolution time")
}
