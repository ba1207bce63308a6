package storage

import (
	"context"
	"testing"
	"time"

	"watchtower/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupIncidentStore(t *testing.T) *SQLiteIncidentStore {
	return NewSQLiteIncidentStore(newTestSQLite(t), zap.NewNop().Sugar())
}

func newTestIncident(t *testing.T, typ string, sev core.Severity, at time.Time) *core.SecurityIncident {
	t.Helper()
	inc, err := core.NewIncident(core.CreateIncidentInput{
		Title:    "Credential stuffing against login",
		Type:     typ,
		Severity: sev,
		AlertIDs: []string{"alert-1", "alert-2"},
	}, "analyst", at)
	require.NoError(t, err)
	return inc
}

func TestSQLiteIncidentStore_RoundTrip(t *testing.T) {
	store := setupIncidentStore(t)
	ctx := context.Background()

	inc := newTestIncident(t, "ACCOUNT_COMPROMISE", core.SeverityHigh, testBase)
	require.NoError(t, store.CreateIncident(ctx, inc))
	assert.Equal(t, int64(1), inc.Version)

	for _, name := range []string{"auth.log", "pcap", "memory.dump"} {
		require.NoError(t, inc.AddArtifact(core.Artifact{Name: name, Type: "LOG", Location: "s3://evidence/" + name, AddedBy: "analyst"}, testBase.Add(time.Minute)))
	}
	require.NoError(t, store.UpdateIncident(ctx, inc, 1))

	got, err := store.GetIncident(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alert-1", "alert-2"}, got.RelatedAlertIDs)
	require.Len(t, got.Artifacts, 3)
	assert.Equal(t, "auth.log", got.Artifacts[0].Name)
	assert.Equal(t, "memory.dump", got.Artifacts[2].Name)
	assert.Len(t, got.Timeline, 4)
	assert.Nil(t, got.ClosedAt)

	require.NoError(t, got.Resolve(core.IncidentResolveInput{RootCause: "reused password", Actions: []string{"reset credentials"}}, "analyst", testBase.Add(2*time.Hour)))
	require.NoError(t, store.UpdateIncident(ctx, got, 2))

	closed, err := store.GetIncident(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, core.IncidentStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	require.NotNil(t, closed.Resolution)
	assert.Equal(t, "reused password", closed.Resolution.RootCause)
}

func TestSQLiteIncidentStore_Conflict(t *testing.T) {
	store := setupIncidentStore(t)
	ctx := context.Background()

	inc := newTestIncident(t, "MALWARE", core.SeverityCritical, testBase)
	require.NoError(t, store.CreateIncident(ctx, inc))

	a, err := store.GetIncident(ctx, inc.IncidentID)
	require.NoError(t, err)
	b, err := store.GetIncident(ctx, inc.IncidentID)
	require.NoError(t, err)

	require.NoError(t, a.UpdateStatus(core.IncidentStatusContained, "op-1", "", testBase))
	require.NoError(t, store.UpdateIncident(ctx, a, 1))

	require.NoError(t, b.UpdateStatus(core.IncidentStatusAcknowledged, "op-2", "", testBase))
	err = store.UpdateIncident(ctx, b, 1)
	assert.ErrorIs(t, err, core.ErrInvalidState)
	current, ok := core.CurrentState(err)
	require.True(t, ok)
	assert.Equal(t, "CONTAINED", current)
}

func TestSQLiteIncidentStore_GetMissing(t *testing.T) {
	_, err := setupIncidentStore(t).GetIncident(context.Background(), "INC-none")
	assert.ErrorIs(t, err, ErrIncidentNotFound)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSQLiteIncidentStore_ListAndMetrics(t *testing.T) {
	store := setupIncidentStore(t)
	ctx := context.Background()

	malware := newTestIncident(t, "MALWARE", core.SeverityCritical, testBase)
	phishing := newTestIncident(t, "PHISHING", core.SeverityMedium, testBase.Add(time.Minute))
	old := newTestIncident(t, "PHISHING", core.SeverityLow, testBase.Add(-72*time.Hour))
	for _, inc := range []*core.SecurityIncident{malware, phishing, old} {
		require.NoError(t, store.CreateIncident(ctx, inc))
	}
	require.NoError(t, malware.Resolve(core.IncidentResolveInput{RootCause: "dropper", Actions: []string{"reimage"}}, "analyst", testBase.Add(time.Hour)))
	require.NoError(t, store.UpdateIncident(ctx, malware, 1))

	page, err := store.ListIncidents(ctx, core.IncidentFilter{Types: []string{"PHISHING"}}, core.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, phishing.IncidentID, page.Items[0].IncidentID, "newest first")

	page, err = store.ListIncidents(ctx, core.IncidentFilter{Phases: []core.IncidentPhase{core.PhaseLessonsLearned}}, core.Pagination{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, malware.IncidentID, page.Items[0].IncidentID)

	m, err := store.IncidentMetrics(ctx, core.TimeRange{Start: testBase.Add(-time.Hour), End: testBase.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.Total)
	assert.Equal(t, int64(1), m.ByStatus["CLOSED"])
	assert.Equal(t, int64(1), m.ByType["MALWARE"])
	assert.Equal(t, int64(1), m.ByPhase["IDENTIFICATION"])
	assert.Equal(t, int64(1), m.ClosedCount)
	assert.InDelta(t, 3600.0, m.AvgTimeToCloseSecs, 0.001)
}
