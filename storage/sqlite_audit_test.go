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

func TestSQLiteAuditStore(t *testing.T) {
	store := NewSQLiteAuditStore(newTestSQLite(t), zap.NewNop().Sugar())
	ctx := context.Background()

	records := []core.AuditRecord{
		{EntityKind: core.AuditKindAlert, EntityID: "a-1", Action: "status", From: "OPEN", To: "INVESTIGATING", Actor: "alice", At: testBase},
		{EntityKind: core.AuditKindAlert, EntityID: "a-1", Action: "status", From: "INVESTIGATING", To: "RESOLVED", Actor: "alice", At: testBase.Add(time.Minute), Details: map[string]interface{}{"resolutionType": "FIXED"}},
		{EntityKind: core.AuditKindIncident, EntityID: "INC-1", Action: "created", To: "DETECTED", Actor: "bob", At: testBase.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		require.NoError(t, store.RecordAudit(ctx, rec))
	}

	got, err := store.ListAudit(ctx, "a-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "INVESTIGATING", got[0].To)
	assert.Equal(t, "RESOLVED", got[1].To)
	assert.Equal(t, "FIXED", got[1].Details["resolutionType"])
	assert.True(t, got[1].At.Equal(testBase.Add(time.Minute)))

	latest, err := store.ListAudit(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "INC-1", latest[0].EntityID)

	none, err := store.ListAudit(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
