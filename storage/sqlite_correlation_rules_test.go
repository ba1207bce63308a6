package storage

import (
	"context"
	"testing"

	"watchtower/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRule(name string, enabled bool) *core.CorrelationRule {
	r := &core.CorrelationRule{
		Name:    name,
		Enabled: enabled,
		Predicate: core.RulePredicate{
			EventTypes:    []core.EventType{core.EventTypeAuthFailure},
			FieldPatterns: map[string]string{"userId": "^svc-"},
			GroupBy:       []string{"userId"},
		},
		WindowSeconds:     60,
		Threshold:         3,
		ProducedSeverity:  core.SeverityHigh,
		ProducedAlertType: "BRUTE_FORCE",
	}
	r.PrepareNew(testBase)
	return r
}

func TestSQLiteCorrelationRuleStorage_CRUDBumpsRevision(t *testing.T) {
	store := NewSQLiteCorrelationRuleStorage(newTestSQLite(t), zap.NewNop().Sugar())
	ctx := context.Background()

	rev0, err := store.Revision(ctx)
	require.NoError(t, err)

	rule := newTestRule("Brute force", true)
	require.NoError(t, store.CreateRule(ctx, rule))
	rev1, err := store.Revision(ctx)
	require.NoError(t, err)
	assert.Greater(t, rev1, rev0)

	got, err := store.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.Predicate, got.Predicate)
	assert.True(t, got.CreatedAt.Equal(rule.CreatedAt))

	got.Enabled = false
	got.Threshold = 5
	require.NoError(t, store.UpdateRule(ctx, got))
	rev2, _ := store.Revision(ctx)
	assert.Greater(t, rev2, rev1)

	enabled, err := store.ListRules(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, enabled)
	all, err := store.ListRules(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 5, all[0].Threshold)

	require.NoError(t, store.DeleteRule(ctx, rule.ID))
	rev3, _ := store.Revision(ctx)
	assert.Greater(t, rev3, rev2)

	_, err = store.GetRule(ctx, rule.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, store.DeleteRule(ctx, rule.ID), ErrRuleNotFound)
	assert.ErrorIs(t, store.UpdateRule(ctx, rule), core.ErrNotFound)
}

func TestSQLiteCorrelationRuleStorage_FailedMutationKeepsRevision(t *testing.T) {
	store := NewSQLiteCorrelationRuleStorage(newTestSQLite(t), zap.NewNop().Sugar())
	ctx := context.Background()

	rule := newTestRule("Brute force", true)
	require.NoError(t, store.CreateRule(ctx, rule))
	before, _ := store.Revision(ctx)

	err := store.CreateRule(ctx, rule)
	assert.ErrorIs(t, err, core.ErrValidation)

	after, _ := store.Revision(ctx)
	assert.Equal(t, before, after)
}
