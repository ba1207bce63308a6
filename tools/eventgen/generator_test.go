package main

import (
	"testing"
	"time"

	"watchtower/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratedEventsAreValid(t *testing.T) {
	gen := NewEventGenerator(42)
	for i := 0; i < 200; i++ {
		in := gen.Random()
		_, err := core.NewSecurityEvent(in, time.Now())
		require.NoError(t, err, "event %d: %+v", i, in)
	}
}

func TestScenarios(t *testing.T) {
	gen := NewEventGenerator(7)

	events, err := gen.Scenario("brute_force", 6)
	require.NoError(t, err)
	require.Len(t, events, 6)
	for _, e := range events {
		assert.Equal(t, core.EventTypeAuthFailure, e.Type)
		assert.Equal(t, events[0].UserID, e.UserID)
	}

	events, err = gen.Scenario("account_takeover", 3)
	require.NoError(t, err)
	require.Len(t, events, 6)
	assert.Equal(t, core.EventTypeDataExport, events[5].Type)

	_, err = gen.Scenario("nope", 1)
	assert.Error(t, err)
}

func TestSeedIsDeterministic(t *testing.T) {
	a, b := NewEventGenerator(99), NewEventGenerator(99)
	assert.Equal(t, a.Random().UserID, b.Random().UserID)
}
