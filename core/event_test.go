package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSecurityEvent_AssignsDefaults(t *testing.T) {
	now := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	ev, err := NewSecurityEvent(EventInput{
		Type:        EventTypeAuthFailure,
		SourceIP:    "203.0.113.7",
		Description: "bad password",
		Metadata:    Metadata{"client": "web"},
	}, now)
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, now, ev.Timestamp)
	assert.Equal(t, SeverityInfo, ev.Severity)
	assert.Equal(t, "web", ev.Metadata["client"])
}

func TestNewSecurityEvent_KeepsProvidedIDAndTimestamp(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.FixedZone("X", 3600))
	ev, err := NewSecurityEvent(EventInput{
		ID:          "0b0f1e3a-5f4c-4d9b-9e4f-7d7d2c1a9b00",
		Timestamp:   ts,
		Type:        EventTypeConfigChange,
		Severity:    SeverityLow,
		Description: "changed retention",
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "0b0f1e3a-5f4c-4d9b-9e4f-7d7d2c1a9b00", ev.ID)
	assert.True(t, ev.Timestamp.Equal(ts))
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
}

func TestEventInput_Validate(t *testing.T) {
	cases := []struct {
		name  string
		in    EventInput
		field string
	}{
		{"missing type", EventInput{Description: "d"}, "type"},
		{"unknown type", EventInput{Type: "COFFEE_SPILL", Description: "d"}, "type"},
		{"bad severity", EventInput{Type: EventTypeAuthFailure, Severity: "SEVERE", Description: "d"}, "severity"},
		{"missing description", EventInput{Type: EventTypeAuthFailure}, "description"},
		{"long description", EventInput{Type: EventTypeAuthFailure, Description: strings.Repeat("x", MaxDescriptionLength+1)}, "description"},
		{"bad ip", EventInput{Type: EventTypeAuthFailure, Description: "d", SourceIP: "not-an-ip"}, "sourceIp"},
		{"bad id", EventInput{ID: "123", Type: EventTypeAuthFailure, Description: "d"}, "id"},
		{"empty metadata key", EventInput{Type: EventTypeAuthFailure, Description: "d", Metadata: Metadata{"": "v"}}, "metadata"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.in.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestSecurityEvent_Field(t *testing.T) {
	ev := &SecurityEvent{Type: EventTypeDataAccess, Severity: SeverityHigh, UserID: "u1", Metadata: Metadata{"table": "payments"}}

	v, ok := ev.Field("metadata.table")
	assert.True(t, ok)
	assert.Equal(t, "payments", v)

	_, ok = ev.Field("metadata.missing")
	assert.False(t, ok)

	_, ok = ev.Field("sourceIp")
	assert.False(t, ok, "empty optional fields report absent")

	assert.True(t, IsKnownField("metadata.x"))
	assert.False(t, IsKnownField("metadata."))
	assert.False(t, IsKnownField("hostname"))
}

func TestSeverity_Rank(t *testing.T) {
	for i := 1; i < len(AllSeverities); i++ {
		assert.Greater(t, AllSeverities[i].Rank(), AllSeverities[i-1].Rank())
	}
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.False(t, SeverityLow.AtLeast(SeverityMedium))
	assert.False(t, Severity("NOPE").IsValid())
}
