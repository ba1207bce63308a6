package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bruteForceRule() *CorrelationRule {
	return &CorrelationRule{
		ID:                "rule-bf",
		Name:              "Brute force",
		Enabled:           true,
		Predicate:         RulePredicate{EventTypes: []EventType{EventTypeAuthFailure}, GroupBy: []string{"userId"}},
		WindowSeconds:     60,
		Threshold:         3,
		ProducedSeverity:  SeverityHigh,
		ProducedAlertType: "BRUTE_FORCE",
	}
}

func TestCorrelationRule_Validate(t *testing.T) {
	m := NewPatternMatcher(0, 0)
	require.NoError(t, bruteForceRule().Validate(m))

	cases := []struct {
		name  string
		edit  func(r *CorrelationRule)
		field string
	}{
		{"no name", func(r *CorrelationRule) { r.Name = " " }, "name"},
		{"zero threshold", func(r *CorrelationRule) { r.Threshold = 0 }, "threshold"},
		{"negative window", func(r *CorrelationRule) { r.WindowSeconds = -1 }, "windowSeconds"},
		{"windowless threshold", func(r *CorrelationRule) { r.WindowSeconds = 0 }, "windowSeconds"},
		{"bad severity", func(r *CorrelationRule) { r.ProducedSeverity = "BAD" }, "producedSeverity"},
		{"bad alert type", func(r *CorrelationRule) { r.ProducedAlertType = "brute force" }, "producedAlertType"},
		{"empty predicate", func(r *CorrelationRule) { r.Predicate = RulePredicate{} }, "predicate"},
		{"unknown event type", func(r *CorrelationRule) { r.Predicate.EventTypes = []EventType{"NOPE"} }, "predicate.eventTypes"},
		{"unknown pattern field", func(r *CorrelationRule) { r.Predicate.FieldPatterns = map[string]string{"host": "x"} }, "predicate.fieldPatterns"},
		{"bad pattern", func(r *CorrelationRule) { r.Predicate.FieldPatterns = map[string]string{"userId": "("} }, "predicate.fieldPatterns"},
		{"unknown group field", func(r *CorrelationRule) { r.Predicate.GroupBy = []string{"host"} }, "predicate.groupBy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := bruteForceRule()
			tc.edit(r)
			err := r.Validate(m)
			require.Error(t, err)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestCorrelationRule_SingleEventNeedsNoWindow(t *testing.T) {
	r := bruteForceRule()
	r.Threshold = 1
	r.WindowSeconds = 0
	require.NoError(t, r.Validate(nil))
	assert.True(t, r.IsSingleEvent())
}

func TestRulePredicate_Matches(t *testing.T) {
	m := NewPatternMatcher(0, 0)
	ev := &SecurityEvent{
		Type:     EventTypePermissionDenied,
		Severity: SeverityHigh,
		UserID:   "svc-backup",
		Metadata: Metadata{"resource": "/admin/keys"},
	}

	cases := []struct {
		name string
		p    RulePredicate
		want bool
	}{
		{"type match", RulePredicate{EventTypes: []EventType{EventTypePermissionDenied}}, true},
		{"type miss", RulePredicate{EventTypes: []EventType{EventTypeAuthFailure}}, false},
		{"severity at threshold", RulePredicate{MinSeverity: SeverityHigh}, true},
		{"severity below", RulePredicate{MinSeverity: SeverityCritical}, false},
		{"pattern match", RulePredicate{FieldPatterns: map[string]string{"userId": "^svc-"}}, true},
		{"metadata pattern", RulePredicate{FieldPatterns: map[string]string{"metadata.resource": "^/admin/"}}, true},
		{"missing field", RulePredicate{FieldPatterns: map[string]string{"sourceIp": ".*"}}, false},
		{"all clauses", RulePredicate{
			EventTypes:    []EventType{EventTypePermissionDenied},
			MinSeverity:   SeverityMedium,
			FieldPatterns: map[string]string{"userId": "backup$"},
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.p.Matches(ev, m)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRulePredicate_GroupKey(t *testing.T) {
	ev := &SecurityEvent{UserID: "u1", SourceIP: "10.0.0.1"}
	assert.Equal(t, "", RulePredicate{}.GroupKey(ev))
	assert.Equal(t, "userId=u1", RulePredicate{GroupBy: []string{"userId"}}.GroupKey(ev))
	assert.Equal(t, "userId=u1|sourceIp=10.0.0.1", RulePredicate{GroupBy: []string{"userId", "sourceIp"}}.GroupKey(ev))
}

func TestPatternMatcher_Timeout(t *testing.T) {
	m := NewPatternMatcher(time.Millisecond, 4)
	// classic catastrophic backtracking
	_, err := m.Match(`^(a+)+$`, strings.Repeat("a", 5000)+"!")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRegexTimeout))
}

func TestPatternMatcher_CompileError(t *testing.T) {
	m := NewPatternMatcher(0, 0)
	assert.Error(t, m.Compile("("))
	assert.Error(t, m.Compile(""))
	assert.NoError(t, m.Compile("^ok$"))
}
