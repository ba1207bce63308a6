package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bruteForceYAML = `
rules:
  - name: Brute force
    enabled: true
    windowSeconds: 60
    threshold: 3
    producedSeverity: HIGH
    producedAlertType: BRUTE_FORCE
    predicate:
      eventTypes: [AUTH_FAILURE]
      groupBy: [userId]
`

func TestParseRules_YAMLDocument(t *testing.T) {
	rules, err := ParseRules([]byte(bruteForceYAML), RuleFormatYAML)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	r := rules[0]
	assert.Equal(t, "Brute force", r.Name)
	assert.True(t, r.Enabled)
	assert.Equal(t, 3, r.Threshold)
	assert.Equal(t, []EventType{EventTypeAuthFailure}, r.Predicate.EventTypes)
	assert.Equal(t, []string{"userId"}, r.Predicate.GroupBy)
	assert.NoError(t, r.Validate(NewPatternMatcher(0, 0)))
}

func TestParseRules_JSONList(t *testing.T) {
	doc := `[{"name":"Malware","threshold":1,"producedSeverity":"CRITICAL","producedAlertType":"MALWARE",
		"predicate":{"eventTypes":["MALWARE_DETECTED"]}}]`
	rules, err := ParseRules([]byte(doc), RuleFormatJSON)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, SeverityCritical, rules[0].ProducedSeverity)
}

func TestParseRules_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing name", `[{"threshold":1,"producedSeverity":"LOW","producedAlertType":"X1","predicate":{}}]`},
		{"bad severity", `[{"name":"a","threshold":1,"producedSeverity":"URGENT","producedAlertType":"X1","predicate":{}}]`},
		{"zero threshold", `[{"name":"a","threshold":0,"producedSeverity":"LOW","producedAlertType":"X1","predicate":{}}]`},
		{"unknown property", `[{"name":"a","threshold":1,"producedSeverity":"LOW","producedAlertType":"X1","predicate":{},"conditions":[]}]`},
		{"lowercase alert type", `[{"name":"a","threshold":1,"producedSeverity":"LOW","producedAlertType":"brute","predicate":{}}]`},
		{"object without rules", `{"items":[]}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.doc), RuleFormatJSON)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestMarshalRules_RoundTripsThroughParse(t *testing.T) {
	rules, err := ParseRules([]byte(bruteForceYAML), RuleFormatYAML)
	require.NoError(t, err)

	for _, format := range []RuleFormat{RuleFormatYAML, RuleFormatJSON} {
		out, err := MarshalRules(rules, format)
		require.NoError(t, err)
		again, err := ParseRules(out, format)
		require.NoError(t, err, string(out))
		assert.Equal(t, rules[0].Name, again[0].Name)
		assert.Equal(t, rules[0].Predicate, again[0].Predicate)
	}
}

func TestRuleFormatFor(t *testing.T) {
	assert.Equal(t, RuleFormatYAML, RuleFormatFor("rules.yml"))
	assert.Equal(t, RuleFormatYAML, RuleFormatFor("application/yaml"))
	assert.Equal(t, RuleFormatJSON, RuleFormatFor("application/json"))
	assert.Equal(t, RuleFormatJSON, RuleFormatFor(""))
}
