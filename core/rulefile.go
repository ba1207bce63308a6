package core

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed rules_schema.json
var rulesSchema []byte

var rulesSchemaLoader = gojsonschema.NewBytesLoader(rulesSchema)

// RuleFormat is the encoding of a rule document
type RuleFormat string

const (
	RuleFormatJSON RuleFormat = "json"
	RuleFormatYAML RuleFormat = "yaml"
)

// RuleFormatFor picks a format from a file name or content type. Unknown
// inputs default to JSON.
func RuleFormatFor(nameOrContentType string) RuleFormat {
	s := strings.ToLower(nameOrContentType)
	if strings.HasSuffix(s, ".yaml") || strings.HasSuffix(s, ".yml") || strings.Contains(s, "yaml") {
		return RuleFormatYAML
	}
	return RuleFormatJSON
}

// ParseRules decodes a rule document, either a bare list or
// {"rules": [...]}, and checks it against the rule schema. Semantic checks such as pattern compilation are left to
// CorrelationRule.Validate.
func ParseRules(data []byte, format RuleFormat) ([]CorrelationRule, error) {
	var doc interface{}
	var err error
	if format == RuleFormatYAML {
		err = yaml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, NewValidationError("rules", "cannot decode %s: %v", format, err)
	}

	if m, ok := doc.(map[string]interface{}); ok {
		list, ok := m["rules"].([]interface{})
		if !ok {
			return nil, NewValidationError("rules", "document must be a list or contain a rules list")
		}
		doc = list
	}

	// YAML is normalised to JSON so one schema covers both encodings
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, NewValidationError("rules", "cannot normalise document: %v", err)
	}

	result, err := gojsonschema.Validate(rulesSchemaLoader, gojsonschema.NewBytesLoader(normalized))
	if err != nil {
		return nil, NewValidationError("rules", "schema validation failed: %v", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, &ValidationError{Field: "rules", Message: strings.Join(msgs, "; ")}
	}

	var rules []CorrelationRule
	if err := json.Unmarshal(normalized, &rules); err != nil {
		return nil, NewValidationError("rules", "cannot decode rules: %v", err)
	}
	return rules, nil
}

// MarshalRules encodes rules for export
func MarshalRules(rules []CorrelationRule, format RuleFormat) ([]byte, error) {
	if format == RuleFormatYAML {
		return yaml.Marshal(ruleExport{Rules: rules})
	}
	out, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal rules: %w", err)
	}
	return out, nil
}

type ruleExport struct {
	Rules []CorrelationRule `yaml:"rules"`
}
