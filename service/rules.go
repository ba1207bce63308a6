package service

import (
	"context"
	"errors"

	"watchtower/core"

	"go.opentelemetry.io/otel/attribute"
)

// ImportResult reports what ImportRules did with each rule
type ImportResult struct {
	Created []string      `json:"created"`
	Updated []string      `json:"updated"`
	Failed  []ImportError `json:"failed"`
}

// ImportError is one rule ImportRules rejected
type ImportError struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// ListRules returns every rule, or only enabled ones
func (s *SIEM) ListRules(ctx context.Context, enabledOnly bool) ([]core.CorrelationRule, error) {
	rules, err := s.rules.ListRules(ctx, enabledOnly)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []core.CorrelationRule{}
	}
	return rules, nil
}

// GetRule returns one rule by id
func (s *SIEM) GetRule(ctx context.Context, id string) (*core.CorrelationRule, error) {
	if id == "" {
		return nil, core.NewValidationError("ruleId", "is required")
	}
	return s.rules.GetRule(ctx, id)
}

// CreateRule validates and stores a new rule. It applies from the next
// correlation pass.
func (s *SIEM) CreateRule(ctx context.Context, rule core.CorrelationRule, actor string) (*core.CorrelationRule, error) {
	ctx, span := s.startSpan(ctx, "rule.create", attribute.String("actor", actor))
	var err error
	defer func() { endSpan(span, err) }()

	if err = requireActor(actor); err != nil {
		return nil, err
	}
	rule.PrepareNew(s.now())
	if err = rule.Validate(s.matcher); err != nil {
		return nil, err
	}
	if err = s.rules.CreateRule(ctx, &rule); err != nil {
		return nil, err
	}
	s.rulesChanged(ctx, rule.ID, "created", actor)
	return &rule, nil
}

// UpdateRule replaces the definition of an existing rule
func (s *SIEM) UpdateRule(ctx context.Context, id string, rule core.CorrelationRule, actor string) (*core.CorrelationRule, error) {
	ctx, span := s.startSpan(ctx, "rule.update", attribute.String("rule.id", id), attribute.String("actor", actor))
	var err error
	defer func() { endSpan(span, err) }()

	if err = requireActor(actor); err != nil {
		return nil, err
	}
	existing, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	rule.ID = id
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = s.now().UTC()
	if err = rule.Validate(s.matcher); err != nil {
		return nil, err
	}
	if err = s.rules.UpdateRule(ctx, &rule); err != nil {
		return nil, err
	}
	s.rulesChanged(ctx, id, "updated", actor)
	return &rule, nil
}

// SetRuleEnabled turns a rule on or off
func (s *SIEM) SetRuleEnabled(ctx context.Context, id string, enabled bool, actor string) (*core.CorrelationRule, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	rule.Enabled = enabled
	return s.UpdateRule(ctx, id, *rule, actor)
}

// DeleteRule removes a rule. Alerts it raised keep its id.
func (s *SIEM) DeleteRule(ctx context.Context, id, actor string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if id == "" {
		return core.NewValidationError("ruleId", "is required")
	}
	if err := s.rules.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.rulesChanged(ctx, id, "deleted", actor)
	return nil
}

// ImportRules upserts a batch: rules whose id exists are updated, the rest
// are created. Each rule succeeds or fails on its own.
func (s *SIEM) ImportRules(ctx context.Context, rules []core.CorrelationRule, actor string) (*ImportResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	res := &ImportResult{Created: []string{}, Updated: []string{}, Failed: []ImportError{}}
	for i, rule := range rules {
		var (
			stored *core.CorrelationRule
			err    error
			update bool
		)
		if rule.ID != "" {
			_, err = s.rules.GetRule(ctx, rule.ID)
			switch {
			case err == nil:
				update = true
			case errors.Is(err, core.ErrNotFound):
				err = nil
			}
		}
		if err == nil {
			if update {
				stored, err = s.UpdateRule(ctx, rule.ID, rule, actor)
			} else {
				stored, err = s.CreateRule(ctx, rule, actor)
			}
		}
		if err != nil {
			res.Failed = append(res.Failed, ImportError{Index: i, Name: rule.Name, Error: err.Error()})
			continue
		}
		if update {
			res.Updated = append(res.Updated, stored.ID)
		} else {
			res.Created = append(res.Created, stored.ID)
		}
	}
	s.logger.Infow("Rules imported", "actor", actor,
		"created", len(res.Created), "updated", len(res.Updated), "failed", len(res.Failed))
	return res, nil
}

func (s *SIEM) rulesChanged(ctx context.Context, id, action, actor string) {
	if s.ruleCache != nil {
		s.ruleCache.Invalidate()
	}
	s.recordAudit(ctx, core.AuditRecord{EntityKind: core.AuditKindRule, EntityID: id, Action: action, Actor: actor})
	s.logger.Infow("Correlation rule changed", "rule_id", id, "action", action, "actor", actor)
}
