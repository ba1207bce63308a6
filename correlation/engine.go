package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"watchtower/core"
	"watchtower/metrics"
	"watchtower/storage"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Correlator turns a stored event into alert changes. The event must
// already be persisted so windowed counts include it.
type Correlator interface {
	Correlate(ctx context.Context, event *core.SecurityEvent) (*Result, error)
}

// Outcome is the effect one rule had on the alert store
type Outcome struct {
	RuleID  string
	Alert   *core.SecurityAlert
	Created bool
	// Merged is false when the event was already part of the live alert
	Merged bool
}

// Result lists the alert changes made for one event, in rule order
type Result struct {
	EventID  string
	Outcomes []Outcome
}

// Config tunes the engine
type Config struct {
	// Timeout bounds one correlation pass. Zero uses core.DefaultCorrelationTimeout.
	Timeout time.Duration
	// ReloadInterval forces a rule reload even without a revision change
	ReloadInterval time.Duration
	// MaxMergeAttempts bounds find-or-create retries after losing a race
	// with an operator transition
	MaxMergeAttempts int
}

// Engine evaluates the enabled rule set against each recorded event.
// Find-or-create of the live alert runs under a lock keyed by rule and
// group so concurrent events for one condition raise a single alert.
type Engine struct {
	rules   *RuleCache
	events  storage.EventStore
	alerts  storage.AlertStore
	locker  storage.RuleLocker
	matcher *core.PatternMatcher
	cfg     Config
	tracer  trace.Tracer
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewEngine wires an engine. A nil tracer disables spans.
func NewEngine(rules storage.RuleStore, events storage.EventStore, alerts storage.AlertStore, locker storage.RuleLocker,
	matcher *core.PatternMatcher, cfg Config, tracer trace.Tracer, logger *zap.SugaredLogger) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = core.DefaultCorrelationTimeout
	}
	if cfg.MaxMergeAttempts <= 0 {
		cfg.MaxMergeAttempts = 3
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	if locker == nil {
		locker = storage.NewLocalRuleLocker()
	}
	return &Engine{
		rules:   NewRuleCache(rules, cfg.ReloadInterval, logger),
		events:  events,
		alerts:  alerts,
		locker:  locker,
		matcher: matcher,
		cfg:     cfg,
		tracer:  tracer,
		logger:  logger,
		now:     time.Now,
	}
}

// Rules exposes the rule cache for invalidation
func (e *Engine) Rules() *RuleCache {
	return e.rules
}

// Correlate runs every enabled rule against event within the time budget.
// On timeout the remaining rules are skipped; changes already written are
// kept and returned alongside a *core.CorrelationTimeoutError.
func (e *Engine) Correlate(ctx context.Context, event *core.SecurityEvent) (*Result, error) {
	start := time.Now()
	defer func() { metrics.CorrelationDuration.Observe(time.Since(start).Seconds()) }()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "correlation.Correlate",
		trace.WithAttributes(attribute.String("event.id", event.ID), attribute.String("event.type", string(event.Type))))
	defer span.End()

	result := &Result{EventID: event.ID}

	rules, err := e.rules.Active(ctx)
	if err != nil {
		return result, e.fail(span, event, "", err)
	}

	for i := range rules {
		rule := &rules[i]
		if ctx.Err() != nil {
			return result, e.fail(span, event, rule.ID, ctx.Err())
		}

		matched, err := rule.Predicate.Matches(event, e.matcher)
		if err != nil {
			// a pattern that blew its match budget abandons only this rule
			e.logger.Warnw("Rule evaluation abandoned", "rule_id", rule.ID, "event_id", event.ID, "error", err)
			continue
		}
		if !matched {
			continue
		}

		outcome, err := e.evaluate(ctx, rule, event)
		if errors.Is(err, core.ErrRegexTimeout) {
			e.logger.Warnw("Rule window evaluation abandoned", "rule_id", rule.ID, "event_id", event.ID, "error", err)
			continue
		}
		if err != nil {
			return result, e.fail(span, event, rule.ID, err)
		}
		if outcome != nil {
			result.Outcomes = append(result.Outcomes, *outcome)
		}
	}

	span.SetAttributes(attribute.Int("alerts.changed", len(result.Outcomes)))
	return result, nil
}

// evaluate applies one matched rule: count the window around the event,
// then find-or-create. A new alert carries every matching event the scan saw.
func (e *Engine) evaluate(ctx context.Context, rule *core.CorrelationRule, event *core.SecurityEvent) (*Outcome, error) {
	groupKey := rule.Predicate.GroupKey(event)

	release, err := e.locker.Lock(ctx, lockKey(rule.ID, groupKey))
	if err != nil {
		return nil, fmt.Errorf("failed to lock rule %s: %w", rule.ID, err)
	}
	defer release()

	window := []windowEvent{{id: event.ID, at: event.Timestamp}}
	if !rule.IsSingleEvent() {
		window, err = e.matchingWindow(ctx, rule, event, groupKey)
		if err != nil {
			return nil, err
		}
		if !reachesThreshold(window, event.Timestamp, rule.Window(), rule.Threshold) {
			return nil, nil
		}
	}

	for attempt := 1; ; attempt++ {
		outcome, err := e.findOrCreate(ctx, rule, event, groupKey, window)
		if err == nil {
			return outcome, nil
		}
		// an operator closed the live alert between our read and write
		if errors.Is(err, core.ErrInvalidState) && attempt < e.cfg.MaxMergeAttempts {
			e.logger.Debugw("Live alert changed during merge, retrying", "rule_id", rule.ID, "attempt", attempt)
			continue
		}
		return nil, err
	}
}

func (e *Engine) findOrCreate(ctx context.Context, rule *core.CorrelationRule, event *core.SecurityEvent, groupKey string, window []windowEvent) (*Outcome, error) {
	now := e.now().UTC()

	live, err := e.alerts.FindLiveAlert(ctx, rule.ID, groupKey, event.Timestamp.Add(-rule.Window()))
	if err != nil {
		return nil, err
	}

	if live != nil {
		expected := live.Version
		before := len(live.EvidenceEventIDs)
		if err := live.AppendEvidence(event.ID, event.Timestamp, now); err != nil {
			return nil, err
		}
		if len(live.EvidenceEventIDs) == before {
			return &Outcome{RuleID: rule.ID, Alert: live}, nil
		}
		if err := e.alerts.UpdateAlert(ctx, live, expected); err != nil {
			return nil, err
		}
		metrics.AlertEvidenceMerged.Inc()
		e.logger.Debugw("Merged event into live alert", "rule_id", rule.ID, "alert_id", live.AlertID, "event_id", event.ID)
		return &Outcome{RuleID: rule.ID, Alert: live, Merged: true}, nil
	}

	alert := newWindowAlert(rule, event, groupKey, window, now)
	if err := e.alerts.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}
	metrics.AlertsCreated.WithLabelValues(string(alert.Severity)).Inc()
	e.logger.Infow("Correlation rule fired",
		"rule_id", rule.ID, "alert_id", alert.AlertID, "event_id", event.ID,
		"group_key", groupKey, "evidence", len(alert.EvidenceEventIDs))
	return &Outcome{RuleID: rule.ID, Alert: alert, Created: true}, nil
}

// fail classifies a pass-ending error, recording it on the span
func (e *Engine) fail(span trace.Span, event *core.SecurityEvent, ruleID string, err error) error {
	span.RecordError(err)
	if errors.Is(err, context.DeadlineExceeded) {
		metrics.CorrelationTimeouts.Inc()
		span.SetStatus(codes.Error, "timeout")
		return &core.CorrelationTimeoutError{EventID: event.ID, RuleID: ruleID, Budget: e.cfg.Timeout}
	}
	metrics.CorrelationErrors.Inc()
	span.SetStatus(codes.Error, err.Error())
	return err
}

func lockKey(ruleID, groupKey string) string {
	if groupKey == "" {
		return ruleID
	}
	return ruleID + "#" + groupKey
}
