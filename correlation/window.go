package correlation

import (
	"context"
	"slices"
	"sort"
	"time"

	"watchtower/core"
)

type windowEvent struct {
	id string
	at time.Time
}

// matchingWindow returns the events in [event.ts - window, event.ts + window]
// that satisfy the rule predicate and share the event's group, oldest
// first. Events stored later with an older timestamp are counted when they
// arrive, so the scan looks both ways. The triggering event is always included.
func (e *Engine) matchingWindow(ctx context.Context, rule *core.CorrelationRule, event *core.SecurityEvent, groupKey string) ([]windowEvent, error) {
	filter := core.EventFilter{
		Types: rule.Predicate.EventTypes,
		Range: core.TimeRange{Start: event.Timestamp.Add(-rule.Window()), End: event.Timestamp.Add(rule.Window())},
	}
	// push indexed group fields down to the store
	for _, field := range rule.Predicate.GroupBy {
		v, _ := event.Field(field)
		switch field {
		case "userId":
			filter.UserID = v
		case "sourceIp":
			filter.SourceIP = v
		}
	}

	var (
		window   []windowEvent
		sawSelf  bool
		matchErr error
	)
	err := e.events.ScanEvents(ctx, filter, func(candidate *core.SecurityEvent) bool {
		if ctx.Err() != nil {
			matchErr = ctx.Err()
			return false
		}
		if candidate.ID == event.ID {
			sawSelf = true
			window = append(window, windowEvent{id: candidate.ID, at: candidate.Timestamp})
			return true
		}
		ok, err := rule.Predicate.Matches(candidate, e.matcher)
		if err != nil {
			matchErr = err
			return false
		}
		if ok && rule.Predicate.GroupKey(candidate) == groupKey {
			window = append(window, windowEvent{id: candidate.ID, at: candidate.Timestamp})
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if matchErr != nil {
		return nil, matchErr
	}
	if !sawSelf {
		// after every stored event with the same timestamp
		i := sort.Search(len(window), func(i int) bool { return window[i].at.After(event.Timestamp) })
		window = slices.Insert(window, i, windowEvent{id: event.ID, at: event.Timestamp})
	}
	return window, nil
}

// reachesThreshold reports whether some span of length width that contains
// at holds threshold or more of the window's events. window is oldest first.
func reachesThreshold(window []windowEvent, at time.Time, width time.Duration, threshold int) bool {
	if len(window) < threshold {
		return false
	}
	// a best span can always be shifted to start on an event at or before at
	end := 0
	for start := range window {
		if window[start].at.After(at) {
			break
		}
		if window[start].at.Before(at.Add(-width)) {
			continue
		}
		if end < start {
			end = start
		}
		limit := window[start].at.Add(width)
		for end < len(window) && !window[end].at.After(limit) {
			end++
		}
		if end-start >= threshold {
			return true
		}
	}
	return false
}

// newWindowAlert raises an alert carrying every event that made the rule
// fire. firstSeen is the oldest of them.
func newWindowAlert(rule *core.CorrelationRule, event *core.SecurityEvent, groupKey string, window []windowEvent, now time.Time) *core.SecurityAlert {
	alert := core.NewRuleAlert(rule, event, groupKey, now)
	evidence := make([]string, 0, len(window))
	for _, w := range window {
		if w.at.Before(alert.FirstSeen) {
			alert.FirstSeen = w.at
		}
		if w.at.After(alert.LastSeen) {
			alert.LastSeen = w.at
		}
		evidence = append(evidence, w.id)
	}
	alert.EvidenceEventIDs = evidence
	return alert
}
