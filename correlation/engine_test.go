package correlation

import (
	"context"
	"sync"
	"testing"
	"time"

	"watchtower/core"
	"watchtower/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2025, 1, 14, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	engine *Engine
	events *storage.SQLiteEventStore
	alerts *storage.SQLiteAlertStore
	rules  *storage.SQLiteCorrelationRuleStorage
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	logger := zap.NewNop().Sugar()
	db, err := storage.NewSQLite(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{
		events: storage.NewSQLiteEventStore(db, logger),
		alerts: storage.NewSQLiteAlertStore(db, logger),
		rules:  storage.NewSQLiteCorrelationRuleStorage(db, logger),
	}
	env.engine = NewEngine(env.rules, env.events, env.alerts, storage.NewLocalRuleLocker(),
		core.NewPatternMatcher(0, 0), cfg, nil, logger)
	env.engine.now = func() time.Time { return base.Add(time.Hour) }
	return env
}

func (env *testEnv) addRule(t *testing.T, rule core.CorrelationRule) core.CorrelationRule {
	t.Helper()
	rule.Enabled = true
	rule.PrepareNew(base)
	require.NoError(t, rule.Validate(core.NewPatternMatcher(0, 0)))
	require.NoError(t, env.rules.CreateRule(context.Background(), &rule))
	return rule
}

// record stores an event and correlates it, like RecordEvent does
func (env *testEnv) record(t *testing.T, typ core.EventType, user string, at time.Time) (*core.SecurityEvent, *Result) {
	t.Helper()
	ev := &core.SecurityEvent{
		ID:          uuid.New().String(),
		Timestamp:   at,
		Type:        typ,
		Severity:    core.SeverityMedium,
		SourceIP:    "198.51.100.20",
		UserID:      user,
		Description: "test event",
	}
	ctx := context.Background()
	require.NoError(t, env.events.InsertEvent(ctx, ev))
	res, err := env.engine.Correlate(ctx, ev)
	require.NoError(t, err)
	return ev, res
}

func (env *testEnv) allAlerts(t *testing.T) []core.SecurityAlert {
	t.Helper()
	page, err := env.alerts.ListAlerts(context.Background(), core.AlertFilter{}, core.Pagination{Limit: core.MaxPageLimit})
	require.NoError(t, err)
	return page.Items
}

func bruteForceRule() core.CorrelationRule {
	return core.CorrelationRule{
		Name:              "Brute force",
		Predicate:         core.RulePredicate{EventTypes: []core.EventType{core.EventTypeAuthFailure}, GroupBy: []string{"userId"}},
		WindowSeconds:     60,
		Threshold:         3,
		ProducedSeverity:  core.SeverityHigh,
		ProducedAlertType: "BRUTE_FORCE",
	}
}

func TestEngine_ThresholdScenario(t *testing.T) {
	env := newTestEnv(t, Config{})
	rule := env.addRule(t, bruteForceRule())

	e1, res := env.record(t, core.EventTypeAuthFailure, "alice", base)
	assert.Empty(t, res.Outcomes)
	e2, res := env.record(t, core.EventTypeAuthFailure, "alice", base.Add(10*time.Second))
	assert.Empty(t, res.Outcomes)
	assert.Empty(t, env.allAlerts(t), "two events are below threshold")

	e3, res := env.record(t, core.EventTypeAuthFailure, "alice", base.Add(50*time.Second))
	require.Len(t, res.Outcomes, 1)
	assert.True(t, res.Outcomes[0].Created)

	alerts := env.allAlerts(t)
	require.Len(t, alerts, 1)
	alert := alerts[0]
	assert.Equal(t, core.AlertStatusOpen, alert.Status)
	assert.Equal(t, rule.ID, alert.CorrelationRuleID)
	assert.Equal(t, core.SeverityHigh, alert.Severity)
	assert.Equal(t, "userId=alice", alert.GroupKey)
	assert.Equal(t, []string{e1.ID, e2.ID, e3.ID}, alert.EvidenceEventIDs)
	assert.True(t, alert.FirstSeen.Equal(e1.Timestamp))
	assert.True(t, alert.LastSeen.Equal(e3.Timestamp))

	e4, res := env.record(t, core.EventTypeAuthFailure, "alice", base.Add(55*time.Second))
	require.Len(t, res.Outcomes, 1)
	assert.True(t, res.Outcomes[0].Merged)

	alerts = env.allAlerts(t)
	require.Len(t, alerts, 1, "the fourth event merges instead of raising a second alert")
	assert.Len(t, alerts[0].EvidenceEventIDs, 4)
	assert.Equal(t, e4.ID, alerts[0].EvidenceEventIDs[3])
	assert.True(t, alerts[0].LastSeen.Equal(e4.Timestamp))
}

func TestEngine_WindowExcludesOldEvents(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addRule(t, bruteForceRule())

	env.record(t, core.EventTypeAuthFailure, "alice", base)
	env.record(t, core.EventTypeAuthFailure, "alice", base.Add(30*time.Second))
	_, res := env.record(t, core.EventTypeAuthFailure, "alice", base.Add(61*time.Second))
	assert.Empty(t, res.Outcomes, "the first event fell out of the window")
}

func TestEngine_OutOfOrderEventsFire(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addRule(t, bruteForceRule())

	e3, res := env.record(t, core.EventTypeAuthFailure, "alice", base.Add(30*time.Second))
	assert.Empty(t, res.Outcomes)
	e2, res := env.record(t, core.EventTypeAuthFailure, "alice", base.Add(20*time.Second))
	assert.Empty(t, res.Outcomes)
	e1, res := env.record(t, core.EventTypeAuthFailure, "alice", base.Add(10*time.Second))
	require.Len(t, res.Outcomes, 1, "the window follows event time, not arrival order")
	assert.True(t, res.Outcomes[0].Created)

	alerts := env.allAlerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, []string{e1.ID, e2.ID, e3.ID}, alerts[0].EvidenceEventIDs)
	assert.True(t, alerts[0].FirstSeen.Equal(e1.Timestamp))
	assert.True(t, alerts[0].LastSeen.Equal(e3.Timestamp))
}

func TestEngine_SpreadOutEventsDoNotFire(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addRule(t, bruteForceRule())

	// every pair fits in 60s but no 60s span holds all three
	for _, offset := range []time.Duration{100 * time.Second, 0, 50 * time.Second} {
		_, res := env.record(t, core.EventTypeAuthFailure, "alice", base.Add(offset))
		assert.Empty(t, res.Outcomes)
	}
	assert.Empty(t, env.allAlerts(t))
}

func TestReachesThreshold(t *testing.T) {
	at := func(secs ...int) []windowEvent {
		out := make([]windowEvent, len(secs))
		for i, s := range secs {
			out[i] = windowEvent{id: uuid.NewString(), at: base.Add(time.Duration(s) * time.Second)}
		}
		return out
	}

	tests := []struct {
		name      string
		window    []windowEvent
		event     int
		threshold int
		want      bool
	}{
		{"too few events", at(0, 10), 10, 3, false},
		{"all before the event", at(0, 10, 50), 50, 3, true},
		{"all after the event", at(10, 20, 30), 10, 3, true},
		{"event in the middle", at(-30, 0, 30), 0, 3, true},
		{"span longer than window", at(0, 50, 100), 50, 3, false},
		{"span boundary inclusive", at(0, 30, 60), 0, 3, true},
		{"dense cluster away from event", at(-60, 70, 71, 72), -60, 3, false},
		{"event joins the cluster", at(10, 68, 69, 70), 10, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reachesThreshold(tt.window, base.Add(time.Duration(tt.event)*time.Second), time.Minute, tt.threshold)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_GroupsAreIndependent(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addRule(t, bruteForceRule())

	env.record(t, core.EventTypeAuthFailure, "alice", base)
	env.record(t, core.EventTypeAuthFailure, "bob", base.Add(time.Second))
	_, res := env.record(t, core.EventTypeAuthFailure, "alice", base.Add(2*time.Second))
	assert.Empty(t, res.Outcomes)
	_, res = env.record(t, core.EventTypeAuthSuccess, "alice", base.Add(3*time.Second))
	assert.Empty(t, res.Outcomes, "non-matching types are not counted")
}

func TestEngine_MultipleRulesFireIndependently(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addRule(t, core.CorrelationRule{
		Name:              "Any high severity",
		Predicate:         core.RulePredicate{MinSeverity: core.SeverityMedium},
		WindowSeconds:     300,
		Threshold:         1,
		ProducedSeverity:  core.SeverityLow,
		ProducedAlertType: "NOTABLE_EVENT",
	})
	env.addRule(t, core.CorrelationRule{
		Name:              "Service account failure",
		Predicate:         core.RulePredicate{EventTypes: []core.EventType{core.EventTypeAuthFailure}, FieldPatterns: map[string]string{"userId": "^svc-"}},
		WindowSeconds:     300,
		Threshold:         1,
		ProducedSeverity:  core.SeverityCritical,
		ProducedAlertType: "SERVICE_ACCOUNT_FAILURE",
	})

	_, res := env.record(t, core.EventTypeAuthFailure, "svc-backup", base)
	require.Len(t, res.Outcomes, 2)
	assert.Len(t, env.allAlerts(t), 2)

	_, res = env.record(t, core.EventTypeAuthFailure, "alice", base.Add(time.Second))
	require.Len(t, res.Outcomes, 1)
	assert.True(t, res.Outcomes[0].Merged)
}

func TestEngine_TerminalAlertStartsNewOne(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addRule(t, core.CorrelationRule{
		Name:              "Malware",
		Predicate:         core.RulePredicate{EventTypes: []core.EventType{core.EventTypeMalwareDetected}},
		WindowSeconds:     600,
		Threshold:         1,
		ProducedSeverity:  core.SeverityCritical,
		ProducedAlertType: "MALWARE",
	})
	ctx := context.Background()

	_, res := env.record(t, core.EventTypeMalwareDetected, "alice", base)
	require.Len(t, res.Outcomes, 1)
	alert := res.Outcomes[0].Alert
	require.NoError(t, alert.Dismiss("analyst", "test file", base))
	require.NoError(t, env.alerts.UpdateAlert(ctx, alert, alert.Version))

	_, res = env.record(t, core.EventTypeMalwareDetected, "alice", base.Add(time.Second))
	require.Len(t, res.Outcomes, 1)
	assert.True(t, res.Outcomes[0].Created)
	assert.Len(t, env.allAlerts(t), 2)
}

func TestEngine_ConcurrentEventsProduceOneAlert(t *testing.T) {
	env := newTestEnv(t, Config{Timeout: 10 * time.Second})
	env.addRule(t, core.CorrelationRule{
		Name:              "Permission denied",
		Predicate:         core.RulePredicate{EventTypes: []core.EventType{core.EventTypePermissionDenied}},
		WindowSeconds:     60,
		Threshold:         1,
		ProducedSeverity:  core.SeverityMedium,
		ProducedAlertType: "ACCESS_PROBING",
	})

	const n = 25
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := &core.SecurityEvent{
				ID:          uuid.New().String(),
				Timestamp:   base.Add(time.Duration(i) * time.Millisecond),
				Type:        core.EventTypePermissionDenied,
				Severity:    core.SeverityLow,
				UserID:      "mallory",
				Description: "denied",
			}
			if !assert.NoError(t, env.events.InsertEvent(ctx, ev)) {
				return
			}
			_, err := env.engine.Correlate(ctx, ev)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	alerts := env.allAlerts(t)
	require.Len(t, alerts, 1, "no duplicate alerts under race")
	assert.Len(t, alerts[0].EvidenceEventIDs, n)
}

func TestEngine_ConcurrentWindowKeepsAllEvidence(t *testing.T) {
	env := newTestEnv(t, Config{Timeout: 10 * time.Second})
	env.addRule(t, bruteForceRule())

	const n = 40
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := &core.SecurityEvent{
				ID:          uuid.New().String(),
				Timestamp:   base.Add(time.Duration(i) * time.Millisecond),
				Type:        core.EventTypeAuthFailure,
				Severity:    core.SeverityMedium,
				UserID:      "alice",
				Description: "bad password",
			}
			if !assert.NoError(t, env.events.InsertEvent(ctx, ev)) {
				return
			}
			_, err := env.engine.Correlate(ctx, ev)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	alerts := env.allAlerts(t)
	require.Len(t, alerts, 1)
	assert.Len(t, alerts[0].EvidenceEventIDs, n, "every in-window event ends up as evidence")
	assert.True(t, alerts[0].FirstSeen.Equal(base))
	assert.True(t, alerts[0].LastSeen.Equal(base.Add((n-1)*time.Millisecond)))
}

func TestEngine_HotReload(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, res := env.record(t, core.EventTypeDataExport, "alice", base)
	assert.Empty(t, res.Outcomes)

	rule := env.addRule(t, core.CorrelationRule{
		Name:              "Data export",
		Predicate:         core.RulePredicate{EventTypes: []core.EventType{core.EventTypeDataExport}},
		WindowSeconds:     60,
		Threshold:         1,
		ProducedSeverity:  core.SeverityMedium,
		ProducedAlertType: "DATA_EXFILTRATION",
	})
	_, res = env.record(t, core.EventTypeDataExport, "alice", base.Add(time.Second))
	require.Len(t, res.Outcomes, 1, "new rules apply to the next event")

	rule.Enabled = false
	require.NoError(t, env.rules.UpdateRule(context.Background(), &rule))
	_, res = env.record(t, core.EventTypeDataExport, "alice", base.Add(2*time.Second))
	assert.Empty(t, res.Outcomes, "disabled rules stop firing")
}

// slowEventStore blocks window scans until the caller gives up
type slowEventStore struct {
	*storage.SQLiteEventStore
}

func (s slowEventStore) ScanEvents(ctx context.Context, filter core.EventFilter, fn func(*core.SecurityEvent) bool) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestEngine_TimeoutAbandonsPass(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addRule(t, bruteForceRule())
	logger := zap.NewNop().Sugar()
	engine := NewEngine(env.rules, slowEventStore{env.events}, env.alerts, nil,
		core.NewPatternMatcher(0, 0), Config{Timeout: 20 * time.Millisecond}, nil, logger)

	ev := &core.SecurityEvent{ID: uuid.New().String(), Timestamp: base, Type: core.EventTypeAuthFailure, Severity: core.SeverityLow, UserID: "alice", Description: "x"}
	require.NoError(t, env.events.InsertEvent(context.Background(), ev))

	res, err := engine.Correlate(context.Background(), ev)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCorrelationTimeout)
	require.NotNil(t, res)
	assert.Empty(t, res.Outcomes)
}

func TestEngine_RegexTimeoutSkipsRule(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.engine.matcher = core.NewPatternMatcher(time.Millisecond, 0)
	env.addRule(t, core.CorrelationRule{
		Name:              "Catastrophic pattern",
		Predicate:         core.RulePredicate{FieldPatterns: map[string]string{"description": `^(a+)+$`}},
		WindowSeconds:     60,
		Threshold:         1,
		ProducedSeverity:  core.SeverityLow,
		ProducedAlertType: "NEVER",
	})
	env.addRule(t, core.CorrelationRule{
		Name:              "Any auth failure",
		Predicate:         core.RulePredicate{EventTypes: []core.EventType{core.EventTypeAuthFailure}},
		WindowSeconds:     60,
		Threshold:         1,
		ProducedSeverity:  core.SeverityLow,
		ProducedAlertType: "AUTH_FAILURE_SEEN",
	})

	ev := &core.SecurityEvent{
		ID: uuid.New().String(), Timestamp: base, Type: core.EventTypeAuthFailure, Severity: core.SeverityLow,
		Description: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa!",
	}
	require.NoError(t, env.events.InsertEvent(context.Background(), ev))
	res, err := env.engine.Correlate(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, "AUTH_FAILURE_SEEN", res.Outcomes[0].Alert.Type)
}
