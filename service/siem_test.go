package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"watchtower/core"
	"watchtower/correlation"
	"watchtower/notify"
	"watchtower/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 1, 14, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recordingNotifier) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.Kind
	}
	return out
}

type testSIEM struct {
	*SIEM
	db       *storage.SQLite
	engine   *correlation.Engine
	notifier *recordingNotifier
}

func newTestSIEM(t *testing.T) *testSIEM {
	t.Helper()
	logger := zap.NewNop().Sugar()
	db, err := storage.NewSQLite(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	events := storage.NewSQLiteEventStore(db, logger)
	alerts := storage.NewSQLiteAlertStore(db, logger)
	rules := storage.NewSQLiteCorrelationRuleStorage(db, logger)
	matcher := core.NewPatternMatcher(0, 0)
	engine := correlation.NewEngine(rules, events, alerts, nil, matcher, correlation.Config{Timeout: 5 * time.Second}, nil, logger)
	rec := &recordingNotifier{}

	siem := New(Deps{
		Events:     events,
		Alerts:     alerts,
		Incidents:  storage.NewSQLiteIncidentStore(db, logger),
		Rules:      rules,
		Audit:      storage.NewSQLiteAuditStore(db, logger),
		Correlator: engine,
		RuleCache:  engine.Rules(),
		Matcher:    matcher,
		Notifier:   rec,
		Logger:     logger,
	})
	siem.now = func() time.Time { return testNow }
	return &testSIEM{SIEM: siem, db: db, engine: engine, notifier: rec}
}

func authFailure(user string, at time.Time) core.EventInput {
	return core.EventInput{
		Timestamp:   at,
		Type:        core.EventTypeAuthFailure,
		Severity:    core.SeverityMedium,
		SourceIP:    "192.0.2.44",
		UserID:      user,
		Description: "invalid password",
	}
}

func (ts *testSIEM) bruteForceRule(t *testing.T) *core.CorrelationRule {
	t.Helper()
	rule, err := ts.CreateRule(context.Background(), core.CorrelationRule{
		Name:              "Repeated authentication failures",
		Enabled:           true,
		Predicate:         core.RulePredicate{EventTypes: []core.EventType{core.EventTypeAuthFailure}, GroupBy: []string{"userId"}},
		WindowSeconds:     60,
		Threshold:         3,
		ProducedSeverity:  core.SeverityHigh,
		ProducedAlertType: "BRUTE_FORCE",
	}, "admin")
	require.NoError(t, err)
	return rule
}

func (ts *testSIEM) singleEventAlert(t *testing.T, user string) *core.SecurityAlert {
	t.Helper()
	alert, err := ts.CreateManualAlert(context.Background(), core.ManualAlertInput{
		Type: "SUSPICIOUS_LOGIN", Severity: core.SeverityMedium, Title: "Login from new country for " + user,
	}, "analyst")
	require.NoError(t, err)
	return alert
}

func TestRecordEvent_ReadAfterWrite(t *testing.T) {
	ts := newTestSIEM(t)
	ctx := context.Background()

	ev, err := ts.RecordEvent(ctx, core.EventInput{Type: core.EventTypeDataAccess, Description: "report viewed", UserID: "u-7"})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, testNow, ev.Timestamp, "server timestamp assigned")
	assert.Equal(t, core.SeverityInfo, ev.Severity)

	page, err := ts.QueryEvents(ctx, core.EventFilter{UserID: "u-7"}, core.Pagination{}, core.EventSort{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ev.ID, page.Items[0].ID)
}

func TestRecordEvent_ValidationStoresNothing(t *testing.T) {
	ts := newTestSIEM(t)
	ctx := context.Background()

	_, err := ts.RecordEvent(ctx, core.EventInput{Type: "TELEPORTATION", Description: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)

	page, err := ts.QueryEvents(ctx, core.EventFilter{}, core.Pagination{}, core.EventSort{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items, "empty results are an empty list")
}

type failingCorrelator struct{ calls int }

func (f *failingCorrelator) Correlate(context.Context, *core.SecurityEvent) (*correlation.Result, error) {
	f.calls++
	return nil, &core.CorrelationTimeoutError{EventID: "x", Budget: time.Millisecond}
}

type failingEventStore struct {
	storage.EventStore
}

func (failingEventStore) InsertEvent(context.Context, *core.SecurityEvent) error {
	return core.NewStorageError("insert event", errors.New("disk full"))
}

func TestRecordEvent_CorrelationFailureIsSwallowed(t *testing.T) {
	ts := newTestSIEM(t)
	fc := &failingCorrelator{}
	ts.correlator = fc

	ev, err := ts.RecordEvent(context.Background(), authFailure("alice", testNow))
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, 1, fc.calls)
}

func TestRecordEvent_StorageFailureSkipsCorrelation(t *testing.T) {
	ts := newTestSIEM(t)
	fc := &failingCorrelator{}
	ts.correlator = fc
	ts.events = failingEventStore{ts.events}

	_, err := ts.RecordEvent(context.Background(), authFailure("alice", testNow))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStorage)
	assert.Zero(t, fc.calls)
}

func TestBruteForceScenario(t *testing.T) {
	ts := newTestSIEM(t)
	ctx := context.Background()
	rule := ts.bruteForceRule(t)
	start := testNow.Add(-time.Minute)

	_, err := ts.RecordEvent(ctx, authFailure("alice", start))
	require.NoError(t, err)
	_, err = ts.RecordEvent(ctx, authFailure("alice", start.Add(10*time.Second)))
	require.NoError(t, err)

	page, err := ts.ListAlerts(ctx, core.AlertFilter{}, core.Pagination{})
	require.NoError(t, err)
	assert.Empty(t, page.Items, "no alert below threshold")

	_, err = ts.RecordEvent(ctx, authFailure("alice", start.Add(40*time.Second)))
	require.NoError(t, err)

	page, err = ts.ListAlerts(ctx, core.AlertFilter{CorrelationRuleID: rule.ID}, core.Pagination{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	alert := page.Items[0]
	assert.Equal(t, core.AlertStatusOpen, alert.Status)
	assert.Len(t, alert.EvidenceEventIDs, 3)
	assert.Contains(t, ts.notifier.kinds(), notify.AlertCreated)

	alert2, err := ts.MarkInvestigating(ctx, alert.AlertID, "analyst")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusInvestigating, alert2.Status)
	assert.Equal(t, "analyst", alert2.AssignedTo)

	resolved, err := ts.ResolveAlert(ctx, alert.AlertID, core.ResolveInput{ResolutionType: core.ResolutionFixed}, "analyst")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusResolved, resolved.Status)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, "analyst", resolved.Resolution.ResolvedBy)

	_, err = ts.MarkInvestigating(ctx, alert.AlertID, "analyst")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidState)

	audit, err := ts.ListAudit(ctx, alert.AlertID, 0)
	require.NoError(t, err)
	require.Len(t, audit, 3)
	assert.Equal(t, "created", audit[0].Action)
	assert.Equal(t, "OPEN", audit[1].From)
	assert.Equal(t, "INVESTIGATING", audit[1].To)
	assert.Equal(t, "RESOLVED", audit[2].To)
}

func TestRecordEvent_OutOfOrderDeliveryFires(t *testing.T) {
	ts := newTestSIEM(t)
	ctx := context.Background()
	rule := ts.bruteForceRule(t)
	start := testNow.Add(-5 * time.Minute)

	// newest first, as a lagging forwarder would deliver them
	for _, offset := range []time.Duration{30 * time.Second, 20 * time.Second, 10 * time.Second} {
		_, err := ts.RecordEvent(ctx, authFailure("alice", start.Add(offset)))
		require.NoError(t, err)
	}

	page, err := ts.ListAlerts(ctx, core.AlertFilter{CorrelationRuleID: rule.ID}, core.Pagination{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Len(t, page.Items[0].EvidenceEventIDs, 3)
	assert.True(t, page.Items[0].FirstSeen.Equal(start.Add(10*time.Second)))
	assert.True(t, page.Items[0].LastSeen.Equal(start.Add(30*time.Second)))
}

func TestUpdateAlertStatus_StateMachine(t *testing.T) {
	type step struct {
		to core.AlertStatus
		ok bool
	}
	tests := []struct {
		name  string
		steps []step
	}{
		{"open to investigating to resolved", []step{{core.AlertStatusInvestigating, true}, {core.AlertStatusResolved, true}}},
		{"open to dismissed", []step{{core.AlertStatusDismissed, true}}},
		{"open to resolved", []step{{core.AlertStatusResolved, true}}},
		{"investigating to dismissed", []step{{core.AlertStatusInvestigating, true}, {core.AlertStatusDismissed, true}}},
		{"investigating twice", []step{{core.AlertStatusInvestigating, true}, {core.AlertStatusInvestigating, false}}},
		{"back to open", []step{{core.AlertStatusOpen, false}}},
		{"investigating back to open", []step{{core.AlertStatusInvestigating, true}, {core.AlertStatusOpen, false}}},
		{"resolved is terminal", []step{{core.AlertStatusResolved, true}, {core.AlertStatusDismissed, false}, {core.AlertStatusResolved, false}}},
		{"dismissed is terminal", []step{{core.AlertStatusDismissed, true}, {core.AlertStatusInvestigating, false}, {core.AlertStatusResolved, false}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestSIEM(t)
			alert := ts.singleEventAlert(t, "bob")
			for _, st := range tt.steps {
				_, err := ts.UpdateAlertStatus(context.Background(), alert.AlertID, AlertStatusUpdate{Status: st.to, Notes: "n"}, "analyst")
				if st.ok {
					require.NoError(t, err, "transition to %s", st.to)
				} else {
					require.Error(t, err, "transition to %s", st.to)
					assert.ErrorIs(t, err, core.ErrInvalidState)
				}
			}
		})
	}
}

func TestUpdateAlertStatus_Errors(t *testing.T) {
	ts := newTestSIEM(t)
	ctx := context.Background()
	alert := ts.singleEventAlert(t, "bob")

	_, err := ts.UpdateAlertStatus(ctx, alert.AlertID, AlertStatusUpdate{Status: "ARCHIVED"}, "analyst")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = ts.UpdateAlertStatus(ctx, alert.AlertID, AlertStatusUpdate{Status: core.AlertStatusResolved}, "")
	assert.ErrorIs(t, err, core.ErrValidation, "mutations need an actor")

	_, err = ts.UpdateAlertStatus(ctx, "missing", AlertStatusUpdate{Status: core.AlertStatusResolved}, "analyst")
	assert.ErrorIs(t, err, core.ErrNotFound)

	dismissed, err := ts.DismissAlert(ctx, alert.AlertID, "analyst", "scanner")
	require.NoError(t, err)
	assert.Equal(t, core.ResolutionFalsePositive, dismissed.Resolution.ResolutionType)
	_, err = ts.AssignAlert(ctx, alert.AlertID, "carol", "lead")
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestConcurrentResolve_OneWins(t *testing.T) {
	ts := newTestSIEM(t)
	alert := ts.singleEventAlert(t, "bob")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ts.ResolveAlert(context.Background(), alert.AlertID, core.ResolveInput{}, "analyst")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, core.ErrInvalidState)
		state, ok := core.CurrentState(err)
		require.True(t, ok)
		assert.Equal(t, string(core.AlertStatusResolved), state)
	}
	assert.Equal(t, 1, wins)
}

func TestCreateManualAlert_EvidenceMustExist(t *testing.T) {
	ts := newTestSIEM(t)
	ctx := context.Background()

	_, err := ts.CreateManualAlert(ctx, core.ManualAlertInput{
		Type: "INSIDER", Severity: core.SeverityHigh, Title: "t", EvidenceEventIDs: []string{"nope"},
	}, "analyst")
	assert.ErrorIs(t, err, core.ErrValidation)

	ev, err := ts.RecordEvent(ctx, core.EventInput{Type: core.EventTypeDataExport, Description: "bulk export"})
	require.NoError(t, err)
	alert, err := ts.CreateManualAlert(ctx, core.ManualAlertInput{
		Type: "INSIDER", Severity: core.SeverityHigh, Title: "t", EvidenceEventIDs: []string{ev.ID, ev.ID},
	}, "analyst")
	require.NoError(t, err)
	assert.Equal(t, []string{ev.ID}, alert.EvidenceEventIDs)
	assert.Empty(t, alert.CorrelationRuleID)
}

func TestIncidentScenario(t *testing.T) {
	ts := newTestSIEM(t)
	ctx := context.Background()
	a1 := ts.singleEventAlert(t, "alice")
	a2 := ts.singleEventAlert(t, "bob")

	inc, err := ts.CreateIncident(ctx, core.CreateIncidentInput{
		Title: "Credential stuffing", Type: "ACCOUNT_COMPROMISE", Severity: core.SeverityHigh,
		AlertIDs: []string{a1.AlertID, a2.AlertID},
	}, "lead")
	require.NoError(t, err)
	assert.Equal(t, core.IncidentStatusDetected, inc.Status)
	assert.Equal(t, core.PhaseIdentification, inc.Phase)

	for _, name := range []string{"auth.log", "pcap", "memory.dump"} {
		inc, err = ts.AddArtifact(ctx, inc.IncidentID, ArtifactInput{Name: name, Type: "FILE", Location: "s3://evidence/" + name}, "analyst")
		require.NoError(t, err)
	}
	require.Len(t, inc.Artifacts, 3)
	assert.Equal(t, "auth.log", inc.Artifacts[0].Name)
	assert.Equal(t, "memory.dump", inc.Artifacts[2].Name)

	inc, err = ts.UpdateIncidentStatus(ctx, inc.IncidentID, IncidentStatusUpdate{Status: core.IncidentStatusContained}, "analyst")
	require.NoError(t, err)
	assert.Equal(t, core.PhaseContainment, inc.Phase)

	_, err = ts.UpdateIncidentStatus(ctx, inc.IncidentID, IncidentStatusUpdate{Status: core.IncidentStatusAcknowledged}, "analyst")
	assert.ErrorIs(t, err, core.ErrInvalidState, "status never moves backward")

	_, err = ts.ResolveIncident(ctx, inc.IncidentID, core.IncidentResolveInput{RootCause: "reused password"}, "lead")
	assert.ErrorIs(t, err, core.ErrValidation, "actions are required")
	_, err = ts.ResolveIncident(ctx, inc.IncidentID, core.IncidentResolveInput{Actions: []string{"reset"}}, "lead")
	assert.ErrorIs(t, err, core.ErrValidation, "root cause is required")

	entries := len(inc.Timeline)
	inc, err = ts.ResolveIncident(ctx, inc.IncidentID, core.IncidentResolveInput{
		RootCause: "reused password", Actions: []string{"reset credentials", "enable MFA"},
	}, "lead")
	require.NoError(t, err)
	assert.Equal(t, core.IncidentStatusClosed, inc.Status)
	require.NotNil(t, inc.Resolution)
	assert.Equal(t, "reused password", inc.Resolution.RootCause)
	require.Len(t, inc.Timeline, entries+1)
	assert.Equal(t, core.TimelineResolved, inc.Timeline[entries].Action)

	_, err = ts.AddTimelineEntry(ctx, inc.IncidentID, TimelineInput{Action: "NOTE", Description: "late"}, "analyst")
	assert.ErrorIs(t, err, core.ErrInvalidState)
	_, err = ts.AddArtifact(ctx, inc.IncidentID, ArtifactInput{Name: "x", Type: "FILE", Location: "y"}, "analyst")
	assert.ErrorIs(t, err, core.ErrInvalidState)

	stored, err := ts.GetIncident(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, inc.Timeline, stored.Timeline)
	assert.Equal(t, []notify.Kind{notify.IncidentCreated}, ts.notifier.kinds()[2:3])
}

func TestCreateIncident_UnknownAlert(t *testing.T) {
	ts := newTestSIEM(t)
	_, err := ts.CreateIncident(context.Background(), core.CreateIncidentInput{
		Title: "x", Type: "PHISHING", Severity: core.SeverityLow, AlertIDs: []string{"ghost"},
	}, "lead")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Contains(t, err.Error(), "ghost")
}

func TestIncident_LinkPhaseAssign(t *testing.T) {
	ts := newTestSIEM(t)
	ctx := context.Background()
	a1 := ts.singleEventAlert(t, "alice")

	inc, err := ts.CreateIncident(ctx, core.CreateIncidentInput{Title: "x", Type: "PHISHING", Severity: core.SeverityLow}, "lead")
	require.NoError(t, err)

	inc, err = ts.LinkAlert(ctx, inc.IncidentID, a1.AlertID, "lead")
	require.NoError(t, err)
	version := inc.Version
	inc, err = ts.LinkAlert(ctx, inc.IncidentID, a1.AlertID, "lead")
	require.NoError(t, err)
	assert.Equal(t, []string{a1.AlertID}, inc.RelatedAlertIDs)
	assert.Equal(t, version, inc.Version, "relinking writes nothing")

	_, err = ts.LinkAlert(ctx, inc.IncidentID, "ghost", "lead")
	assert.ErrorIs(t, err, core.ErrNotFound)

	inc, err = ts.SetIncidentPhase(ctx, inc.IncidentID, core.PhaseEradication, "lead")
	require.NoError(t, err)
	assert.Equal(t, core.PhaseEradication, inc.Phase)
	assert.Equal(t, core.IncidentStatusDetected, inc.Status, "phase is advisory")

	inc, err = ts.AssignIncident(ctx, inc.IncidentID, "dana", "lead")
	require.NoError(t, err)
	assert.Equal(t, "dana", inc.AssignedTo)
}

func TestRuleAdministration(t *testing.T) {
	ts := newTestSIEM(t)
	ctx := context.Background()
	rule := ts.bruteForceRule(t)

	_, err := ts.CreateRule(ctx, core.CorrelationRule{Name: "bad", Threshold: 0}, "admin")
	assert.ErrorIs(t, err, core.ErrValidation)

	disabled, err := ts.SetRuleEnabled(ctx, rule.ID, false, "admin")
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)
	assert.Equal(t, rule.CreatedAt, disabled.CreatedAt)

	for i := 0; i < 3; i++ {
		_, err := ts.RecordEvent(ctx, authFailure("alice", testNow.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	page, err := ts.ListAlerts(ctx, core.AlertFilter{}, core.Pagination{})
	require.NoError(t, err)
	assert.Empty(t, page.Items, "disabled rule does not fire")

	require.NoError(t, ts.DeleteRule(ctx, rule.ID, "admin"))
	_, err = ts.GetRule(ctx, rule.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	audit, err := ts.ListAudit(ctx, rule.ID, 0)
	require.NoError(t, err)
	require.Len(t, audit, 3)
	assert.Equal(t, "deleted", audit[2].Action)
}

func TestImportRules(t *testing.T) {
	ts := newTestSIEM(t)
	ctx := context.Background()
	existing := ts.bruteForceRule(t)

	updated := *existing
	updated.Threshold = 5
	res, err := ts.ImportRules(ctx, []core.CorrelationRule{
		updated,
		{
			Name: "Malware", Enabled: true, Threshold: 1,
			Predicate:        core.RulePredicate{EventTypes: []core.EventType{core.EventTypeMalwareDetected}},
			ProducedSeverity: core.SeverityCritical, ProducedAlertType: "MALWARE",
		},
		{Name: "broken", Threshold: 1, ProducedSeverity: "LOUD", ProducedAlertType: "X"},
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{existing.ID}, res.Updated)
	assert.Len(t, res.Created, 1)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 2, res.Failed[0].Index)

	got, err := ts.GetRule(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Threshold)
}

func TestAnalytics(t *testing.T) {
	ts := newTestSIEM(t)
	ctx := context.Background()
	for _, user := range []string{"alice", "alice", "bob"} {
		_, err := ts.RecordEvent(ctx, authFailure(user, testNow.Add(-time.Hour)))
		require.NoError(t, err)
	}
	_, err := ts.RecordEvent(ctx, core.EventInput{Type: core.EventTypeConfigChange, Severity: core.SeverityLow, Description: "old", Timestamp: testNow.Add(-48 * time.Hour)})
	require.NoError(t, err)
	alert := ts.singleEventAlert(t, "alice")
	_, err = ts.ResolveAlert(ctx, alert.AlertID, core.ResolveInput{}, "analyst")
	require.NoError(t, err)

	a, err := ts.Analytics(ctx, core.TimeRange{})
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(-24*time.Hour), a.Range.Start, "default range is the last 24h")
	assert.Equal(t, int64(3), a.Events.Total)
	assert.Equal(t, int64(3), a.Events.ByType[string(core.EventTypeAuthFailure)])
	assert.Equal(t, int64(1), a.Alerts.Total)
	require.NotEmpty(t, a.TopUsers)
	assert.Equal(t, "alice", a.TopUsers[0].Key)
	assert.Equal(t, int64(2), a.TopUsers[0].Count)

	_, err = ts.EventMetrics(ctx, core.TimeRange{Start: testNow, End: testNow.Add(-time.Hour)})
	assert.ErrorIs(t, err, core.ErrValidation)
}
