package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimelineEntry is one append-only record in an incident's history
type TimelineEntry struct {
	Timestamp   time.Time              `json:"timestamp"`
	Action      string                 `json:"action"`
	Description string                 `json:"description"`
	Actor       string                 `json:"actor"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Artifact is a piece of evidence attached to an incident
type Artifact struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        string            `json:"type" example:"LOG"`
	Description string            `json:"description,omitempty"`
	Location    string            `json:"location"`
	AddedBy     string            `json:"addedBy"`
	AddedAt     time.Time         `json:"addedAt"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IncidentResolution is the closure record of an incident
type IncidentResolution struct {
	RootCause          string    `json:"rootCause"`
	Actions            []string  `json:"actions"`
	PreventiveMeasures []string  `json:"preventiveMeasures,omitempty"`
	ResolvedBy         string    `json:"resolvedBy"`
	ResolvedAt         time.Time `json:"resolvedAt"`
}

// SecurityIncident is a top-level investigation that references alerts by
// id. Timeline and artifacts only grow; nothing changes once CLOSED.
type SecurityIncident struct {
	IncidentID      string              `json:"incidentId" example:"INC-20250114-3f9a1c2e"`
	Title           string              `json:"title"`
	Description     string              `json:"description,omitempty"`
	Type            string              `json:"type" example:"ACCOUNT_COMPROMISE"`
	Severity        Severity            `json:"severity"`
	Status          IncidentStatus      `json:"status"`
	Phase           IncidentPhase       `json:"phase"`
	RelatedAlertIDs []string            `json:"relatedAlertIds"`
	Timeline        []TimelineEntry     `json:"timeline"`
	Artifacts       []Artifact          `json:"artifacts"`
	Resolution      *IncidentResolution `json:"resolution,omitempty"`
	AssignedTo      string              `json:"assignedTo,omitempty"`
	CreatedBy       string              `json:"createdBy"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	ClosedAt        *time.Time          `json:"closedAt,omitempty"`
	Version         int64               `json:"version"`
}

// CreateIncidentInput opens a new incident
type CreateIncidentInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	AlertIDs    []string `json:"alertIds,omitempty"`
	AssignedTo  string   `json:"assignedTo,omitempty"`
}

// generateIncidentID creates IDs of the form INC-YYYYMMDD-xxxxxxxx
func generateIncidentID(now time.Time) string {
	return fmt.Sprintf("INC-%s-%s", now.Format("20060102"), uuid.New().String()[:8])
}

// NewIncident validates the input and builds a DETECTED incident with its
// creation recorded on the timeline
func NewIncident(in CreateIncidentInput, actor string, now time.Time) (*SecurityIncident, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, NewValidationError("title", "is required")
	}
	if len(in.Title) > 200 {
		return nil, NewValidationError("title", "exceeds 200 characters")
	}
	if !alertTypePattern.MatchString(in.Type) {
		return nil, NewValidationError("type", "must be UPPER_SNAKE_CASE")
	}
	if !in.Severity.IsValid() {
		return nil, NewValidationError("severity", "unknown severity %q", in.Severity)
	}
	if actor == "" {
		return nil, NewValidationError("actor", "is required")
	}

	now = now.UTC()
	inc := &SecurityIncident{
		IncidentID:      generateIncidentID(now),
		Title:           in.Title,
		Description:     in.Description,
		Type:            in.Type,
		Severity:        in.Severity,
		Status:          IncidentStatusDetected,
		Phase:           PhaseIdentification,
		RelatedAlertIDs: []string{},
		Timeline:        []TimelineEntry{},
		Artifacts:       []Artifact{},
		AssignedTo:      in.AssignedTo,
		CreatedBy:       actor,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, id := range in.AlertIDs {
		inc.addAlert(id)
	}
	inc.appendEntry(TimelineEntry{
		Timestamp:   now,
		Action:      TimelineIncidentCreated,
		Description: "Incident created",
		Actor:       actor,
		Data:        map[string]interface{}{"alertIds": append([]string{}, inc.RelatedAlertIDs...)},
	})
	return inc, nil
}

// IsClosed reports whether the incident is immutable
func (i *SecurityIncident) IsClosed() bool {
	return i.Status == IncidentStatusClosed
}

// AddTimelineEntry appends an operator entry. Timestamp defaults to now.
func (i *SecurityIncident) AddTimelineEntry(entry TimelineEntry, now time.Time) error {
	if err := i.ensureOpen("timeline entries cannot be added to a closed incident"); err != nil {
		return err
	}
	if strings.TrimSpace(entry.Action) == "" {
		return NewValidationError("action", "is required")
	}
	if strings.TrimSpace(entry.Description) == "" {
		return NewValidationError("description", "is required")
	}
	if entry.Actor == "" {
		return NewValidationError("actor", "is required")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	entry.Timestamp = entry.Timestamp.UTC()
	i.appendEntry(entry)
	i.UpdatedAt = now.UTC()
	return nil
}

// AddArtifact appends an artifact and records it on the timeline
func (i *SecurityIncident) AddArtifact(a Artifact, now time.Time) error {
	if err := i.ensureOpen("artifacts cannot be added to a closed incident"); err != nil {
		return err
	}
	if strings.TrimSpace(a.Name) == "" {
		return NewValidationError("name", "is required")
	}
	if strings.TrimSpace(a.Type) == "" {
		return NewValidationError("type", "is required")
	}
	if strings.TrimSpace(a.Location) == "" {
		return NewValidationError("location", "is required")
	}
	if a.AddedBy == "" {
		return NewValidationError("addedBy", "is required")
	}
	now = now.UTC()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.AddedAt = now
	i.Artifacts = append(i.Artifacts, a)
	i.appendEntry(TimelineEntry{
		Timestamp:   now,
		Action:      TimelineArtifactAdded,
		Description: "Artifact added: " + a.Name,
		Actor:       a.AddedBy,
		Data:        map[string]interface{}{"artifactId": a.ID, "type": a.Type},
	})
	i.UpdatedAt = now
	return nil
}

// LinkAlert adds an alert reference. Linking a known alert is a no-op and
// reports false.
func (i *SecurityIncident) LinkAlert(alertID, actor string, now time.Time) (bool, error) {
	if err := i.ensureOpen("alerts cannot be linked to a closed incident"); err != nil {
		return false, err
	}
	if alertID == "" {
		return false, NewValidationError("alertId", "is required")
	}
	if !i.addAlert(alertID) {
		return false, nil
	}
	now = now.UTC()
	i.appendEntry(TimelineEntry{
		Timestamp:   now,
		Action:      TimelineAlertLinked,
		Description: "Alert linked: " + alertID,
		Actor:       actor,
		Data:        map[string]interface{}{"alertId": alertID},
	})
	i.UpdatedAt = now
	return true, nil
}

// SetPhase changes the advisory phase
func (i *SecurityIncident) SetPhase(phase IncidentPhase, actor string, now time.Time) error {
	if err := i.ensureOpen("the phase of a closed incident cannot change"); err != nil {
		return err
	}
	if !phase.IsValid() {
		return NewValidationError("phase", "unknown phase %q", phase)
	}
	if phase == i.Phase {
		return nil
	}
	now = now.UTC()
	from := i.Phase
	i.Phase = phase
	i.appendEntry(TimelineEntry{
		Timestamp:   now,
		Action:      TimelinePhaseChanged,
		Description: fmt.Sprintf("Phase changed from %s to %s", from, phase),
		Actor:       actor,
		Data:        map[string]interface{}{"from": string(from), "to": string(phase)},
	})
	i.UpdatedAt = now
	return nil
}

// Assign changes the incident owner
func (i *SecurityIncident) Assign(assignee, actor string, now time.Time) error {
	if err := i.ensureOpen("closed incidents cannot be reassigned"); err != nil {
		return err
	}
	now = now.UTC()
	i.AssignedTo = assignee
	i.appendEntry(TimelineEntry{
		Timestamp:   now,
		Action:      TimelineAssigned,
		Description: "Assigned to " + assignee,
		Actor:       actor,
		Data:        map[string]interface{}{"assignedTo": assignee},
	})
	i.UpdatedAt = now
	return nil
}

// IncidentResolveInput carries the closure details
type IncidentResolveInput struct {
	RootCause          string   `json:"rootCause"`
	Actions            []string `json:"actions"`
	PreventiveMeasures []string `json:"preventiveMeasures,omitempty"`
}

// Resolve records the resolution and closes the incident from any open
// status. A closing entry is appended to the timeline.
func (i *SecurityIncident) Resolve(in IncidentResolveInput, actor string, now time.Time) error {
	if strings.TrimSpace(in.RootCause) == "" {
		return NewValidationError("rootCause", "is required")
	}
	actions := nonBlank(in.Actions)
	if len(actions) == 0 {
		return NewValidationError("actions", "at least one action is required")
	}
	if actor == "" {
		return NewValidationError("actor", "is required")
	}
	if err := i.ensureOpen("incident is already closed"); err != nil {
		return err
	}

	now = now.UTC()
	from := i.Status
	i.Resolution = &IncidentResolution{
		RootCause:          in.RootCause,
		Actions:            actions,
		PreventiveMeasures: nonBlank(in.PreventiveMeasures),
		ResolvedBy:         actor,
		ResolvedAt:         now,
	}
	i.Status = IncidentStatusClosed
	i.Phase = PhaseLessonsLearned
	i.ClosedAt = &now
	i.appendEntry(TimelineEntry{
		Timestamp:   now,
		Action:      TimelineResolved,
		Description: "Incident resolved: " + in.RootCause,
		Actor:       actor,
		Data: map[string]interface{}{
			"from":    string(from),
			"actions": len(actions),
		},
	})
	i.UpdatedAt = now
	return nil
}

// TimeToClose returns closedAt - createdAt for closed incidents
func (i *SecurityIncident) TimeToClose() (time.Duration, bool) {
	if i.ClosedAt == nil {
		return 0, false
	}
	return i.ClosedAt.Sub(i.CreatedAt), true
}

func (i *SecurityIncident) ensureOpen(reason string) error {
	if i.IsClosed() {
		return &InvalidStateError{Kind: "incident", ID: i.IncidentID, Current: string(i.Status), Reason: reason}
	}
	return nil
}

func (i *SecurityIncident) addAlert(alertID string) bool {
	if alertID == "" || containsString(i.RelatedAlertIDs, alertID) {
		return false
	}
	i.RelatedAlertIDs = append(i.RelatedAlertIDs, alertID)
	return true
}

func (i *SecurityIncident) appendEntry(e TimelineEntry) {
	e.Data = jsonData(e.Data)
	i.Timeline = append(i.Timeline, e)
}

// jsonData returns data as it reads back from storage: numbers become
// float64 and slices []interface{}. Unencodable data is kept as is.
func jsonData(data map[string]interface{}) map[string]interface{} {
	if len(data) == 0 {
		return data
	}
	b, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return data
	}
	return out
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
