package core

import "time"

// Audit entity kinds
const (
	AuditKindAlert    = "alert"
	AuditKindIncident = "incident"
	AuditKindRule     = "rule"
)

// AuditRecord is one state change made by an actor
type AuditRecord struct {
	EntityKind string                 `json:"entityKind" bson:"entity_kind"`
	EntityID   string                 `json:"entityId" bson:"entity_id"`
	Action     string                 `json:"action" bson:"action"`
	From       string                 `json:"from,omitempty" bson:"from,omitempty"`
	To         string                 `json:"to,omitempty" bson:"to,omitempty"`
	Actor      string                 `json:"actor" bson:"actor"`
	At         time.Time              `json:"at" bson:"at"`
	Details    map[string]interface{} `json:"details,omitempty" bson:"details,omitempty"`
}
