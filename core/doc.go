// Package core defines the Watchtower domain model: security events,
// correlation rules, alerts, incidents and audit records, together with
// their validation and lifecycle rules.
//
// # Lifecycles
//
// Alerts move OPEN -> INVESTIGATING -> RESOLVED | DISMISSED and never
// return to OPEN. Incidents advance through DETECTED, ACKNOWLEDGED,
// CONTAINED, ERADICATED and RECOVERED, may skip ahead but never back, and
// reach CLOSED only through Resolve. The response phase is tracked
// separately. See alert_lifecycle.go and incident_lifecycle.go.
//
// # Errors
//
// Operations return typed errors that wrap the sentinels in errors.go
// (ErrValidation, ErrNotFound, ErrInvalidState, ErrStorage) so transports
// can map them with errors.Is.
//
// Nothing in this package performs I/O. Persistence lives in storage,
// orchestration in service.
package core
