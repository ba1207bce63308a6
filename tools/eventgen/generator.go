package main

import (
	"fmt"
	"math/rand"
	"time"

	"watchtower/core"

	"github.com/brianvoe/gofakeit/v6"
)

// EventGenerator produces plausible security events for exercising the
// correlation rules
type EventGenerator struct {
	rand  *rand.Rand
	faker *gofakeit.Faker
	users []string
}

// NewEventGenerator creates a generator; a zero seed picks one from the clock
func NewEventGenerator(seed int64) *EventGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	g := &EventGenerator{
		rand:  rand.New(rand.NewSource(seed)),
		faker: gofakeit.New(seed),
	}
	// a small population makes per-user grouping visible
	for i := 0; i < 20; i++ {
		g.users = append(g.users, g.faker.Username())
	}
	return g
}

func (g *EventGenerator) user() string {
	return g.users[g.rand.Intn(len(g.users))]
}

func (g *EventGenerator) chance(p float32) bool {
	return g.rand.Float32() < p
}

// AuthEvent is a login attempt
func (g *EventGenerator) AuthEvent(user, ip string, failed bool) core.EventInput {
	in := core.EventInput{
		Type:        core.EventTypeAuthSuccess,
		Severity:    core.SeverityInfo,
		SourceIP:    ip,
		UserID:      user,
		Description: fmt.Sprintf("Login for %s from %s", user, ip),
		Metadata: core.Metadata{
			"method":    g.faker.RandomString([]string{"password", "sso", "mfa"}),
			"userAgent": g.faker.UserAgent(),
		},
	}
	if failed {
		in.Type = core.EventTypeAuthFailure
		in.Severity = core.SeverityMedium
		in.Description = fmt.Sprintf("Failed login for %s from %s", user, ip)
		in.Metadata["reason"] = g.faker.RandomString([]string{"bad_password", "unknown_user", "locked"})
	}
	return in
}

// PermissionDenied is a rejected access to a resource
func (g *EventGenerator) PermissionDenied(user string) core.EventInput {
	resource := "/api/" + g.faker.RandomString([]string{"admin/users", "billing", "keys", "reports"})
	return core.EventInput{
		Type:        core.EventTypePermissionDenied,
		Severity:    core.SeverityMedium,
		SourceIP:    g.faker.IPv4Address(),
		UserID:      user,
		Description: fmt.Sprintf("%s denied access to %s", user, resource),
		Metadata:    core.Metadata{"resource": resource, "action": g.faker.HTTPMethod()},
	}
}

// DataExport is a bulk read; large exports are rated high
func (g *EventGenerator) DataExport(user string, large bool) core.EventInput {
	rows := g.rand.Intn(500) + 1
	sev := core.SeverityLow
	if large {
		rows = 50000 + g.rand.Intn(500000)
		sev = core.SeverityHigh
	}
	return core.EventInput{
		Type:        core.EventTypeDataExport,
		Severity:    sev,
		SourceIP:    g.faker.IPv4Address(),
		UserID:      user,
		Description: fmt.Sprintf("%s exported %d rows", user, rows),
		Metadata:    core.Metadata{"rows": fmt.Sprint(rows), "table": g.faker.Noun()},
	}
}

// PrivilegeChange grants a role
func (g *EventGenerator) PrivilegeChange(user string) core.EventInput {
	role := g.faker.RandomString([]string{"admin", "auditor", "operator"})
	return core.EventInput{
		Type:        core.EventTypePrivilegeChange,
		Severity:    core.SeverityHigh,
		SourceIP:    g.faker.IPv4Address(),
		UserID:      user,
		Description: fmt.Sprintf("%s granted role %s", user, role),
		Metadata:    core.Metadata{"role": role, "grantedBy": g.user()},
	}
}

// Random picks background traffic, mostly benign
func (g *EventGenerator) Random() core.EventInput {
	user := g.user()
	switch n := g.rand.Intn(10); {
	case n < 6:
		return g.AuthEvent(user, g.faker.IPv4Address(), g.chance(0.1))
	case n < 8:
		return g.PermissionDenied(user)
	case n < 9:
		return g.DataExport(user, g.chance(0.05))
	default:
		return g.PrivilegeChange(user)
	}
}

// Scenario returns the event sequence for a named attack
func (g *EventGenerator) Scenario(name string, size int) ([]core.EventInput, error) {
	if size <= 0 {
		size = 10
	}
	target := g.user()
	ip := g.faker.IPv4Address()

	var events []core.EventInput
	switch name {
	case "brute_force":
		for i := 0; i < size; i++ {
			events = append(events, g.AuthEvent(target, ip, true))
		}
	case "credential_stuffing":
		for i := 0; i < size; i++ {
			events = append(events, g.AuthEvent(g.faker.Username(), ip, true))
		}
	case "account_takeover":
		for i := 0; i < size; i++ {
			events = append(events, g.AuthEvent(target, ip, true))
		}
		events = append(events, g.AuthEvent(target, ip, false), g.PrivilegeChange(target), g.DataExport(target, true))
	case "data_exfil":
		for i := 0; i < size; i++ {
			events = append(events, g.DataExport(target, true))
		}
	default:
		return nil, fmt.Errorf("unknown scenario %q (available: %v)", name, scenarios)
	}
	return events, nil
}

var scenarios = []string{"brute_force", "credential_stuffing", "account_takeover", "data_exfil"}
