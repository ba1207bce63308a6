package api

import (
	"errors"
	"reflect"
	"strings"

	"watchtower/core"

	"github.com/go-playground/validator/v10"
)

// newValidator registers the domain enum tags and reports json field names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	enums := map[string]func(string) bool{
		"severity":       func(s string) bool { return core.Severity(s).IsValid() },
		"eventtype":      func(s string) bool { return core.EventType(s).IsValid() },
		"alertstatus":    func(s string) bool { return core.AlertStatus(s).IsValid() },
		"incidentstatus": func(s string) bool { return core.IncidentStatus(s).IsValid() },
		"phase":          func(s string) bool { return core.IncidentPhase(s).IsValid() },
		"resolution":     func(s string) bool { return core.ResolutionType(s).IsValid() },
	}
	for tag, valid := range enums {
		valid := valid
		_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return valid(fl.Field().String())
		})
	}
	return v
}

// validateStruct returns the first failing field as a ValidationError
func (a *API) validateStruct(s interface{}) error {
	err := a.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return core.NewValidationError("body", "invalid request")
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), rootNamespace(fe))
	return core.NewValidationError(field, "%s", describeTag(fe))
}

func rootNamespace(fe validator.FieldError) string {
	root, _, found := strings.Cut(fe.Namespace(), ".")
	if !found {
		return ""
	}
	return root + "."
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "exceeds maximum length " + fe.Param()
	case "min":
		return "is shorter than " + fe.Param()
	case "ip":
		return "must be an IP address"
	case "severity", "eventtype", "alertstatus", "incidentstatus", "phase", "resolution":
		return "unknown " + fe.Tag() + " value"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// Request bodies. Business rules live in core and the service; these tags
// only reject malformed input early.

type loginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type recordEventRequest struct {
	core.EventInput
	Type     core.EventType `json:"type" validate:"required,eventtype"`
	Severity core.Severity  `json:"severity" validate:"omitempty,severity"`
	SourceIP string         `json:"sourceIp,omitempty" validate:"omitempty,ip"`
}

func (r recordEventRequest) input() core.EventInput {
	in := r.EventInput
	in.Type, in.Severity, in.SourceIP = r.Type, r.Severity, r.SourceIP
	return in
}

type manualAlertRequest struct {
	Type             string        `json:"type" validate:"required,max=64"`
	Severity         core.Severity `json:"severity" validate:"required,severity"`
	Title            string        `json:"title" validate:"required,max=256"`
	EvidenceEventIDs []string      `json:"evidenceEventIds,omitempty" validate:"max=100,dive,required"`
	AssignedTo       string        `json:"assignedTo,omitempty" validate:"max=128"`
}

type alertStatusRequest struct {
	Status         core.AlertStatus    `json:"status" validate:"required,alertstatus"`
	Notes          string              `json:"notes,omitempty" validate:"max=4096"`
	ResolutionType core.ResolutionType `json:"resolutionType,omitempty" validate:"omitempty,resolution"`
}

type assignRequest struct {
	AssignedTo string `json:"assignedTo" validate:"required,max=128"`
}

type createIncidentRequest struct {
	Title       string        `json:"title" validate:"required,max=256"`
	Description string        `json:"description,omitempty" validate:"max=4096"`
	Type        string        `json:"type" validate:"required,max=64"`
	Severity    core.Severity `json:"severity" validate:"required,severity"`
	AlertIDs    []string      `json:"alertIds,omitempty" validate:"dive,required"`
	AssignedTo  string        `json:"assignedTo,omitempty" validate:"max=128"`
}

type incidentStatusRequest struct {
	Status      core.IncidentStatus `json:"status" validate:"required,incidentstatus"`
	Description string              `json:"description,omitempty" validate:"max=4096"`
}

type timelineRequest struct {
	Action      string                 `json:"action" validate:"required,max=64"`
	Description string                 `json:"description" validate:"required,max=4096"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

type artifactRequest struct {
	Name        string            `json:"name" validate:"required,max=256"`
	Type        string            `json:"type" validate:"required,max=64"`
	Description string            `json:"description,omitempty" validate:"max=4096"`
	Location    string            `json:"location" validate:"required,max=2048"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type linkAlertRequest struct {
	AlertID string `json:"alertId" validate:"required"`
}

type phaseRequest struct {
	Phase core.IncidentPhase `json:"phase" validate:"required,phase"`
}

type resolveIncidentRequest struct {
	RootCause          string   `json:"rootCause" validate:"required,max=4096"`
	Actions            []string `json:"actions" validate:"required,min=1,dive,required"`
	PreventiveMeasures []string `json:"preventiveMeasures,omitempty"`
}
