package api

import (
	"net/http"
	"strings"

	"watchtower/core"
	"watchtower/service"

	"github.com/gorilla/mux"
)

func identity(s string) string { return s }

// listIncidents godoc
//
//	@Summary	List incidents
//	@Tags		incidents
//	@Produce	json
//	@Param		status		query		string	false	"Statuses, comma separated"
//	@Param		severity	query		string	false	"Severities, comma separated"
//	@Param		type		query		string	false	"Incident types, comma separated"
//	@Param		phase		query		string	false	"Phases, comma separated"
//	@Param		assignedTo	query		string	false	"Assignee"
//	@Param		startTime	query		string	false	"RFC 3339 lower bound on createdAt"
//	@Param		endTime		query		string	false	"RFC 3339 upper bound on createdAt"
//	@Param		limit		query		int		false	"Page size"
//	@Param		offset		query		int		false	"Page offset"
//	@Success	200			{object}	core.Page[core.SecurityIncident]
//	@Failure	400			{object}	apiError
//	@Security	BearerAuth
//	@Router		/incidents [get]
func (a *API) listIncidents(w http.ResponseWriter, r *http.Request) {
	tr, err := parseTimeRange(r)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	page, err := parsePagination(r)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	filter := core.IncidentFilter{
		Statuses:   convertList[core.IncidentStatus](queryList(r, "status"), strings.ToUpper),
		Severities: convertList[core.Severity](queryList(r, "severity"), strings.ToUpper),
		Types:      convertList[string](queryList(r, "type"), identity),
		Phases:     convertList[core.IncidentPhase](queryList(r, "phase"), strings.ToUpper),
		AssignedTo: r.URL.Query().Get("assignedTo"),
		Range:      tr,
	}
	result, err := a.siem.ListIncidents(r.Context(), filter, page)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, result, http.StatusOK)
}

// getIncident godoc
//
//	@Summary	Get one incident
//	@Tags		incidents
//	@Produce	json
//	@Param		incidentId	path		string	true	"Incident id"
//	@Success	200			{object}	core.SecurityIncident
//	@Failure	404			{object}	apiError
//	@Security	BearerAuth
//	@Router		/incidents/{incidentId} [get]
func (a *API) getIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := a.siem.GetIncident(r.Context(), mux.Vars(r)["incidentId"])
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, inc, http.StatusOK)
}

// createIncident godoc
//
//	@Summary	Open an incident
//	@Tags		incidents
//	@Accept		json
//	@Produce	json
//	@Param		incident	body		createIncidentRequest	true	"Incident"
//	@Success	201			{object}	core.SecurityIncident
//	@Failure	400			{object}	apiError
//	@Security	BearerAuth
//	@Router		/incidents [post]
func (a *API) createIncident(w http.ResponseWriter, r *http.Request) {
	var req createIncidentRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	inc, err := a.siem.CreateIncident(r.Context(), core.CreateIncidentInput{
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		Severity:    req.Severity,
		AlertIDs:    req.AlertIDs,
		AssignedTo:  req.AssignedTo,
	}, actorFrom(r.Context()))
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, inc, http.StatusCreated)
}

// incidentMutation runs one mutation against the incident named in the path
func (a *API) incidentMutation(w http.ResponseWriter, r *http.Request, status int, fn func(id, actor string) (*core.SecurityIncident, error)) {
	inc, err := fn(mux.Vars(r)["incidentId"], actorFrom(r.Context()))
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, inc, status)
}

// updateIncidentStatus godoc
//
//	@Summary		Move an incident forward
//	@Description	Statuses only move forward. CLOSED is reached through resolve.
//	@Tags			incidents
//	@Accept			json
//	@Produce		json
//	@Param			incidentId	path		string					true	"Incident id"
//	@Param			update		body		incidentStatusRequest	true	"New status"
//	@Success		200			{object}	core.SecurityIncident
//	@Failure		409			{object}	apiError
//	@Security		BearerAuth
//	@Router			/incidents/{incidentId}/status [patch]
func (a *API) updateIncidentStatus(w http.ResponseWriter, r *http.Request) {
	var req incidentStatusRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	a.incidentMutation(w, r, http.StatusOK, func(id, actor string) (*core.SecurityIncident, error) {
		return a.siem.UpdateIncidentStatus(r.Context(), id, service.IncidentStatusUpdate{
			Status:      req.Status,
			Description: req.Description,
		}, actor)
	})
}

// addTimelineEntry godoc
//
//	@Summary	Append a timeline entry
//	@Tags		incidents
//	@Accept		json
//	@Produce	json
//	@Param		incidentId	path		string			true	"Incident id"
//	@Param		entry		body		timelineRequest	true	"Entry"
//	@Success	201			{object}	core.SecurityIncident
//	@Failure	409			{object}	apiError
//	@Security	BearerAuth
//	@Router		/incidents/{incidentId}/timeline [post]
func (a *API) addTimelineEntry(w http.ResponseWriter, r *http.Request) {
	var req timelineRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	a.incidentMutation(w, r, http.StatusCreated, func(id, actor string) (*core.SecurityIncident, error) {
		return a.siem.AddTimelineEntry(r.Context(), id, service.TimelineInput{
			Action:      req.Action,
			Description: req.Description,
			Data:        req.Data,
		}, actor)
	})
}

// addArtifact godoc
//
//	@Summary	Attach an artifact
//	@Tags		incidents
//	@Accept		json
//	@Produce	json
//	@Param		incidentId	path		string			true	"Incident id"
//	@Param		artifact	body		artifactRequest	true	"Artifact"
//	@Success	201			{object}	core.SecurityIncident
//	@Failure	409			{object}	apiError
//	@Security	BearerAuth
//	@Router		/incidents/{incidentId}/artifacts [post]
func (a *API) addArtifact(w http.ResponseWriter, r *http.Request) {
	var req artifactRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	a.incidentMutation(w, r, http.StatusCreated, func(id, actor string) (*core.SecurityIncident, error) {
		return a.siem.AddArtifact(r.Context(), id, service.ArtifactInput{
			Name:        req.Name,
			Type:        req.Type,
			Description: req.Description,
			Location:    req.Location,
			Metadata:    req.Metadata,
		}, actor)
	})
}

// linkAlert godoc
//
//	@Summary	Link an alert to an incident
//	@Tags		incidents
//	@Accept		json
//	@Produce	json
//	@Param		incidentId	path		string				true	"Incident id"
//	@Param		link		body		linkAlertRequest	true	"Alert id"
//	@Success	200			{object}	core.SecurityIncident
//	@Failure	404			{object}	apiError
//	@Security	BearerAuth
//	@Router		/incidents/{incidentId}/alerts [post]
func (a *API) linkAlert(w http.ResponseWriter, r *http.Request) {
	var req linkAlertRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	a.incidentMutation(w, r, http.StatusOK, func(id, actor string) (*core.SecurityIncident, error) {
		return a.siem.LinkAlert(r.Context(), id, req.AlertID, actor)
	})
}

// setIncidentPhase godoc
//
//	@Summary	Set the advisory response phase
//	@Tags		incidents
//	@Accept		json
//	@Produce	json
//	@Param		incidentId	path		string			true	"Incident id"
//	@Param		phase		body		phaseRequest	true	"Phase"
//	@Success	200			{object}	core.SecurityIncident
//	@Security	BearerAuth
//	@Router		/incidents/{incidentId}/phase [patch]
func (a *API) setIncidentPhase(w http.ResponseWriter, r *http.Request) {
	var req phaseRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	a.incidentMutation(w, r, http.StatusOK, func(id, actor string) (*core.SecurityIncident, error) {
		return a.siem.SetIncidentPhase(r.Context(), id, req.Phase, actor)
	})
}

// assignIncident godoc
//
//	@Summary	Assign an incident
//	@Tags		incidents
//	@Accept		json
//	@Produce	json
//	@Param		incidentId	path		string			true	"Incident id"
//	@Param		assign		body		assignRequest	true	"Assignee"
//	@Success	200			{object}	core.SecurityIncident
//	@Security	BearerAuth
//	@Router		/incidents/{incidentId}/assign [patch]
func (a *API) assignIncident(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	a.incidentMutation(w, r, http.StatusOK, func(id, actor string) (*core.SecurityIncident, error) {
		return a.siem.AssignIncident(r.Context(), id, req.AssignedTo, actor)
	})
}

// resolveIncident godoc
//
//	@Summary	Resolve and close an incident
//	@Tags		incidents
//	@Accept		json
//	@Produce	json
//	@Param		incidentId	path		string					true	"Incident id"
//	@Param		resolution	body		resolveIncidentRequest	true	"Resolution"
//	@Success	200			{object}	core.SecurityIncident
//	@Failure	400			{object}	apiError
//	@Failure	409			{object}	apiError
//	@Security	BearerAuth
//	@Router		/incidents/{incidentId}/resolve [post]
func (a *API) resolveIncident(w http.ResponseWriter, r *http.Request) {
	var req resolveIncidentRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	a.incidentMutation(w, r, http.StatusOK, func(id, actor string) (*core.SecurityIncident, error) {
		return a.siem.ResolveIncident(r.Context(), id, core.IncidentResolveInput{
			RootCause:          req.RootCause,
			Actions:            req.Actions,
			PreventiveMeasures: req.PreventiveMeasures,
		}, actor)
	})
}

// incidentMetrics godoc
//
//	@Summary	Incident counts and mean time to close
//	@Tags		incidents
//	@Produce	json
//	@Param		startTime	query		string	false	"RFC 3339 start (default end-24h)"
//	@Param		endTime		query		string	false	"RFC 3339 end (default now)"
//	@Success	200			{object}	core.IncidentMetrics
//	@Security	BearerAuth
//	@Router		/incidents/metrics [get]
func (a *API) incidentMetrics(w http.ResponseWriter, r *http.Request) {
	tr, err := parseTimeRange(r)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	m, err := a.siem.IncidentMetrics(r.Context(), tr)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, m, http.StatusOK)
}
