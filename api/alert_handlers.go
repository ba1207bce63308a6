package api

import (
	"net/http"
	"strings"

	"watchtower/core"
	"watchtower/service"

	"github.com/gorilla/mux"
)

// listAlerts godoc
//
//	@Summary		List alerts
//	@Description	Most severe first, then most recently seen
//	@Tags			alerts
//	@Produce		json
//	@Param			status			query		string	false	"Statuses, comma separated"
//	@Param			severity		query		string	false	"Severities, comma separated"
//	@Param			assignedTo		query		string	false	"Assignee"
//	@Param			correlationRule	query		string	false	"Correlation rule id"
//	@Param			startTime		query		string	false	"RFC 3339 lower bound on firstSeen"
//	@Param			endTime			query		string	false	"RFC 3339 upper bound on firstSeen"
//	@Param			limit			query		int		false	"Page size"
//	@Param			offset			query		int		false	"Page offset"
//	@Success		200				{object}	core.Page[core.SecurityAlert]
//	@Failure		400				{object}	apiError
//	@Security		BearerAuth
//	@Router			/alerts [get]
func (a *API) listAlerts(w http.ResponseWriter, r *http.Request) {
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
	filter := core.AlertFilter{
		Statuses:          convertList[core.AlertStatus](queryList(r, "status"), strings.ToUpper),
		Severities:        convertList[core.Severity](queryList(r, "severity"), strings.ToUpper),
		AssignedTo:        r.URL.Query().Get("assignedTo"),
		CorrelationRuleID: r.URL.Query().Get("correlationRule"),
		Range:             tr,
	}
	result, err := a.siem.ListAlerts(r.Context(), filter, page)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, result, http.StatusOK)
}

// getAlert godoc
//
//	@Summary	Get one alert
//	@Tags		alerts
//	@Produce	json
//	@Param		alertId	path		string	true	"Alert id"
//	@Success	200		{object}	core.SecurityAlert
//	@Failure	404		{object}	apiError
//	@Security	BearerAuth
//	@Router		/alerts/{alertId} [get]
func (a *API) getAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := a.siem.GetAlert(r.Context(), mux.Vars(r)["alertId"])
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, alert, http.StatusOK)
}

// createAlert godoc
//
//	@Summary	Raise an alert by hand
//	@Tags		alerts
//	@Accept		json
//	@Produce	json
//	@Param		alert	body		manualAlertRequest	true	"Alert"
//	@Success	201		{object}	core.SecurityAlert
//	@Failure	400		{object}	apiError
//	@Security	BearerAuth
//	@Router		/alerts [post]
func (a *API) createAlert(w http.ResponseWriter, r *http.Request) {
	var req manualAlertRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	alert, err := a.siem.CreateManualAlert(r.Context(), core.ManualAlertInput{
		Type:             req.Type,
		Severity:         req.Severity,
		Title:            req.Title,
		EvidenceEventIDs: req.EvidenceEventIDs,
		AssignedTo:       req.AssignedTo,
	}, actorFrom(r.Context()))
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, alert, http.StatusCreated)
}

// updateAlertStatus godoc
//
//	@Summary		Transition an alert
//	@Description	OPEN to INVESTIGATING, RESOLVED or DISMISSED; INVESTIGATING to RESOLVED or DISMISSED
//	@Tags			alerts
//	@Accept			json
//	@Produce		json
//	@Param			alertId	path		string				true	"Alert id"
//	@Param			update	body		alertStatusRequest	true	"New status"
//	@Success		200		{object}	core.SecurityAlert
//	@Failure		400		{object}	apiError
//	@Failure		404		{object}	apiError
//	@Failure		409		{object}	apiError
//	@Security		BearerAuth
//	@Router			/alerts/{alertId}/status [patch]
func (a *API) updateAlertStatus(w http.ResponseWriter, r *http.Request) {
	var req alertStatusRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	alert, err := a.siem.UpdateAlertStatus(r.Context(), mux.Vars(r)["alertId"], service.AlertStatusUpdate{
		Status:         req.Status,
		Notes:          req.Notes,
		ResolutionType: req.ResolutionType,
	}, actorFrom(r.Context()))
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, alert, http.StatusOK)
}

// assignAlert godoc
//
//	@Summary	Assign a live alert
//	@Tags		alerts
//	@Accept		json
//	@Produce	json
//	@Param		alertId	path		string			true	"Alert id"
//	@Param		assign	body		assignRequest	true	"Assignee"
//	@Success	200		{object}	core.SecurityAlert
//	@Failure	409		{object}	apiError
//	@Security	BearerAuth
//	@Router		/alerts/{alertId}/assign [patch]
func (a *API) assignAlert(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	alert, err := a.siem.AssignAlert(r.Context(), mux.Vars(r)["alertId"], req.AssignedTo, actorFrom(r.Context()))
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, alert, http.StatusOK)
}

// alertMetrics godoc
//
//	@Summary	Alert counts and mean resolution time
//	@Tags		alerts
//	@Produce	json
//	@Param		startTime	query		string	false	"RFC 3339 start (default end-24h)"
//	@Param		endTime		query		string	false	"RFC 3339 end (default now)"
//	@Success	200			{object}	core.AlertMetrics
//	@Security	BearerAuth
//	@Router		/alerts/metrics [get]
func (a *API) alertMetrics(w http.ResponseWriter, r *http.Request) {
	tr, err := parseTimeRange(r)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	m, err := a.siem.AlertMetrics(r.Context(), tr)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, m, http.StatusOK)
}
