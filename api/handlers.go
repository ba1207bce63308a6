package api

import (
	"net/http"
	"strings"
	"time"

	"watchtower/core"

	"github.com/gorilla/mux"
)

type healthResponse struct {
	Status        string    `json:"status"`
	Time          time.Time `json:"time"`
	StreamClients int       `json:"streamClients"`
}

// healthCheck godoc
//
//	@Summary	Liveness probe
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	healthResponse
//	@Router		/health [get]
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Time: time.Now().UTC()}
	if a.hub != nil {
		resp.StreamClients = a.hub.ClientCount()
	}
	a.respondJSON(w, resp, http.StatusOK)
}

type recordEventResponse struct {
	ID    string              `json:"id"`
	Event *core.SecurityEvent `json:"event"`
}

// recordEvent godoc
//
//	@Summary	Record a security event
//	@Description	Stores the event and runs correlation. Correlation problems never fail the request.
//	@Tags		events
//	@Accept		json
//	@Produce	json
//	@Param		event	body		recordEventRequest	true	"Event"
//	@Success	201		{object}	recordEventResponse
//	@Failure	400		{object}	apiError
//	@Failure	429		{object}	apiError
//	@Security	BearerAuth
//	@Router		/events [post]
func (a *API) recordEvent(w http.ResponseWriter, r *http.Request) {
	var req recordEventRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	ev, err := a.siem.RecordEvent(r.Context(), req.input())
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, recordEventResponse{ID: ev.ID, Event: ev}, http.StatusCreated)
}

func parseEventFilter(r *http.Request) (core.EventFilter, error) {
	tr, err := parseTimeRange(r)
	if err != nil {
		return core.EventFilter{}, err
	}
	q := r.URL.Query()
	return core.EventFilter{
		Types:      convertList[core.EventType](queryList(r, "type"), strings.ToUpper),
		Severities: convertList[core.Severity](queryList(r, "severity"), strings.ToUpper),
		UserID:     q.Get("userId"),
		SourceIP:   q.Get("sourceIp"),
		Range:      tr,
	}, nil
}

// queryEvents godoc
//
//	@Summary	Query events
//	@Tags		events
//	@Produce	json
//	@Param		type		query		string	false	"Event types, comma separated"
//	@Param		severity	query		string	false	"Severities, comma separated"
//	@Param		userId		query		string	false	"User id"
//	@Param		sourceIp	query		string	false	"Source IP"
//	@Param		startTime	query		string	false	"RFC 3339 start"
//	@Param		endTime		query		string	false	"RFC 3339 end"
//	@Param		sort		query		string	false	"asc or desc (default)"
//	@Param		limit		query		int		false	"Page size"
//	@Param		offset		query		int		false	"Page offset"
//	@Success	200			{object}	core.Page[core.SecurityEvent]
//	@Failure	400			{object}	apiError
//	@Security	BearerAuth
//	@Router		/events [get]
func (a *API) queryEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	page, err := parsePagination(r)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	sort := core.EventSort{Order: core.SortDesc}
	switch strings.ToLower(r.URL.Query().Get("sort")) {
	case "", string(core.SortDesc):
	case string(core.SortAsc):
		sort.Order = core.SortAsc
	default:
		a.respondServiceError(w, r, core.NewValidationError("sort", "must be asc or desc"))
		return
	}

	result, err := a.siem.QueryEvents(r.Context(), filter, page, sort)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, result, http.StatusOK)
}

// searchEvents godoc
//
//	@Summary	Free-text event search
//	@Tags		events
//	@Accept		json
//	@Produce	json
//	@Param		query	body		core.SearchQuery	true	"Search"
//	@Success	200		{array}		core.SecurityEvent
//	@Failure	400		{object}	apiError
//	@Security	BearerAuth
//	@Router		/events/search [post]
func (a *API) searchEvents(w http.ResponseWriter, r *http.Request) {
	var q core.SearchQuery
	if !a.decodeJSONBody(w, r, &q) {
		return
	}
	events, err := a.siem.SearchEvents(r.Context(), q)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []core.SecurityEvent{}
	}
	a.respondJSON(w, events, http.StatusOK)
}

// getEvent godoc
//
//	@Summary	Get one event
//	@Tags		events
//	@Produce	json
//	@Param		eventId	path		string	true	"Event id"
//	@Success	200		{object}	core.SecurityEvent
//	@Failure	404		{object}	apiError
//	@Security	BearerAuth
//	@Router		/events/{eventId} [get]
func (a *API) getEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := a.siem.GetEvent(r.Context(), mux.Vars(r)["eventId"])
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, ev, http.StatusOK)
}

// eventMetrics godoc
//
//	@Summary	Event counts by type and severity
//	@Tags		events
//	@Produce	json
//	@Param		startTime	query		string	false	"RFC 3339 start (default end-24h)"
//	@Param		endTime		query		string	false	"RFC 3339 end (default now)"
//	@Success	200			{object}	core.EventMetrics
//	@Security	BearerAuth
//	@Router		/events/metrics [get]
func (a *API) eventMetrics(w http.ResponseWriter, r *http.Request) {
	tr, err := parseTimeRange(r)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	m, err := a.siem.EventMetrics(r.Context(), tr)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, m, http.StatusOK)
}

// getAnalytics godoc
//
//	@Summary	Combined dashboard analytics
//	@Tags		analytics
//	@Produce	json
//	@Param		startTime	query		string	false	"RFC 3339 start (default end-24h)"
//	@Param		endTime		query		string	false	"RFC 3339 end (default now)"
//	@Success	200			{object}	core.Analytics
//	@Security	BearerAuth
//	@Router		/analytics [get]
func (a *API) getAnalytics(w http.ResponseWriter, r *http.Request) {
	tr, err := parseTimeRange(r)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	out, err := a.siem.Analytics(r.Context(), tr)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, out, http.StatusOK)
}

// listAudit godoc
//
//	@Summary	Audit trail
//	@Tags		audit
//	@Produce	json
//	@Param		entityId	query		string	false	"Alert, incident or rule id"
//	@Param		limit		query		int		false	"Maximum records"
//	@Success	200			{array}		core.AuditRecord
//	@Security	BearerAuth
//	@Router		/audit [get]
func (a *API) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	records, err := a.siem.ListAudit(r.Context(), r.URL.Query().Get("entityId"), limit)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []core.AuditRecord{}
	}
	a.respondJSON(w, records, http.StatusOK)
}
