package api

import (
	"net/http"
	"strconv"
	"strings"

	"watchtower/core"
	"watchtower/ingest"

	"github.com/gorilla/mux"
)

type replayResponse struct {
	ID    int64               `json:"id"`
	Event *core.SecurityEvent `json:"event"`
}

// dlqID parses the {id} path variable. On failure it writes the response.
func (a *API) dlqID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if a.dlq == nil {
		a.respondError(w, http.StatusServiceUnavailable, "DLQ not available", nil)
		return 0, false
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		a.respondServiceError(w, r, core.NewValidationError("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

// listDeadLetters godoc
//
//	@Summary		List dead letters
//	@Description	Ingestion messages that were rejected, newest first
//	@Tags			dlq
//	@Produce		json
//	@Param			status	query		string	false	"pending, replayed or discarded"
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	core.Page[ingest.DeadLetter]
//	@Failure		400		{object}	apiError
//	@Failure		503		{object}	apiError
//	@Security		BearerAuth
//	@Router			/dlq [get]
func (a *API) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	if a.dlq == nil {
		a.respondError(w, http.StatusServiceUnavailable, "DLQ not available", nil)
		return
	}
	page, err := parsePagination(r)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	status := strings.ToLower(r.URL.Query().Get("status"))
	switch status {
	case "", ingest.DLQStatusPending, ingest.DLQStatusReplayed, ingest.DLQStatusDiscarded:
	default:
		a.respondServiceError(w, r, core.NewValidationError("status", "unknown dead letter status %q", status))
		return
	}

	result, err := a.dlq.List(r.Context(), status, page)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, result, http.StatusOK)
}

// getDeadLetter godoc
//
//	@Summary	Get one dead letter
//	@Tags		dlq
//	@Produce	json
//	@Param		id	path		int	true	"Dead letter id"
//	@Success	200	{object}	ingest.DeadLetter
//	@Failure	404	{object}	apiError
//	@Security	BearerAuth
//	@Router		/dlq/{id} [get]
func (a *API) getDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := a.dlqID(w, r)
	if !ok {
		return
	}
	dl, err := a.dlq.Get(r.Context(), id)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, dl, http.StatusOK)
}

// replayDeadLetter godoc
//
//	@Summary		Replay a dead letter
//	@Description	Decodes the stored payload again and records it as an event. Only pending entries can be replayed.
//	@Tags			dlq
//	@Produce		json
//	@Param			id	path		int	true	"Dead letter id"
//	@Success		201	{object}	replayResponse
//	@Failure		400	{object}	apiError	"Payload still invalid"
//	@Failure		404	{object}	apiError
//	@Failure		409	{object}	apiError	"Entry is not pending"
//	@Security		BearerAuth
//	@Router			/dlq/{id}/replay [post]
func (a *API) replayDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := a.dlqID(w, r)
	if !ok {
		return
	}
	actor := actorFrom(r.Context())
	if actor == "" {
		a.respondServiceError(w, r, core.NewValidationError("actor", "is required"))
		return
	}
	ev, err := a.dlq.Replay(r.Context(), id, a.siem)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.logger.Infow("Dead letter replayed", "dlq_id", id, "event_id", ev.ID, "actor", actor)
	a.respondJSON(w, replayResponse{ID: id, Event: ev}, http.StatusCreated)
}

// discardDeadLetter godoc
//
//	@Summary		Discard a dead letter
//	@Description	Marks a pending entry discarded. The entry is kept.
//	@Tags			dlq
//	@Produce		json
//	@Param			id	path		int	true	"Dead letter id"
//	@Success		200	{object}	ingest.DeadLetter
//	@Failure		404	{object}	apiError
//	@Failure		409	{object}	apiError	"Entry is not pending"
//	@Security		BearerAuth
//	@Router			/dlq/{id} [delete]
func (a *API) discardDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := a.dlqID(w, r)
	if !ok {
		return
	}
	actor := actorFrom(r.Context())
	if actor == "" {
		a.respondServiceError(w, r, core.NewValidationError("actor", "is required"))
		return
	}
	if err := a.dlq.Discard(r.Context(), id); err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	dl, err := a.dlq.Get(r.Context(), id)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.logger.Infow("Dead letter discarded", "dlq_id", id, "actor", actor)
	a.respondJSON(w, dl, http.StatusOK)
}
