package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"watchtower/core"

	"github.com/gorilla/mux"
)

// listRules godoc
//
//	@Summary	List correlation rules
//	@Tags		rules
//	@Produce	json
//	@Param		enabled	query		bool	false	"Only enabled rules"
//	@Success	200		{array}		core.CorrelationRule
//	@Security	BearerAuth
//	@Router		/rules [get]
func (a *API) listRules(w http.ResponseWriter, r *http.Request) {
	enabledOnly := false
	if raw := r.URL.Query().Get("enabled"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			a.respondServiceError(w, r, core.NewValidationError("enabled", "must be a boolean"))
			return
		}
		enabledOnly = v
	}
	rules, err := a.siem.ListRules(r.Context(), enabledOnly)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	if rules == nil {
		rules = []core.CorrelationRule{}
	}
	a.respondJSON(w, rules, http.StatusOK)
}

// getRule godoc
//
//	@Summary	Get one rule
//	@Tags		rules
//	@Produce	json
//	@Param		ruleId	path		string	true	"Rule id"
//	@Success	200		{object}	core.CorrelationRule
//	@Failure	404		{object}	apiError
//	@Security	BearerAuth
//	@Router		/rules/{ruleId} [get]
func (a *API) getRule(w http.ResponseWriter, r *http.Request) {
	rule, err := a.siem.GetRule(r.Context(), mux.Vars(r)["ruleId"])
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, rule, http.StatusOK)
}

// createRule godoc
//
//	@Summary	Create a correlation rule
//	@Tags		rules
//	@Accept		json
//	@Produce	json
//	@Param		rule	body		core.CorrelationRule	true	"Rule"
//	@Success	201		{object}	core.CorrelationRule
//	@Failure	400		{object}	apiError
//	@Security	BearerAuth
//	@Router		/rules [post]
func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	var rule core.CorrelationRule
	if !a.decodeJSONBody(w, r, &rule) {
		return
	}
	created, err := a.siem.CreateRule(r.Context(), rule, actorFrom(r.Context()))
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, created, http.StatusCreated)
}

// updateRule godoc
//
//	@Summary	Replace a correlation rule
//	@Tags		rules
//	@Accept		json
//	@Produce	json
//	@Param		ruleId	path		string					true	"Rule id"
//	@Param		rule	body		core.CorrelationRule	true	"Rule"
//	@Success	200		{object}	core.CorrelationRule
//	@Failure	400		{object}	apiError
//	@Failure	404		{object}	apiError
//	@Security	BearerAuth
//	@Router		/rules/{ruleId} [put]
func (a *API) updateRule(w http.ResponseWriter, r *http.Request) {
	var rule core.CorrelationRule
	if !a.decodeJSONBody(w, r, &rule) {
		return
	}
	updated, err := a.siem.UpdateRule(r.Context(), mux.Vars(r)["ruleId"], rule, actorFrom(r.Context()))
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, updated, http.StatusOK)
}

type ruleEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// setRuleEnabled godoc
//
//	@Summary	Enable or disable a rule
//	@Tags		rules
//	@Accept		json
//	@Produce	json
//	@Param		ruleId	path		string				true	"Rule id"
//	@Param		body	body		ruleEnabledRequest	true	"Enabled flag"
//	@Success	200		{object}	core.CorrelationRule
//	@Security	BearerAuth
//	@Router		/rules/{ruleId}/enabled [patch]
func (a *API) setRuleEnabled(w http.ResponseWriter, r *http.Request) {
	var req ruleEnabledRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	rule, err := a.siem.SetRuleEnabled(r.Context(), mux.Vars(r)["ruleId"], *req.Enabled, actorFrom(r.Context()))
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, rule, http.StatusOK)
}

// deleteRule godoc
//
//	@Summary	Delete a rule
//	@Tags		rules
//	@Produce	json
//	@Param		ruleId	path		string	true	"Rule id"
//	@Success	200		{object}	map[string]string
//	@Failure	404		{object}	apiError
//	@Security	BearerAuth
//	@Router		/rules/{ruleId} [delete]
func (a *API) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["ruleId"]
	if err := a.siem.DeleteRule(r.Context(), id, actorFrom(r.Context())); err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, map[string]string{"deleted": id}, http.StatusOK)
}

// importRules godoc
//
//	@Summary		Import a rule document
//	@Description	Accepts a JSON list, or YAML with a rules key when Content-Type names yaml. Rules with an existing id are replaced.
//	@Tags			rules
//	@Accept			json
//	@Accept			application/yaml
//	@Produce		json
//	@Success		200	{object}	service.ImportResult
//	@Failure		400	{object}	apiError
//	@Security		BearerAuth
//	@Router			/rules/import [post]
func (a *API) importRules(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if actor == "" {
		a.respondServiceError(w, r, core.NewValidationError("actor", "is required"))
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.config.API.BodyLimit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.respondError(w, http.StatusRequestEntityTooLarge, "request body too large", nil)
			return
		}
		a.respondError(w, http.StatusBadRequest, "failed to read request body", nil)
		return
	}

	rules, err := core.ParseRules(data, core.RuleFormatFor(r.Header.Get("Content-Type")))
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	result, err := a.siem.ImportRules(r.Context(), rules, actor)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, result, http.StatusOK)
}
