// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

// Package httpapi exposes access entries over HTTP. Every route requires an
// HS256 bearer token naming the calling member and guild.
package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/crewkeeper/crewkeeper/internal/access/entry"
	"github.com/crewkeeper/crewkeeper/internal/access/rule"
	"github.com/crewkeeper/crewkeeper/internal/member"
	"github.com/crewkeeper/crewkeeper/internal/observability"
)

const maxBodyBytes = 1 << 20

// API serves the /authorization routes.
type API struct {
	entries  *entry.Service
	resolver member.Resolver
	verifier *TokenVerifier
	metrics  *observability.HTTPMetrics
}

// New creates an API. metrics may be nil.
func New(entries *entry.Service, resolver member.Resolver, verifier *TokenVerifier, metrics *observability.HTTPMetrics) *API {
	return &API{entries: entries, resolver: resolver, verifier: verifier, metrics: metrics}
}

// Routes returns the router.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimw.Recoverer)
	if a.metrics != nil {
		r.Use(Instrument(a.metrics))
	}

	r.Route("/authorization/rule", func(r chi.Router) {
		r.Use(Authenticate(a.verifier))
		r.Post("/", a.createRule)
		r.Get("/", a.listRules)
		r.Get("/{id}/test", a.testRule)
		r.Delete("/{id}", a.deleteRule)
	})
	return r
}

// createRuleRequest is the body of POST /authorization/rule.
type createRuleRequest struct {
	Description string          `json:"description"`
	Type        string          `json:"type"`
	Rule        json.RawMessage `json:"rule"`
}

func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	var req createRuleRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, oops.Code(CodeBadRequest).Wrapf(err, "decoding request body"))
		return
	}

	typ, err := rule.ParseType(req.Type)
	if err != nil {
		writeError(w, r, oops.Code(entry.CodeInvalid).With("type", req.Type).Wrap(err))
		return
	}
	parsed, err := rule.Parse(bytes.TrimSpace(req.Rule))
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := a.entries.Create(r.Context(), entry.CreateParams{
		GuildID:     caller.GuildID,
		Description: req.Description,
		Type:        typ,
		Rule:        parsed,
		UpdatedBy:   caller.MemberID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) listRules(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	entries, err := a.entries.List(r.Context(), entry.ListOptions{
		GuildID: caller.GuildID,
		Query:   r.URL.Query().Get("q"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*entry.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// testRule evaluates an entry against the caller's own context. A permit
// answers 204 with no body; anything short of a permit answers 401.
func (a *API) testRule(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	id := chi.URLParam(r, "id")

	if _, err := a.guildEntry(r, caller, id); err != nil {
		writeError(w, r, err)
		return
	}
	evalCtx, err := a.resolver.Resolve(r.Context(), caller.GuildID, caller.MemberID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	permitted, err := a.entries.Test(r.Context(), id, evalCtx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !permitted {
		writeJSON(w, http.StatusUnauthorized, ErrorBody{Code: "FORBIDDEN", Message: "access entry does not permit caller"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteRule(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	id := chi.URLParam(r, "id")

	cascade := false
	if raw := r.URL.Query().Get("cascade"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, oops.Code(CodeBadRequest).With("cascade", raw).Wrap(err))
			return
		}
		cascade = v
	}

	if _, err := a.guildEntry(r, caller, id); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.entries.SoftDelete(r.Context(), id, caller.MemberID, cascade); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// guildEntry loads an active entry of the caller's guild. Entries of other
// guilds are reported as not found.
func (a *API) guildEntry(r *http.Request, caller Caller, id string) (*entry.Entry, error) {
	e, err := a.entries.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if e.GuildID != caller.GuildID || e.IsDeleted() {
		return nil, oops.Code(entry.CodeNotFound).With("id", id).Errorf("access entry not found")
	}
	return e, nil
}
