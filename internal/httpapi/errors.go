// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/crewkeeper/crewkeeper/internal/access/entry"
	"github.com/crewkeeper/crewkeeper/internal/access/rule"
	"github.com/crewkeeper/crewkeeper/internal/access/ruledsl"
	"github.com/crewkeeper/crewkeeper/pkg/errutil"
)

// CodeBadRequest marks malformed request bodies and parameters.
const CodeBadRequest = "BAD_REQUEST"

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var statusByCode = map[string]int{
	CodeBadRequest:         http.StatusBadRequest,
	rule.CodeInvalid:       http.StatusBadRequest,
	ruledsl.CodeSyntax:     http.StatusBadRequest,
	entry.CodeInvalid:      http.StatusBadRequest,
	entry.CodeGrantInvalid: http.StatusBadRequest,
	CodeUnauthenticated:    http.StatusUnauthorized,
	entry.CodeNotFound:     http.StatusNotFound,
	entry.CodeReferenced:   http.StatusConflict,
	entry.CodeDeleted:      http.StatusConflict,
}

// writeError renders err as an ErrorBody. Unmapped errors become a 500 whose
// message hides the cause, which is logged instead.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errutil.Code(err)
	status, ok := statusByCode[code]
	body := ErrorBody{Code: code, Message: err.Error()}
	if !ok {
		status = http.StatusInternalServerError
		if body.Code == "" {
			body.Code = "INTERNAL"
		}
		body.Message = "internal error"
		errutil.LogErrorContext(r.Context(), slog.Default(), "request failed", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may have disconnected
	json.NewEncoder(w).Encode(v)
}
