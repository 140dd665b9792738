package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

const (
	codeNotFound             = "not_found"
	codeInvalidRequestBody   = "invalid_request_body"
	codeMissingRequiredField = "missing_required_field"
	codeMissingActor         = "missing_actor"
	codeInvalidID            = "invalid_id"
	codeUnknownSweep         = "unknown_sweep"
	codeForbidden            = "forbidden"
	codeUnavailable          = "unavailable"
	codeGuildNotServed       = "guild_not_served"
	codeInternalError        = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// writeDomainError maps a domain error kind onto a status code. The message
// of unclassified errors is never exposed.
func writeDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrInvalidID) {
		writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
		return
	}
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindValidation, domain.KindTimezone:
		writeError(w, http.StatusBadRequest, string(kind), err.Error())
	case domain.KindNotFound:
		writeError(w, http.StatusNotFound, string(kind), err.Error())
	case domain.KindAuthorization:
		writeError(w, http.StatusForbidden, string(kind), err.Error())
	case domain.KindCapacity, domain.KindConflict:
		writeError(w, http.StatusConflict, string(kind), err.Error())
	case domain.KindExternal:
		writeError(w, http.StatusBadGateway, string(kind), err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
