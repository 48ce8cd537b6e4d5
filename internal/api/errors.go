package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"shieldpool/internal/poolerr"
)

// CodeBadRequest marks a body or parameter the API could not decode.
const CodeBadRequest = "bad_request"

// StatusFor maps a pool failure to an HTTP status.
func StatusFor(err error) int {
	code := poolerr.CodeOf(err)
	switch code.Category() {
	case poolerr.Validation:
		return http.StatusBadRequest
	case poolerr.Authorization:
		return http.StatusForbidden
	case poolerr.Lifecycle:
		return http.StatusLocked
	case poolerr.Conservation, poolerr.Proof:
		return http.StatusUnprocessableEntity
	case poolerr.Replay, poolerr.Capacity:
		return http.StatusConflict
	case poolerr.Consistency:
		switch code {
		case poolerr.CodePoolNotFound, poolerr.CodeAccountNotFound:
			return http.StatusNotFound
		case poolerr.CodeInvalidRegistry:
			return http.StatusInternalServerError
		}
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err. Internal failures keep their message out of the
// response.
func writeError(w http.ResponseWriter, err error) {
	code := poolerr.CodeOf(err)
	resp := ErrorResponse{
		Code:     string(code),
		Category: string(code.Category()),
		Message:  err.Error(),
	}
	var pe *poolerr.Error
	if errors.As(err, &pe) && pe.Message != "" {
		resp.Message = pe.Message
	}
	if code == poolerr.CodeInternal {
		resp.Message = "internal error"
	}
	writeJSON(w, StatusFor(err), resp)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Code:     CodeBadRequest,
		Category: string(poolerr.Validation),
		Message:  msg,
	})
}
