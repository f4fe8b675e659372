package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"mindmate/internal/util"
	"mindmate/pkg/auth"
	"mindmate/services/api/internal/app"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeFor(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps registry and account errors onto HTTP statuses. Anything
// unrecognised is logged and reported as an internal error.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		msg := strings.TrimPrefix(err.Error(), app.ErrInvalidInput.Error()+": ")
		writeError(w, http.StatusBadRequest, msg)
	case errors.Is(err, app.ErrNoFileAttached):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrRevocationUnavailable):
		util.LoggerFromContext(r.Context()).Error("revocation backend failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "authentication unavailable")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrSubjectNotFound), errors.Is(err, app.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func errorCodeFor(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "internal auth not configured":
		return "SYSTEM_INTERNAL_ERROR"
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "authentication unavailable":
		return "AUTH_UNAVAILABLE"
	case message == app.ErrInvalidCredentials.Error():
		return "AUTH_INVALID_CREDENTIALS"
	case message == app.ErrEmailTaken.Error():
		return "AUTH_EMAIL_TAKEN"
	case message == "too many requests":
		return "AUTH_RATE_LIMITED"
	case message == "forbidden":
		return "DOCUMENT_FORBIDDEN"
	case message == app.ErrSubjectNotFound.Error():
		return "SUBJECT_NOT_FOUND"
	case message == app.ErrDocumentNotFound.Error():
		return "DOCUMENT_NOT_FOUND"
	case message == app.ErrNoFileAttached.Error():
		return "DOCUMENT_NO_FILE"
	case message == "file too large":
		return "DOCUMENT_FILE_TOO_LARGE"
	case strings.HasPrefix(message, "unsupported file type"):
		return "DOCUMENT_UNSUPPORTED_FILE_TYPE"
	case strings.Contains(message, "file is required"):
		return "DOCUMENT_FILE_REQUIRED"
	case message == "invalid form data":
		return "DOCUMENT_INVALID_UPLOAD_FORM"
	case message == "invalid subject id", message == "invalid document id":
		return "REQUEST_INVALID_ID"
	case message == "invalid json body":
		return "REQUEST_INVALID_BODY"
	case message == "invalid or expired link":
		return "FILE_LINK_INVALID"
	case message == "queue unavailable", message == "queue not configured":
		return "QUEUE_UNAVAILABLE"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_VALIDATION_FAILED"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "DOCUMENT_FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
