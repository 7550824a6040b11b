package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/TWRT/task-lifecycle/internal/lifecycle"
	"github.com/TWRT/task-lifecycle/internal/models"
)

// OperatorHeader carries the authenticated operator identity and RoleHeader
// its session role. Session issuance happens upstream.
const (
	OperatorHeader = "X-Operator"
	RoleHeader     = "X-Operator-Role"
)

type errorBody struct {
	Success   bool         `json:"success"`
	Error     string       `json:"error"`
	Message   string       `json:"message"`
	Current   *models.Task `json:"current,omitempty"`
	Owner     string       `json:"owner,omitempty"`
	Suggested int          `json:"suggested_number,omitempty"`
	Retryable bool         `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var le *lifecycle.Error
	if !errors.As(err, &le) {
		message := "Error trying to process the request"
		if errors.Is(err, lifecycle.ErrCorrupted) {
			message = "stored task record is corrupted"
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: message})
		return
	}
	writeJSON(w, statusFor(le.Kind), errorBody{
		Error:     string(le.Kind),
		Message:   le.Error(),
		Current:   le.Current,
		Owner:     le.Owner,
		Suggested: le.Suggested,
		Retryable: le.Retryable(),
	})
}

func statusFor(kind lifecycle.Kind) int {
	switch kind {
	case lifecycle.KindVersionConflict, lifecycle.KindAlreadyOwned, lifecycle.KindInvalidTransition,
		lifecycle.KindAmbiguous, lifecycle.KindDuplicate:
		return http.StatusConflict
	case lifecycle.KindNotOwner, lifecycle.KindNotAuthorized, lifecycle.KindFieldNotEditable:
		return http.StatusForbidden
	case lifecycle.KindInvalidInput:
		return http.StatusBadRequest
	case lifecycle.KindIdentityMissing:
		return http.StatusUnauthorized
	case lifecycle.KindNotFound:
		return http.StatusNotFound
	case lifecycle.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: string(lifecycle.KindInvalidInput), Message: message})
}

// readBody decodes the JSON request body into v, answering 400 itself when
// it cannot.
func readBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, "Error trying to read the body: "+err.Error())
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		badRequest(w, "JSON error: "+err.Error())
		return false
	}
	return true
}

func operator(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(OperatorHeader))
}

func role(r *http.Request) lifecycle.Role {
	return lifecycle.ParseRole(r.Header.Get(RoleHeader))
}

// rawText returns a JSON scalar as plain text: strings are unquoted, numbers
// and literals are returned as written, null and absent values are empty.
func rawText(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}
