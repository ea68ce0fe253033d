package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pilld/internal/alarm"
	"github.com/dokzlo13/pilld/internal/alarmstore"
	"github.com/dokzlo13/pilld/internal/notify"
)

type errorResponse struct {
	Error  string       `json:"error"`
	Fields []fieldError `json:"fields,omitempty"`
}

type fieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode API response")
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// validationErrors collects the field errors of a (possibly joined) error.
func validationErrors(err error) []fieldError {
	var out []fieldError
	var verr *alarm.ValidationError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, validationErrors(e)...)
		}
		return out
	}
	if errors.As(err, &verr) {
		out = append(out, fieldError{Field: verr.Field, Reason: verr.Reason})
	}
	return out
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var perr *alarm.PersistenceError
	var serr *alarm.ScheduleError

	switch {
	case len(validationErrors(err)) > 0:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: validationErrors(err)})
	case errors.Is(err, alarmstore.ErrNotFound), errors.Is(err, notify.ErrUnknownNotification):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &perr):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	case errors.As(err, &serr):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

// persistFailed reports whether a mutation error means nothing was saved.
// Errors after a successful write (trigger registration, the follow-up
// refresh) leave the mutation in place.
func persistFailed(err error) bool {
	var perr *alarm.PersistenceError
	if !errors.As(err, &perr) {
		return false
	}
	return perr.Op != "fetch"
}

// mutationResponse wraps a mutation result with an optional warning.
type mutationResponse struct {
	Alarm   *alarm.Record `json:"alarm,omitempty"`
	Warning string        `json:"warning,omitempty"`
}

// writeMutation answers a persisted mutation. Post-persist errors become a
// warning on a successful status.
func writeMutation(w http.ResponseWriter, status int, rec *alarm.Record, err error) {
	if err != nil && (persistFailed(err) || len(validationErrors(err)) > 0 ||
		errors.Is(err, alarmstore.ErrNotFound)) {
		writeError(w, err)
		return
	}

	resp := mutationResponse{Alarm: rec}
	if err != nil {
		log.Warn().Err(err).Msg("Alarm saved with warnings")
		resp.Warning = err.Error()
	}
	writeJSON(w, status, resp)
}
