package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dokzlo13/pilld/internal/ledger"
	"github.com/dokzlo13/pilld/internal/notify"
)

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.deps.Center.Pending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if pending == nil {
		pending = []notify.Request{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) listDelivered(w http.ResponseWriter, r *http.Request) {
	delivered, err := s.deps.Center.Delivered(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if delivered == nil {
		delivered = []notify.Delivery{}
	}
	writeJSON(w, http.StatusOK, delivered)
}

func (s *Server) sendTest(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Scheduler.SendTest(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// POST /api/notifications/{id}/{action}
func (s *Server) respond(w http.ResponseWriter, r *http.Request) {
	action, err := notify.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	d, err := s.deps.Center.Respond(r.Context(), chi.URLParam(r, "id"), action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, d)
}

func (s *Server) confirmationState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Flow.Snapshot())
}

type confirmRequest struct {
	AlarmID string `json:"alarmId"`
}

// POST /api/confirmation/confirm confirms the alarm in the body, or the one
// currently prompted for.
func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	// An empty body, chunked or not, means "the prompted alarm"
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.AlarmID == "" {
		snap := s.deps.Flow.Snapshot()
		if snap.Payload == nil {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "no confirmation pending"})
			return
		}
		req.AlarmID = snap.Payload.AlarmID
	}

	if err := s.deps.Flow.Confirm(r.Context(), req.AlarmID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Flow.Snapshot())
}

func (s *Server) snooze(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Flow.Snapshot()
	if snap.Payload == nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "no confirmation pending"})
		return
	}
	id, err := s.deps.Flow.Snooze(r.Context(), *snap.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"triggerId": id})
}

func (s *Server) dismiss(w http.ResponseWriter, r *http.Request) {
	s.deps.Flow.Dismiss()
	writeJSON(w, http.StatusOK, s.deps.Flow.Snapshot())
}

// GET /api/history?alarm_id=a1&limit=20
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := s.deps.Ledger.Recent(r.URL.Query().Get("alarm_id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
