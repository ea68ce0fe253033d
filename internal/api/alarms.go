package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dokzlo13/pilld/internal/alarm"
	"github.com/dokzlo13/pilld/internal/alarmstore"
	"github.com/dokzlo13/pilld/internal/calendar"
)

type listResponse struct {
	Alarms     []alarm.Record   `json:"alarms"`
	Refreshing bool             `json:"refreshing"`
	Phase      alarmstore.Phase `json:"phase"`
}

// GET /api/alarms?q=vitamin&enabled=true
func (s *Server) listAlarms(w http.ResponseWriter, r *http.Request) {
	enabledOnly, _ := strconv.ParseBool(r.URL.Query().Get("enabled"))
	writeJSON(w, http.StatusOK, listResponse{
		Alarms:     s.deps.Store.FilteredView(r.URL.Query().Get("q"), enabledOnly),
		Refreshing: s.deps.Store.IsRefreshing(),
		Phase:      s.deps.Store.Phase(),
	})
}

func (s *Server) getAlarm(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.deps.Store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, alarmstore.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) addAlarm(w http.ResponseWriter, r *http.Request) {
	var d alarm.Draft
	if err := decodeJSON(r, &d); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	rec, err := s.deps.Store.Add(r.Context(), d)
	writeMutation(w, http.StatusCreated, &rec, err)
}

func (s *Server) updateAlarm(w http.ResponseWriter, r *http.Request) {
	var d alarm.Draft
	if err := decodeJSON(r, &d); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	rec, err := s.deps.Store.Update(r.Context(), chi.URLParam(r, "id"), d)
	writeMutation(w, http.StatusOK, &rec, err)
}

func (s *Server) duplicateAlarm(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Store.Duplicate(r.Context(), chi.URLParam(r, "id"))
	writeMutation(w, http.StatusCreated, &rec, err)
}

func (s *Server) deleteAlarm(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Store.Delete(r.Context(), chi.URLParam(r, "id"))
	writeMutation(w, http.StatusOK, nil, err)
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := decodeJSON(r, &req); err != nil || req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: `body must be {"enabled": true|false}`})
		return
	}

	id := chi.URLParam(r, "id")
	err := s.deps.Store.SetEnabled(r.Context(), id, *req.Enabled)

	var rec *alarm.Record
	if cached, ok := s.deps.Store.Get(id); ok {
		rec = &cached
	}
	writeMutation(w, http.StatusOK, rec, err)
}

func (s *Server) refreshAlarms(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.listAlarms(w, r)
}

func (s *Server) exportCalendar(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="pilld.ics"`)

	err := s.deps.Exporter.Write(w, s.deps.Store.Alarms())
	if errors.Is(err, calendar.ErrNoEvents) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, err)
	}
}
