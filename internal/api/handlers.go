package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/blackbox/internal/daemon"
	"github.com/ManuGH/blackbox/internal/fsutil"
	"github.com/ManuGH/blackbox/internal/incident"
	"github.com/ManuGH/blackbox/internal/inventory"
	"github.com/ManuGH/blackbox/internal/log"
	"github.com/ManuGH/blackbox/internal/trigger"
)

const (
	// DefaultListLimit applies when ?limit is absent.
	DefaultListLimit = 10
	maxListLimit     = 1000
	maxCaptureBody   = 4 << 10

	// CaptureFailedMessage is returned with 409 when a manual capture did
	// not produce an incident.
	CaptureFailedMessage = "capture skipped or failed (cooldown/debounce or error)"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.runtime.Status()
	if err != nil {
		s.serverError(w, r, err, "status failed")
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(st))
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			writeError(w, r, http.StatusBadRequest, "limit must be an integer between 1 and "+strconv.Itoa(maxListLimit))
			return
		}
		limit = n
	}

	entries, err := inventory.List(s.runtime.IncidentDir(), limit)
	if err != nil {
		s.serverError(w, r, err, "list incidents failed")
		return
	}
	resp := IncidentList{Incidents: make([]IncidentEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Incidents = append(resp.Incidents, ToIncidentEntry(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	d, err := inventory.Show(s.runtime.IncidentDir(), incident.ID(chi.URLParam(r, "id")))
	if err != nil {
		s.lookupError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = incident.WriteJSON(w, d.Report)
}

func (s *Server) handleDownloadBundle(w http.ResponseWriter, r *http.Request) {
	e, err := inventory.Find(s.runtime.IncidentDir(), incident.ID(chi.URLParam(r, "id")))
	if err != nil {
		s.lookupError(w, r, err)
		return
	}
	f, err := os.Open(e.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, r, http.StatusNotFound, inventory.ErrNotFound.Error())
			return
		}
		s.serverError(w, r, err, "open bundle failed")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.serverError(w, r, err, "stat bundle failed")
		return
	}

	name := filepath.Base(e.Path)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCaptureBody))
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	// The capture outlives a client that hangs up.
	id, ok := s.runtime.CaptureManual(context.WithoutCancel(r.Context()), req.Reason)
	if !ok {
		writeError(w, r, http.StatusConflict, CaptureFailedMessage)
		return
	}
	w.Header().Set("Location", "/api/v1/incidents/"+id.String())
	writeJSON(w, http.StatusCreated, CaptureResponse{ID: id.String()})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	err := s.runtime.Beat(chi.URLParam(r, "scope"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, trigger.ErrBlankScope):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, daemon.ErrRuntimeClosed):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		s.serverError(w, r, err, "heartbeat failed")
	}
}

func (s *Server) lookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, incident.ErrBlankID), errors.Is(err, incident.ErrInvalidID), errors.Is(err, fsutil.ErrOutsideRoot):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, inventory.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		s.serverError(w, r, err, "read incident failed")
	}
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logger := log.WithContext(r.Context(), s.logger)
	logger.Error().Err(err).Str(log.FieldPath, r.URL.Path).Msg(msg)
	writeError(w, r, http.StatusInternalServerError, msg)
}
