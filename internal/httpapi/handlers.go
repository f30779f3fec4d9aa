package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/HendryAvila/turnloop/internal/jobs"
	"github.com/HendryAvila/turnloop/internal/pipeline"
	"github.com/HendryAvila/turnloop/internal/turn"
)

const maxBodyBytes = 1 << 20

type submitRequest struct {
	UserID  string `json:"user_id"`
	Query   string `json:"query"`
	Mode    string `json:"mode,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

type resumeRequest struct {
	UserID string `json:"user_id"`
}

type jobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": s.jobs.Running()})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Query == "" {
		writeError(w, http.StatusBadRequest, "user_id and query are required")
		return
	}
	mode := turn.ModeReadOnly
	if req.Mode != "" {
		mode = turn.Mode(req.Mode)
	}
	if err := turn.ValidateMode(mode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.jobs.Submit(pipeline.Request{
		TraceID: req.TraceID,
		UserID:  req.UserID,
		Query:   req.Query,
		Mode:    mode,
	})
	if err != nil {
		s.jobError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/turns/"+id)
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: id, Status: string(jobs.StatusRunning)})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	id, err := s.jobs.Resume(chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		s.jobError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/turns/"+id)
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: id, Status: string(jobs.StatusRunning)})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	res, err := s.jobs.Poll(chi.URLParam(r, "id"))
	if err != nil {
		s.jobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobs.Cancel(id); err != nil {
		s.jobError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: id, Status: "cancel_requested"})
}

// jobError maps job layer errors to status codes.
func (s *Server) jobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrJobRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, jobs.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("job request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
