package snapshot

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/snapwipe/kit"
	"github.com/hazyhaar/snapwipe/shield"
)

// Path is where the endpoint is mounted.
const Path = "/api/snapshot"

// RegisterHTTP mounts the warm-up and render routes on r. Renders pass the
// same-origin gate before their body is read.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get(Path, s.handleWarm)
	r.With(shield.SameOrigin).Post(Path, s.handleRender)
}

// handleWarm initializes the browser so the first render skips cold start.
// GET /api/snapshot
func (s *Service) handleWarm(w http.ResponseWriter, r *http.Request) {
	if err := s.Warm(r.Context()); err != nil {
		shield.GetLogger(r.Context()).Error("snapshot: warm up failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "warmed up"})
}

// renderBody accepts both request shapes: {tasks:[...]} and a bare task.
type renderBody struct {
	Tasks *[]Task `json:"tasks"`
	Task
}

// handleRender renders a batch or a single legacy task.
// POST /api/snapshot
func (s *Service) handleRender(w http.ResponseWriter, r *http.Request) {
	var body renderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req := &RenderRequest{}
	if body.Tasks != nil {
		req.Tasks = *body.Tasks
	} else {
		req.Legacy = true
		req.Tasks = []Task{body.Task}
	}

	ctx := kit.WithTransport(r.Context(), kit.TransportHTTP)
	resp, err := s.Endpoint()(ctx, req)
	if err != nil {
		status, msg := errorStatus(err)
		if status == http.StatusInternalServerError {
			shield.GetLogger(ctx).Error("snapshot: render request failed", "error", err)
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// errorStatus maps a render error to its HTTP status and public message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNoTasks):
		return http.StatusBadRequest, "No tasks provided"
	case errors.Is(err, ErrNoHTML):
		return http.StatusBadRequest, "No HTML provided"
	case IsBadRequest(err):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
