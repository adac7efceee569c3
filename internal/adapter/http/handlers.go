package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/sprintpilot/sprintpilot/internal/adapter/ws"
	"github.com/sprintpilot/sprintpilot/internal/domain/session"
	"github.com/sprintpilot/sprintpilot/internal/domain/target"
	"github.com/sprintpilot/sprintpilot/internal/port/gitprovider"
	"github.com/sprintpilot/sprintpilot/internal/port/notifier"
	"github.com/sprintpilot/sprintpilot/internal/port/sandbox"
	"github.com/sprintpilot/sprintpilot/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// Handlers aggregates the HTTP handlers and their service dependencies.
type Handlers struct {
	Sessions *service.SessionService
	Targets  *service.TargetService
	Queues   *service.QueueService
	Hub      *ws.Hub

	// Healthy reports backend connectivity for the health endpoint.
	Healthy func() bool
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// CreateSession handles POST /sessions: request a sprint run.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[session.StartRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.TargetID, "target_id") || !requireField(w, req.Unit, "unit") {
		return
	}

	sess, err := h.Sessions.Start(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "target not found")
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

// GetSession handles GET /sessions/{id}.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ListSessions handles GET /sessions with optional ?target= and ?limit=
// filters. Results are ordered most recent first.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	sessions, err := h.Sessions.List(r.Context(), r.URL.Query().Get("target"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	writeJSON(w, http.StatusOK, sessions)
}

// queryLimit parses an optional non-negative ?limit= parameter. Zero means
// no limit.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// AbortSession handles POST /sessions/{id}/abort.
func (h *Handlers) AbortSession(w http.ResponseWriter, r *http.Request) {
	type abortRequest struct {
		RequestedBy string `json:"requested_by,omitempty"`
	}
	var req abortRequest
	// The body is optional for abort.
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.Sessions.Abort(r.Context(), urlParam(r, "id"), req.RequestedBy)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ResumeSession handles POST /sessions/{id}/resume.
func (h *Handlers) ResumeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Resume(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

// GetSessionLogs handles GET /sessions/{id}/logs?stream=stdout&limit=100.
func (h *Handlers) GetSessionLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	lines, err := h.Sessions.Logs(r.Context(), urlParam(r, "id"), r.URL.Query().Get("stream"), limit)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

// ---------------------------------------------------------------------------
// Targets
// ---------------------------------------------------------------------------

// CreateTarget handles POST /targets.
func (h *Handlers) CreateTarget(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[target.Target](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	created, err := h.Targets.Create(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "target not found")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetTarget handles GET /targets/{id}.
func (h *Handlers) GetTarget(w http.ResponseWriter, r *http.Request) {
	t, err := h.Targets.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "target not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListTargets handles GET /targets.
func (h *Handlers) ListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.Targets.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

// UpdateTarget handles PUT /targets/{id}.
func (h *Handlers) UpdateTarget(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[target.UpdateRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	t, err := h.Targets.Update(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "target not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTarget handles DELETE /targets/{id}.
func (h *Handlers) DeleteTarget(w http.ResponseWriter, r *http.Request) {
	if err := h.Targets.Delete(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "target not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTargetQueue handles GET /targets/{id}/queue.
func (h *Handlers) GetTargetQueue(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, err := h.Targets.Get(r.Context(), id); err != nil {
		writeDomainError(w, err, "target not found")
		return
	}

	snap, err := h.Queues.Snapshot(r.Context(), id)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ---------------------------------------------------------------------------
// Providers and health
// ---------------------------------------------------------------------------

// ListProviders handles GET /providers: registered runners, git providers
// and notifiers.
func (h *Handlers) ListProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"runners":       sandbox.Available(),
		"git_providers": gitprovider.Available(),
		"notifiers":     notifier.Available(),
	})
}

// ListProvidersByKind handles GET /providers/{kind} for kinds "sandbox",
// "git" and "notify".
func (h *Handlers) ListProvidersByKind(w http.ResponseWriter, r *http.Request) {
	var names []string
	switch kind := urlParam(r, "kind"); kind {
	case "sandbox":
		names = sandbox.Available()
	case "git":
		names = gitprovider.Available()
	case "notify":
		names = notifier.Available()
	default:
		writeError(w, http.StatusNotFound, "unknown provider kind")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"providers": names})
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if h.Healthy != nil && !h.Healthy() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}
