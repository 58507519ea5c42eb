// Package api exposes a workspace over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"arbor/internal/checkpoint"
	"arbor/internal/delta"
	"arbor/internal/diff"
	"arbor/internal/element"
	"arbor/internal/errors"
	"arbor/internal/logging"
	"arbor/shared/types"

	"go.uber.org/zap"
)

// Workspace is the part of workspace.Workspace the handlers use.
type Workspace interface {
	Tree(ctx context.Context, p string, depth int) (*types.Node, error)
	ElementAt(ctx context.Context, p string, offset int) (*types.Node, error)
	Status(ctx context.Context) (*types.Status, *delta.Delta, error)
	Diff(ctx context.Context, p string) (*diff.LineDiff, error)
	DiffAll(ctx context.Context) ([]types.FileDiff, error)
	Checkpoint(ctx context.Context, message string) (*checkpoint.Checkpoint, error)
	Checkpoints() *checkpoint.Store
	CacheStats() types.CacheStats
	OpenWorkingCopy(ctx context.Context, p string, contents *string) (types.WorkingCopy, *delta.Delta, error)
	UpdateWorkingCopy(ctx context.Context, p string, contents string) (*delta.Delta, error)
	SaveWorkingCopy(p string) error
	CloseWorkingCopy(p string) error
	WorkingCopies() []types.WorkingCopy
	Events() *element.Bus
}

type Handler struct {
	ws     Workspace
	logger *logging.Logger
}

func NewHandler(ws Workspace, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{ws: ws, logger: logger}
}

// Register adds the routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("GET /api/elements", h.Tree)
	mux.HandleFunc("GET /api/element-at", h.ElementAt)
	mux.HandleFunc("GET /api/status", h.Status)
	mux.HandleFunc("GET /api/diff", h.Diff)
	mux.HandleFunc("GET /api/cache", h.Cache)

	mux.HandleFunc("GET /api/checkpoints", h.ListCheckpoints)
	mux.HandleFunc("POST /api/checkpoints", h.CreateCheckpoint)

	mux.HandleFunc("GET /api/working-copies", h.ListWorkingCopies)
	mux.HandleFunc("POST /api/working-copies", h.OpenWorkingCopy)
	mux.HandleFunc("PUT /api/working-copies", h.UpdateWorkingCopy)
	mux.HandleFunc("POST /api/working-copies/save", h.SaveWorkingCopy)
	mux.HandleFunc("DELETE /api/working-copies", h.CloseWorkingCopy)

	mux.HandleFunc("GET /api/events", h.Events)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Tree serves the model below ?path= down to ?depth= levels (default 1,
// negative for no limit).
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	depth, err := intParam(r, "depth", 1)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	node, err := h.ws.Tree(r.Context(), r.URL.Query().Get("path"), depth)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *Handler) ElementAt(w http.ResponseWriter, r *http.Request) {
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	node, err := h.ws.ElementAt(r.Context(), r.URL.Query().Get("path"), offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if node == nil {
		h.writeError(w, r, errors.NotFound("no element at offset"))
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, _, err := h.ws.Status(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Diff serves the diff of ?path=, or of every changed file without it.
func (h *Handler) Diff(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		all, err := h.ws.DiffAll(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, all)
		return
	}
	ld, err := h.ws.Diff(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, []types.FileDiff{types.FromLineDiff(p, ld)})
}

func (h *Handler) Cache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ws.CacheStats())
}

func (h *Handler) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	list, err := h.ws.Checkpoints().List()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]types.CheckpointSummary, 0, len(list))
	for _, cp := range list {
		out = append(out, summarize(cp))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req types.CheckpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.ValidationError("invalid request body", err.Error()))
		return
	}
	if req.Message == "" {
		h.writeError(w, r, errors.ValidationError("message is required", nil))
		return
	}
	cp, err := h.ws.Checkpoint(r.Context(), req.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summarize(cp))
}

func summarize(cp *checkpoint.Checkpoint) types.CheckpointSummary {
	return types.CheckpointSummary{
		ID:        cp.ID,
		Message:   cp.Message,
		CreatedAt: cp.CreatedAt,
		Files:     len(cp.Files),
		Dirs:      len(cp.Dirs),
	}
}

func (h *Handler) ListWorkingCopies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ws.WorkingCopies())
}

func (h *Handler) OpenWorkingCopy(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeWorkingCopy(w, r)
	if !ok {
		return
	}
	wc, d, err := h.ws.OpenWorkingCopy(r.Context(), req.Path, req.Contents)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.WithRequestID(r.Context()).Debug("working copy opened",
		zap.String("path", wc.Path), zap.Bool("reconciled", d != nil))
	writeJSON(w, http.StatusCreated, wc)
}

// UpdateWorkingCopy replaces the buffer and answers with the reconcile delta.
func (h *Handler) UpdateWorkingCopy(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeWorkingCopy(w, r)
	if !ok {
		return
	}
	if req.Contents == nil {
		h.writeError(w, r, errors.ValidationError("contents is required", nil))
		return
	}
	d, err := h.ws.UpdateWorkingCopy(r.Context(), req.Path, *req.Contents)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ReconcileResult{Path: req.Path, Delta: types.FromDelta(d)})
}

func (h *Handler) SaveWorkingCopy(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pathParam(w, r)
	if !ok {
		return
	}
	if err := h.ws.SaveWorkingCopy(p); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CloseWorkingCopy(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pathParam(w, r)
	if !ok {
		return
	}
	if err := h.ws.CloseWorkingCopy(p); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeWorkingCopy(w http.ResponseWriter, r *http.Request) (types.WorkingCopyRequest, bool) {
	var req types.WorkingCopyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.ValidationError("invalid request body", err.Error()))
		return req, false
	}
	if req.Path == "" {
		h.writeError(w, r, errors.ValidationError("path is required", nil))
		return req, false
	}
	return req, true
}

func (h *Handler) pathParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := r.URL.Query().Get("path")
	if p == "" {
		h.writeError(w, r, errors.ValidationError("path is required", nil))
		return "", false
	}
	return p, true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.ValidationError(name+" must be an integer", s)
	}
	return n, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *errors.Error
	if !errors.As(err, &e) {
		e = errors.Internal("internal error", err)
	}
	code := errors.CodeOf(e)
	if code >= http.StatusInternalServerError {
		h.logger.WithRequestID(r.Context()).Error("request failed", zap.Error(err))
	}
	writeJSON(w, code, e)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
