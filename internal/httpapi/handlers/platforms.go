package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"platformd/backend/internal/apperrors"
	"platformd/backend/internal/httpapi/response"
	"platformd/backend/internal/lifecycle"
	"platformd/backend/internal/models"
	"platformd/backend/internal/platform"
)

// PlatformHandler serves /api/platform/{kind} for every registered kind.
type PlatformHandler struct {
	Registry *platform.Registry
	Ctrl     *lifecycle.Controller
}

func NewPlatformHandler(registry *platform.Registry, ctrl *lifecycle.Controller) *PlatformHandler {
	return &PlatformHandler{Registry: registry, Ctrl: ctrl}
}

func (h *PlatformHandler) kind(w http.ResponseWriter, r *http.Request) (platform.Kind, bool) {
	name := chi.URLParam(r, "kind")
	kind, ok := h.Registry.Lookup(name)
	if !ok {
		response.Fail(w, apperrors.WithDetail(apperrors.ErrResourceNotFound, "unknown platform kind %q", name))
		return nil, false
	}
	return kind, true
}

// target resolves {kind} and {id} to a platform visible in the request's project scope.
func (h *PlatformHandler) target(w http.ResponseWriter, r *http.Request) (platform.Kind, models.Platform, bool) {
	kind, ok := h.kind(w, r)
	if !ok {
		return nil, nil, false
	}
	id, ok := pathID(w, r)
	if !ok {
		return nil, nil, false
	}
	p, err := h.Ctrl.Load(r.Context(), kind, id)
	if err == nil && !inScope(r, p.Common().ProjectID) {
		err = notFound(kind.Name()+" platform", id)
	}
	if err != nil {
		response.Fail(w, err)
		return nil, nil, false
	}
	return kind, p, true
}

func (h *PlatformHandler) List(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	items, err := h.Ctrl.List(r.Context(), kind, scopeFilter(r))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, items)
}

func (h *PlatformHandler) Create(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	p := kind.New()
	if !decodeBody(w, r, p) {
		return
	}
	base := p.Common()
	base.Base = models.Base{}
	projectID, err := scopedProject(r, base.ProjectID)
	if err != nil {
		response.Fail(w, err)
		return
	}
	base.ProjectID = projectID

	if err := h.Ctrl.Create(r.Context(), kind, p); err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, p)
}

func (h *PlatformHandler) Get(w http.ResponseWriter, r *http.Request) {
	_, p, ok := h.target(w, r)
	if !ok {
		return
	}
	response.JSON(w, http.StatusOK, p)
}

// Update applies the body onto the stored record. Identity and project are fixed.
func (h *PlatformHandler) Update(w http.ResponseWriter, r *http.Request) {
	kind, p, ok := h.target(w, r)
	if !ok {
		return
	}
	base := p.Common()
	identity, projectID := base.Base, base.ProjectID
	if !decodeBody(w, r, p) {
		return
	}
	if base.ProjectID != projectID {
		response.Fail(w, apperrors.Validation("project_id", "project_id cannot be changed"))
		return
	}
	base.Base = identity

	if err := h.Ctrl.Update(r.Context(), kind, p); err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, p)
}

func (h *PlatformHandler) Delete(w http.ResponseWriter, r *http.Request) {
	kind, p, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.Ctrl.Delete(r.Context(), kind, p.Common().ID, r.Header.Get(lifecycle.HeaderResourceName)); err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"message": kind.Name() + " platform deleted"})
}

func (h *PlatformHandler) GetState(w http.ResponseWriter, r *http.Request) {
	kind, p, ok := h.target(w, r)
	if !ok {
		return
	}
	st, err := h.Ctrl.State(r.Context(), kind, p.Common().ID)
	if err != nil {
		response.Fail(w, err)
		return
	}
	if st == nil {
		response.JSON(w, http.StatusOK, map[string]any{})
		return
	}
	response.JSON(w, http.StatusOK, st)
}

// PostState takes a partial state. Fields other than active, message and extra_data are ignored.
func (h *PlatformHandler) PostState(w http.ResponseWriter, r *http.Request) {
	kind, p, ok := h.target(w, r)
	if !ok {
		return
	}
	var patch lifecycle.StatePatch
	body, err := io.ReadAll(r.Body)
	if err == nil && len(body) > 0 {
		err = json.Unmarshal(body, &patch)
	}
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	st, err := h.Ctrl.SetActive(r.Context(), kind, p.Common().ID, patch, r.Header.Get(lifecycle.HeaderResourceName))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, st)
}

func (h *PlatformHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	kind, p, ok := h.target(w, r)
	if !ok {
		return
	}
	st, err := h.Ctrl.Deploy(r.Context(), kind, p.Common().ID)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, st)
}

func (h *PlatformHandler) Decommission(w http.ResponseWriter, r *http.Request) {
	kind, p, ok := h.target(w, r)
	if !ok {
		return
	}
	st, err := h.Ctrl.Decommission(r.Context(), kind, p.Common().ID, r.Header.Get(lifecycle.HeaderResourceName))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, st)
}

func (h *PlatformHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	kind, p, ok := h.target(w, r)
	if !ok {
		return
	}
	st, err := h.Ctrl.PollStatus(r.Context(), kind, p.Common().ID)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, st)
}

// Manifest returns the rendered multi-document YAML without applying it.
func (h *PlatformHandler) Manifest(w http.ResponseWriter, r *http.Request) {
	kind, p, ok := h.target(w, r)
	if !ok {
		return
	}
	out, err := h.Ctrl.Manifest(r.Context(), kind, p.Common().ID)
	if err != nil {
		response.Fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, out)
}
