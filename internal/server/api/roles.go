package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ayusman/kinesis/internal/detector"
	"github.com/ayusman/kinesis/internal/store"
)

// RoleHandler serves /api/roles. Every successful change is reported
// through OnChange so the pipeline can rebuild its role table.
type RoleHandler struct {
	store    *store.Store
	onChange func()
}

// NewRoleHandler creates a RoleHandler backed by s.
func NewRoleHandler(s *store.Store) *RoleHandler {
	return &RoleHandler{store: s}
}

// OnChange sets the callback run after a role is created, updated or
// deleted.
func (h *RoleHandler) OnChange(fn func()) {
	h.onChange = fn
}

func (h *RoleHandler) changed() {
	if h.onChange != nil {
		h.onChange()
	}
}

// ServeHTTP routes /api/roles and /api/roles/{id}.
func (h *RoleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/roles")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type roleRequest struct {
	Name       string  `json:"name"`
	Handedness string  `json:"handedness"`
	Gated      *bool   `json:"gated"`
	Sink       string  `json:"sink"`
	OutLow     float64 `json:"out_low"`
	OutHigh    float64 `json:"out_high"`
}

type roleResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Handedness string  `json:"handedness"`
	Gated      bool    `json:"gated"`
	Sink       string  `json:"sink"`
	OutLow     float64 `json:"out_low"`
	OutHigh    float64 `json:"out_high"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

type listRolesResponse struct {
	Roles []roleResponse `json:"roles"`
}

func toRoleResponse(b *store.RoleBinding) roleResponse {
	return roleResponse{
		ID:         b.ID,
		Name:       b.Name,
		Handedness: b.Handedness,
		Gated:      b.Gated,
		Sink:       b.Sink,
		OutLow:     b.OutLow,
		OutHigh:    b.OutHigh,
		CreatedAt:  b.CreatedAt.Format(timeFormat),
		UpdatedAt:  b.UpdatedAt.Format(timeFormat),
	}
}

// apply checks the request and copies it onto b. Gated defaults to true.
func (req *roleRequest) apply(b *store.RoleBinding) error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("name is required")
	}
	if !detector.Handedness(req.Handedness).Valid() {
		return fmt.Errorf("handedness must be %q or %q", detector.Left, detector.Right)
	}
	if req.Sink == "" && !(req.OutLow < req.OutHigh) {
		return errors.New("out_low must be less than out_high for roles without a sink")
	}

	b.Name = req.Name
	b.Handedness = req.Handedness
	b.Gated = req.Gated == nil || *req.Gated
	b.Sink = req.Sink
	b.OutLow = req.OutLow
	b.OutHigh = req.OutHigh
	return nil
}

// list handles GET /api/roles.
func (h *RoleHandler) list(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.Roles().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list roles")
		return
	}

	response := listRolesResponse{Roles: make([]roleResponse, 0, len(roles))}
	for _, b := range roles {
		response.Roles = append(response.Roles, toRoleResponse(b))
	}
	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/roles/{id}.
func (h *RoleHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	b, err := h.store.Roles().GetByID(id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRoleResponse(b))
}

// create handles POST /api/roles.
func (h *RoleHandler) create(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	b := &store.RoleBinding{}
	if err := req.apply(b); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Roles().Create(b); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.changed()
	writeJSON(w, http.StatusCreated, toRoleResponse(b))
}

// update handles PUT /api/roles/{id}.
func (h *RoleHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	b, err := h.store.Roles().GetByID(id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.apply(b); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Roles().Update(b); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.changed()
	writeJSON(w, http.StatusOK, toRoleResponse(b))
}

// delete handles DELETE /api/roles/{id}.
func (h *RoleHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Roles().Delete(id); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.changed()
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoleHandler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Role not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "Role name or handedness already bound")
	default:
		writeError(w, http.StatusInternalServerError, "Failed to access roles")
	}
}
