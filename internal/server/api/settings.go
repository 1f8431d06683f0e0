package api

import (
	"errors"
	"net/http"

	"github.com/ayusman/kinesis/internal/control"
	"github.com/ayusman/kinesis/internal/store"
)

// SettingsHandler serves /api/settings. A saved control law is reported
// through OnChange; the enabled flag goes to onEnabled.
type SettingsHandler struct {
	store      *store.Store
	defaultLaw control.Law
	onEnabled  func(bool)
	onChange   func()
}

// NewSettingsHandler creates a SettingsHandler. defaultLaw is reported
// until a law is saved. onEnabled may be nil.
func NewSettingsHandler(s *store.Store, defaultLaw control.Law, onEnabled func(bool)) *SettingsHandler {
	return &SettingsHandler{store: s, defaultLaw: defaultLaw, onEnabled: onEnabled}
}

// OnChange sets the callback run after a new control law is saved.
func (h *SettingsHandler) OnChange(fn func()) {
	h.onChange = fn
}

type settingsResponse struct {
	Law     control.Law `json:"law"`
	Enabled bool        `json:"enabled"`
}

type settingsRequest struct {
	Law     *control.Law `json:"law"`
	Enabled *bool        `json:"enabled"`
}

// ServeHTTP handles GET and PUT.
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.put(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SettingsHandler) current() (settingsResponse, error) {
	law, err := h.store.Settings().Law()
	if errors.Is(err, store.ErrNotFound) {
		law, err = h.defaultLaw, nil
	}
	if err != nil {
		return settingsResponse{}, err
	}

	enabled, err := h.store.Settings().Enabled()
	if err != nil {
		return settingsResponse{}, err
	}
	return settingsResponse{Law: law, Enabled: enabled}, nil
}

func (h *SettingsHandler) get(w http.ResponseWriter, r *http.Request) {
	resp, err := h.current()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read settings")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SettingsHandler) put(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Law != nil {
		if err := req.Law.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.store.Settings().SetLaw(*req.Law); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save control law")
			return
		}
		if h.onChange != nil {
			h.onChange()
		}
	}

	if req.Enabled != nil {
		if err := h.store.Settings().SetEnabled(*req.Enabled); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save enabled flag")
			return
		}
		if h.onEnabled != nil {
			h.onEnabled(*req.Enabled)
		}
	}

	h.get(w, r)
}
