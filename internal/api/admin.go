package api

import (
	"encoding/json"
	"net/http"

	"palaver/internal/auth"
	"palaver/internal/models"
	"palaver/internal/storage"

	"github.com/google/uuid"
)

// AdminHandler provisions users synced from the upstream identity system
// and issues their bearer tokens. It is only reachable on the admin
// listener.
type AdminHandler struct {
	auth  *auth.Service
	store *storage.Store
}

func NewAdminHandler(auth *auth.Service, store *storage.Store) *AdminHandler {
	return &AdminHandler{auth: auth, store: store}
}

type ProvisionUserRequest struct {
	ID          string      `json:"id,omitempty"`
	DisplayName string      `json:"displayName"`
	Role        models.Role `json:"role,omitempty"`
	AvatarURL   string      `json:"avatarUrl,omitempty"`
}

type ProvisionUserResponse struct {
	models.APIResponse
	UserID string `json:"userId,omitempty"`
	Token  string `json:"token,omitempty"`
}

func (h *AdminHandler) ProvisionUserHandler(w http.ResponseWriter, r *http.Request) {
	var req ProvisionUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.DisplayName == "" {
		http.Error(w, "displayName is required", http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = models.RoleOrdinary
	}
	if req.Role != models.RoleOrdinary && req.Role != models.RoleStaff {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	user := models.User{
		ID:          req.ID,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		AvatarURL:   req.AvatarURL,
	}
	if err := h.store.UpsertUser(user); err != nil {
		writeError(w, err)
		return
	}

	token, err := h.auth.Issue(user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, ProvisionUserResponse{
		APIResponse: models.APIResponse{Success: true},
		UserID:      user.ID,
		Token:       token,
	})
}
