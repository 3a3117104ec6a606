package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/ledgerguard/internal/auth"
	"github.com/BradenHooton/ledgerguard/internal/models"
	pkghttp "github.com/BradenHooton/ledgerguard/pkg/http"
)

// AccountAdminService defines the admin operations on accounts
type AccountAdminService interface {
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpdateStatus(ctx context.Context, actorID, targetID string, status models.AccountStatus) (*models.User, error)
	Unlock(ctx context.Context, actorID, targetID string) (*models.User, error)
	DeleteUser(ctx context.Context, actorID, targetID string) error
}

// UserHandler handles user-related HTTP requests
type UserHandler struct {
	admin AccountAdminService
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(admin AccountAdminService) *UserHandler {
	return &UserHandler{admin: admin}
}

// UpdateStatusRequest represents the request body for an admin status change
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active suspended inactive"`
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Name                string     `json:"name"`
	Role                string     `json:"role"`
	Status              string     `json:"status"`
	EmailVerified       bool       `json:"email_verified"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	CreatedAt           string     `json:"created_at"`
	UpdatedAt           string     `json:"updated_at"`
}

// ListUsersResponse represents a page of users
type ListUsersResponse struct {
	Users  []*UserResponse `json:"users"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// userModelToResponse converts a user model to a response DTO
func userModelToResponse(user *models.User) *UserResponse {
	if user == nil {
		return nil
	}
	return &UserResponse{
		ID:                  user.ID,
		Email:               user.Email,
		Name:                user.Name,
		Role:                user.Role,
		Status:              string(user.Status),
		EmailVerified:       user.EmailVerified(),
		FailedLoginAttempts: user.FailedLoginAttempts,
		LockedUntil:         user.LockedUntil,
		LastLoginAt:         user.LastLoginAt,
		CreatedAt:           user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           user.UpdatedAt.Format(time.RFC3339),
	}
}

// Me returns the signed-in account as loaded by the status middleware
// @Summary Current user
// @Security BearerAuth
// @Produce json
// @Success 200 {object} UserResponse
// @Router /me [get]
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAccountFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, userModelToResponse(user))
}

// ListUsers retrieves a page of accounts (admin only)
// @Summary List users
// @Param limit query int false "Limit (default 20, max 100)"
// @Param offset query int false "Offset (default 0)"
// @Produce json
// @Success 200 {object} ListUsersResponse
// @Router /admin/users [get]
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 20)

	users, err := h.admin.ListUsers(r.Context(), limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp := ListUsersResponse{Users: make([]*UserResponse, 0, len(users)), Limit: limit, Offset: offset}
	for _, u := range users {
		resp.Users = append(resp.Users, userModelToResponse(u))
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// GetUser retrieves one account (admin only)
// @Summary Get user by ID
// @Param id path string true "User ID"
// @Produce json
// @Success 200 {object} UserResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /admin/users/{id} [get]
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.admin.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAdminError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, userModelToResponse(user))
}

// UpdateStatus changes an account's status (admin only)
// @Summary Set account status
// @Accept json
// @Param id path string true "User ID"
// @Param request body UpdateStatusRequest true "New status"
// @Produce json
// @Success 200 {object} UserResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 403 {object} pkghttp.ErrorResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /admin/users/{id}/status [patch]
func (h *UserHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req UpdateStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.admin.UpdateStatus(r.Context(), claims.UserID, chi.URLParam(r, "id"), models.AccountStatus(req.Status))
	if err != nil {
		writeAdminError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, userModelToResponse(user))
}

// Unlock clears an account's lockout (admin only)
// @Summary Unlock account
// @Param id path string true "User ID"
// @Produce json
// @Success 200 {object} UserResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /admin/users/{id}/unlock [post]
func (h *UserHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	user, err := h.admin.Unlock(r.Context(), claims.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeAdminError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, userModelToResponse(user))
}

// DeleteUser soft-deletes an account (admin only)
// @Summary Delete user
// @Param id path string true "User ID"
// @Success 204
// @Failure 403 {object} pkghttp.ErrorResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /admin/users/{id} [delete]
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.admin.DeleteUser(r.Context(), claims.UserID, chi.URLParam(r, "id")); err != nil {
		writeAdminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "User not found")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, err.Error())
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// pagination reads limit and offset query parameters. Out-of-range values
// fall back to the defaults.
func pagination(r *http.Request, defaultLimit int) (int, int) {
	limit, offset := defaultLimit, 0
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}
