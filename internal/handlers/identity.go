package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/humanreel/backend/internal/identity"
	"github.com/humanreel/backend/internal/logging"
	"github.com/humanreel/backend/internal/models"
)

// AdminTokenHeader authorizes administrative account changes.
const AdminTokenHeader = "X-Admin-Token"

// IdentityHandler implements account verification and profile endpoints.
type IdentityHandler struct {
	Gate       IdentityGate
	Limiter    RateLimiter
	AdminToken string
}

type verifyRequest struct {
	// WorldID is accepted as the bare credential when no full proof is sent.
	WorldID           string `json:"worldId"`
	NullifierHash     string `json:"nullifier_hash"`
	MerkleRoot        string `json:"merkle_root"`
	Proof             string `json:"proof"`
	VerificationLevel string `json:"verification_level"`
	SignalHash        string `json:"signal_hash"`
	Username          string `json:"username"`
}

type verifyResponse struct {
	models.Account
	Created bool `json:"created"`
}

type renameRequest struct {
	NewUsername string `json:"newUsername"`
}

type accountResponse struct {
	Message string         `json:"message"`
	User    models.Account `json:"user"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

// Verify handles POST /api/auth/verify.
func (h IdentityHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !admit(w, r, h.Limiter, verifyScope) {
		return
	}

	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err, "Invalid request body")
		return
	}

	proof := identity.Proof{
		NullifierHash:     strings.TrimSpace(req.NullifierHash),
		MerkleRoot:        req.MerkleRoot,
		Proof:             req.Proof,
		VerificationLevel: req.VerificationLevel,
		SignalHash:        req.SignalHash,
	}
	if proof.NullifierHash == "" {
		proof.NullifierHash = strings.TrimSpace(req.WorldID)
	}
	if proof.NullifierHash == "" {
		respondMessage(ctx, w, http.StatusBadRequest, "World ID is required")
		return
	}

	account, created, err := h.Gate.Verify(ctx, proof, req.Username)
	if err != nil {
		respondError(ctx, w, err, "Verification failed")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(ctx, w, status, verifyResponse{Account: account, Created: created})
}

// GetUser handles GET /api/user/{id}.
func (h IdentityHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	account, err := h.Gate.Account(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(r.Context(), w, err, "Failed to get user")
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, account)
}

// GetUserByCredential handles GET /api/user/by-credential/{credential}.
func (h IdentityHandler) GetUserByCredential(w http.ResponseWriter, r *http.Request) {
	account, err := h.Gate.AccountByCredential(r.Context(), r.PathValue("credential"))
	if err != nil {
		respondError(r.Context(), w, err, "Failed to get user")
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, account)
}

// GetUserByName handles GET /api/user/by-name/{name}.
func (h IdentityHandler) GetUserByName(w http.ResponseWriter, r *http.Request) {
	account, err := h.Gate.AccountByDisplayName(r.Context(), r.PathValue("name"))
	if err != nil {
		respondError(r.Context(), w, err, "Failed to get user")
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, account)
}

// Rename handles POST /api/user/{id}/username.
func (h IdentityHandler) Rename(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.NewUsername) == "" {
		respondMessage(ctx, w, http.StatusBadRequest, "New username required")
		return
	}

	account, err := h.Gate.Rename(ctx, r.PathValue("id"), req.NewUsername)
	if err != nil {
		respondError(ctx, w, err, "Failed to update username")
		return
	}
	respondJSON(ctx, w, http.StatusOK, accountResponse{Message: "Username updated successfully.", User: account})
}

// GrantModerator handles POST /api/user/{id}/moderator. It is disabled unless
// an admin token is configured.
func (h IdentityHandler) GrantModerator(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.AdminToken == "" {
		respondMessage(ctx, w, http.StatusForbidden, "Moderator grants are disabled")
		return
	}
	supplied := r.Header.Get(AdminTokenHeader)
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(h.AdminToken)) != 1 {
		logger.Warn("moderator grant with invalid admin token", "accountId", r.PathValue("id"))
		respondMessage(ctx, w, http.StatusForbidden, "Admin token required")
		return
	}

	account, err := h.Gate.ElevateToModerator(ctx, r.PathValue("id"))
	if err != nil {
		respondError(ctx, w, err, "Failed to set moderator")
		return
	}
	respondJSON(ctx, w, http.StatusOK, accountResponse{Message: "User designated as moderator.", User: account})
}

// SetModeratorPassword handles POST /api/user/{id}/mod-password.
func (h IdentityHandler) SetModeratorPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err, "Invalid request body")
		return
	}

	if err := h.Gate.SetModeratorPassword(ctx, r.PathValue("id"), req.Password); err != nil {
		respondError(ctx, w, err, "Failed to set moderator password")
		return
	}
	respondMessage(ctx, w, http.StatusOK, "Moderator password set.")
}

// VerifyModeratorPassword handles POST /api/user/{id}/verify-mod-password.
func (h IdentityHandler) VerifyModeratorPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !admit(w, r, h.Limiter, modPasswordScope) {
		return
	}

	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err, "Invalid request body")
		return
	}

	valid, err := h.Gate.VerifyModeratorPassword(ctx, r.PathValue("id"), req.Password)
	if err != nil {
		respondError(ctx, w, err, "Failed to verify moderator password")
		return
	}
	if !valid {
		respondMessage(ctx, w, http.StatusForbidden, "Incorrect password.")
		return
	}
	respondMessage(ctx, w, http.StatusOK, "Password verified.")
}
