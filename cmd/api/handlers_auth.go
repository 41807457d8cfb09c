package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/71lols/paradigm-website/pkg/audit"
	"github.com/71lols/paradigm-website/pkg/auth"
	"github.com/71lols/paradigm-website/pkg/events"
	"github.com/71lols/paradigm-website/pkg/httpx"
	"github.com/71lols/paradigm-website/pkg/models"
	"github.com/71lols/paradigm-website/pkg/store"
)

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !validEmail(email) {
		httpx.Error(w, http.StatusBadRequest, "valid email required")
		return
	}
	if len(req.Password) < 8 {
		httpx.Error(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logf("signup hash failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	now := s.now()
	u := models.User{
		ID:            uuid.NewString(),
		Email:         email,
		DisplayName:   strings.TrimSpace(req.DisplayName),
		Role:          auth.DefaultRole,
		PasswordHash:  string(hash),
		Preferences:   models.UserPreferences{},
		CreatedAt:     now,
		UpdatedAt:     now,
		EmailVerified: false,
	}
	err = s.Store.CreateUser(r.Context(), u)
	if errors.Is(err, store.ErrDuplicate) {
		s.appendAudit(r, email, "auth.signup", "", audit.OutcomeDenied)
		httpx.Error(w, http.StatusConflict, "an account with this email already exists")
		return
	}
	if err != nil {
		s.logf("signup create failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.appendAudit(r, u.ID, "auth.signup", "", audit.OutcomeAllowed)
	httpx.Success(w, http.StatusCreated, u, "account created")
}

// resetPassword answers identically whether or not the account exists.
func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !validEmail(email) {
		httpx.Error(w, http.StatusBadRequest, "valid email required")
		return
	}
	if _, err := s.Store.GetUserByEmail(r.Context(), email); err == nil {
		s.logf("password reset requested for existing account")
	}
	s.appendAudit(r, email, "auth.reset_password", "", audit.OutcomeAllowed)
	httpx.Success(w, http.StatusAccepted, nil,
		"if an account exists for this email, recovery instructions have been sent")
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	u, err := s.Store.GetUser(r.Context(), p.Subject)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		s.logf("profile load failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.Success(w, http.StatusOK, u, "")
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	var upd models.UserUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if upd.DisplayName == nil && upd.Preferences == nil {
		httpx.Error(w, http.StatusBadRequest, "no updatable fields provided")
		return
	}
	u, err := s.Store.UpdateUser(r.Context(), p.Subject, upd, s.now())
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		s.logf("profile update failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if s.Profiles != nil {
		s.Profiles.Invalidate(r.Context(), p.Subject)
	}
	httpx.Success(w, http.StatusOK, u, "profile updated")
}

// verifyToken echoes back what the credential resolved to. The token
// already passed the required-auth middleware to get here.
func (s *Server) verifyToken(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	httpx.Success(w, http.StatusOK, map[string]any{
		"userId":        p.Subject,
		"email":         p.Email,
		"emailVerified": p.EmailVerified,
		"role":          p.EffectiveRole(),
		"claims":        p.Extra,
	}, "token is valid")
}

func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	err := s.Store.DeleteUser(r.Context(), p.Subject)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		s.logf("account delete failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if s.Profiles != nil {
		s.Profiles.Invalidate(r.Context(), p.Subject)
	}
	s.appendAudit(r, p.Subject, "auth.delete_account", "", audit.OutcomeAllowed)
	s.publish(r, events.Event{
		Type:      events.TypeAccountDeleted,
		OwnerID:   p.Subject,
		Timestamp: s.now(),
	})
	httpx.Success(w, http.StatusOK, nil, "account deleted")
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	return strings.Contains(domain, ".") && !strings.ContainsAny(email, " \t")
}
