package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/71lols/paradigm-website/pkg/auth"
	"github.com/71lols/paradigm-website/pkg/events"
	"github.com/71lols/paradigm-website/pkg/httpx"
	"github.com/71lols/paradigm-website/pkg/models"
	"github.com/71lols/paradigm-website/pkg/store"
)

func (s *Server) listContexts(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	q := r.URL.Query()
	filters := models.ContextFilters{
		Category:  q.Get("category"),
		Search:    q.Get("search"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}
	if raw := q.Get("isActive"); raw != "" {
		active := raw == "true"
		filters.IsActive = &active
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filters.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filters.Offset = n
		}
	}
	contexts, err := s.Store.ListContexts(r.Context(), p.Subject, filters)
	if err != nil {
		s.logf("context list failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.Success(w, http.StatusOK, map[string]any{
		"contexts": contexts,
		"count":    len(contexts),
	}, "")
}

func (s *Server) createContext(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	var req struct {
		Title       string                 `json:"title"`
		Description string                 `json:"description"`
		Category    string                 `json:"category"`
		Color       string                 `json:"color"`
		Settings    models.ContextSettings `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		httpx.Error(w, http.StatusBadRequest, "title is required")
		return
	}
	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = "Personal"
	}
	now := s.now()
	c := models.Context{
		ID:          uuid.NewString(),
		OwnerID:     p.Subject,
		Title:       title,
		Description: req.Description,
		Category:    category,
		Color:       req.Color,
		CreatedAt:   now,
		UpdatedAt:   now,
		LastUsed:    now,
		Settings:    req.Settings,
	}
	if err := s.Store.CreateContext(r.Context(), c); err != nil {
		s.logf("context create failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.publish(r, events.Event{
		Type:      events.TypeContextCreated,
		OwnerID:   p.Subject,
		Resource:  c.ID,
		Timestamp: now,
	})
	httpx.Success(w, http.StatusCreated, c, "context created")
}

// fetchOwnedContext resolves the target and runs the ownership guard,
// nonexistence first.
func (s *Server) fetchOwnedContext(r *http.Request, p auth.Principal) (models.Context, error) {
	id := chi.URLParam(r, "id")
	c, err := s.Store.GetContext(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Context{}, errNotFound("context not found")
	}
	if err != nil {
		return models.Context{}, err
	}
	if err := auth.RequireOwner(p, c.OwnerID); err != nil {
		return models.Context{}, err
	}
	return c, nil
}

func (s *Server) getContext(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	c, err := s.fetchOwnedContext(r, p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, c, "")
}

func (s *Server) updateContext(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	c, err := s.fetchOwnedContext(r, p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// ContextUpdate has no isActive field: a caller-supplied flag is
	// dropped at decode and only the activation routes mutate it
	var upd models.ContextUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		httpx.Error(w, http.StatusBadRequest, "title must not be empty")
		return
	}
	updated, err := s.Store.UpdateContext(r.Context(), c.ID, upd, s.now())
	if err != nil {
		s.logf("context update failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.Success(w, http.StatusOK, updated, "context updated")
}

func (s *Server) deleteContext(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	c, err := s.fetchOwnedContext(r, p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.Store.DeleteContext(r.Context(), c.ID); err != nil {
		s.logf("context delete failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.publish(r, events.Event{
		Type:      events.TypeContextDeleted,
		OwnerID:   p.Subject,
		Resource:  c.ID,
		Timestamp: s.now(),
	})
	httpx.Success(w, http.StatusOK, nil, "context deleted")
}

func (s *Server) useContext(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	updated, err := s.Machine.Activate(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, updated, "context activated")
}

func (s *Server) deactivateContext(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	updated, err := s.Machine.Deactivate(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, updated, "context deactivated")
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	persisted, err := s.Store.ListCategories(r.Context(), p.Subject)
	if err != nil {
		s.logf("category list failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	merged := models.MergeDefaultCategories(p.Subject, persisted, s.now())
	httpx.Success(w, http.StatusOK, map[string]any{"categories": merged}, "")
}

func (s *Server) createCategory(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		httpx.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if models.IsDefaultCategoryName(name) {
		httpx.Error(w, http.StatusConflict, "a category with this name already exists")
		return
	}
	exists, err := s.Store.CategoryNameExists(r.Context(), p.Subject, name)
	if err != nil {
		s.logf("category lookup failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if exists {
		httpx.Error(w, http.StatusConflict, "a category with this name already exists")
		return
	}
	c := models.Category{
		ID:        uuid.NewString(),
		OwnerID:   p.Subject,
		Name:      name,
		CreatedAt: s.now(),
	}
	err = s.Store.CreateCategory(r.Context(), c)
	if errors.Is(err, store.ErrDuplicate) {
		// lost a create race after the existence check
		httpx.Error(w, http.StatusConflict, "a category with this name already exists")
		return
	}
	if err != nil {
		s.logf("category create failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.Success(w, http.StatusCreated, c, "category created")
}

func (s *Server) deleteCategory(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "id")
	c, err := s.Store.GetCategory(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, http.StatusNotFound, "category not found")
		return
	}
	if err != nil {
		s.logf("category load failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := auth.RequireOwner(p, c.OwnerID); err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	if c.IsDefault || models.IsDefaultCategoryName(c.Name) {
		httpx.Error(w, http.StatusBadRequest, "default categories cannot be deleted")
		return
	}
	inUse, err := s.Store.CountContextsByCategory(r.Context(), p.Subject, c.Name)
	if err != nil {
		s.logf("category usage check failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if inUse > 0 {
		httpx.Error(w, http.StatusBadRequest, "category is in use by existing contexts")
		return
	}
	if err := s.Store.DeleteCategory(r.Context(), id); err != nil {
		s.logf("category delete failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.Success(w, http.StatusOK, nil, "category deleted")
}
