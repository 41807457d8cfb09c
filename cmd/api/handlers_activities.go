package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/71lols/paradigm-website/pkg/auth"
	"github.com/71lols/paradigm-website/pkg/events"
	"github.com/71lols/paradigm-website/pkg/httpx"
	"github.com/71lols/paradigm-website/pkg/models"
	"github.com/71lols/paradigm-website/pkg/store"
)

func (s *Server) listActivities(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	activities, err := s.Store.ListActivities(r.Context(), p.Subject)
	if err != nil {
		s.logf("activity list failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.Success(w, http.StatusOK, map[string]any{
		"activities": activities,
		"count":      len(activities),
	}, "")
}

func (s *Server) createActivity(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	var req struct {
		Title        string    `json:"title"`
		Description  string    `json:"description"`
		Duration     string    `json:"duration"`
		Participants int       `json:"participants"`
		Tags         []string  `json:"tags"`
		Type         string    `json:"type"`
		Timestamp    time.Time `json:"timestamp"`
		Summary      string    `json:"summary"`
		Notes        string    `json:"notes"`
		Transcript   string    `json:"transcript"`
		AudioURL     string    `json:"audioUrl"`
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
	if !models.ValidActivityType(req.Type) {
		httpx.Error(w, http.StatusBadRequest, "unknown activity type")
		return
	}
	now := s.now()
	occurred := req.Timestamp
	if occurred.IsZero() {
		occurred = now
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	a := models.Activity{
		ID:           uuid.NewString(),
		OwnerID:      p.Subject,
		Title:        title,
		Description:  req.Description,
		Duration:     req.Duration,
		Participants: req.Participants,
		Tags:         tags,
		Status:       models.ActivityStatusCompleted,
		Type:         req.Type,
		Timestamp:    occurred,
		CreatedAt:    now,
		UpdatedAt:    now,
		Summary:      req.Summary,
		Notes:        req.Notes,
		Transcript:   req.Transcript,
		AudioURL:     req.AudioURL,
	}
	if err := s.Store.CreateActivity(r.Context(), a); err != nil {
		s.logf("activity create failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.publish(r, events.Event{
		Type:      events.TypeActivityCreated,
		OwnerID:   p.Subject,
		Resource:  a.ID,
		Timestamp: now,
	})
	httpx.Success(w, http.StatusCreated, a, "activity created")
}

func (s *Server) fetchOwnedActivity(r *http.Request, p auth.Principal) (models.Activity, error) {
	id := chi.URLParam(r, "id")
	a, err := s.Store.GetActivity(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Activity{}, errNotFound("activity not found")
	}
	if err != nil {
		return models.Activity{}, err
	}
	if err := auth.RequireOwner(p, a.OwnerID); err != nil {
		return models.Activity{}, err
	}
	return a, nil
}

func (s *Server) getActivity(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	a, err := s.fetchOwnedActivity(r, p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, a, "")
}

func (s *Server) updateActivity(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	a, err := s.fetchOwnedActivity(r, p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var upd models.ActivityUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		httpx.Error(w, http.StatusBadRequest, "title must not be empty")
		return
	}
	updated, err := s.Store.UpdateActivity(r.Context(), a.ID, upd, s.now())
	if err != nil {
		s.logf("activity update failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.Success(w, http.StatusOK, updated, "activity updated")
}

func (s *Server) deleteActivity(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	a, err := s.fetchOwnedActivity(r, p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.Store.DeleteActivity(r.Context(), a.ID); err != nil {
		s.logf("activity delete failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.Success(w, http.StatusOK, nil, "activity deleted")
}

// starActivity flips the starred flag unless the caller pins it with an
// explicit value.
func (s *Server) starActivity(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	a, err := s.fetchOwnedActivity(r, p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		IsStarred *bool `json:"isStarred"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	starred := !a.IsStarred
	if req.IsStarred != nil {
		starred = *req.IsStarred
	}
	updated, err := s.Store.SetActivityStarred(r.Context(), a.ID, starred, s.now())
	if err != nil {
		s.logf("activity star failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.Success(w, http.StatusOK, updated, "activity updated")
}
