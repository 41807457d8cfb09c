package models

import (
	"sort"
	"strings"
	"time"
)

// ContextSettings is the opaque per-context configuration bag the
// dashboard round-trips. Zero values are omitted on the wire.
type ContextSettings struct {
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"maxTokens,omitempty"`
	SystemPrompt string  `json:"systemPrompt,omitempty"`
}

// Context is an owner-scoped AI context record. IsActive is mutated
// only by the activation machine; the generic update path strips it.
type Context struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"userId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Color       string          `json:"color"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	LastUsed    time.Time       `json:"lastUsed"`
	IsActive    bool            `json:"isActive"`
	Settings    ContextSettings `json:"settings"`
}

// ContextUpdate carries the caller-writable fields of a context. Nil
// means "leave unchanged". IsActive is deliberately absent.
type ContextUpdate struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Category    *string          `json:"category"`
	Color       *string          `json:"color"`
	Settings    *ContextSettings `json:"settings"`
}

type Category struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"userId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	IsDefault bool      `json:"isDefault"`
}

type Activity struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"userId"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Duration     string    `json:"duration"`
	Participants int       `json:"participants"`
	Tags         []string  `json:"tags"`
	Status       string    `json:"status"`
	Type         string    `json:"type"`
	IsStarred    bool      `json:"isStarred"`
	Timestamp    time.Time `json:"timestamp"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Summary      string    `json:"summary,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	Transcript   string    `json:"transcript,omitempty"`
	AudioURL     string    `json:"audioUrl,omitempty"`
}

const (
	ActivityStatusCompleted  = "completed"
	ActivityStatusProcessing = "processing"
	ActivityStatusFailed     = "failed"
)

var activityTypes = map[string]struct{}{
	"meeting":    {},
	"call":       {},
	"voice-note": {},
	"interview":  {},
}

func ValidActivityType(t string) bool {
	_, ok := activityTypes[t]
	return ok
}

// ActivityUpdate carries the caller-writable activity fields; nil
// leaves a field unchanged.
type ActivityUpdate struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
	IsStarred   *bool     `json:"isStarred"`
	Summary     *string   `json:"summary"`
	Notes       *string   `json:"notes"`
	Transcript  *string   `json:"transcript"`
	AudioURL    *string   `json:"audioUrl"`
}

// UserUpdate carries the caller-writable profile fields.
type UserUpdate struct {
	DisplayName *string          `json:"displayName"`
	Preferences *UserPreferences `json:"preferences"`
}

type UserPreferences struct {
	Notifications bool   `json:"notifications"`
	Theme         string `json:"theme"`
}

type User struct {
	ID            string          `json:"uid"`
	Email         string          `json:"email"`
	DisplayName   string          `json:"displayName,omitempty"`
	Role          string          `json:"role"`
	EmailVerified bool            `json:"emailVerified"`
	PasswordHash  string          `json:"-"`
	Preferences   UserPreferences `json:"preferences"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// ContextFilters narrows and orders a context listing.
type ContextFilters struct {
	Category  string
	Search    string
	IsActive  *bool
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

var contextSortFields = map[string]struct{}{
	"title":     {},
	"lastUsed":  {},
	"createdAt": {},
	"updatedAt": {},
}

// Normalize clamps pagination and falls back to the default ordering
// the dashboard expects (updatedAt descending).
func (f ContextFilters) Normalize() ContextFilters {
	if _, ok := contextSortFields[f.SortBy]; !ok {
		f.SortBy = "updatedAt"
	}
	if f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// MatchesSearch reports whether the context matches a case-insensitive
// title/description substring search.
func (c Context) MatchesSearch(search string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	return strings.Contains(strings.ToLower(c.Title), needle) ||
		strings.Contains(strings.ToLower(c.Description), needle)
}

// SortContexts orders in place per the normalized filters.
func SortContexts(contexts []Context, f ContextFilters) {
	asc := f.SortOrder == "asc"
	sort.SliceStable(contexts, func(i, j int) bool {
		var less bool
		switch f.SortBy {
		case "title":
			less = contexts[i].Title < contexts[j].Title
		case "lastUsed":
			less = contexts[i].LastUsed.Before(contexts[j].LastUsed)
		case "createdAt":
			less = contexts[i].CreatedAt.Before(contexts[j].CreatedAt)
		default:
			less = contexts[i].UpdatedAt.Before(contexts[j].UpdatedAt)
		}
		if asc {
			return less
		}
		return !less
	})
}
