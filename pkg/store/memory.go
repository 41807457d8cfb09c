package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/71lols/paradigm-website/pkg/models"
)

// Memory implements Store behind one mutex. The mutex is the driver's
// transaction primitive: activation's read-deactivate-activate sequence
// runs under a single critical section, so concurrent activations
// serialize exactly like competing store transactions.
type Memory struct {
	mu         sync.Mutex
	contexts   map[string]models.Context
	categories map[string]models.Category
	activities map[string]models.Activity
	users      map[string]models.User
}

func NewMemory() *Memory {
	return &Memory{
		contexts:   map[string]models.Context{},
		categories: map[string]models.Category{},
		activities: map[string]models.Activity{},
		users:      map[string]models.User{},
	}
}

func (m *Memory) CreateContext(ctx context.Context, c models.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[c.ID]; ok {
		return ErrDuplicate
	}
	m.contexts[c.ID] = c
	return nil
}

func (m *Memory) GetContext(ctx context.Context, id string) (models.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return models.Context{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListContexts(ctx context.Context, ownerID string, f models.ContextFilters) ([]models.Context, error) {
	f = f.Normalize()
	m.mu.Lock()
	matched := make([]models.Context, 0)
	for _, c := range m.contexts {
		if c.OwnerID != ownerID {
			continue
		}
		if f.Category != "" && c.Category != f.Category {
			continue
		}
		if f.IsActive != nil && c.IsActive != *f.IsActive {
			continue
		}
		if !c.MatchesSearch(f.Search) {
			continue
		}
		matched = append(matched, c)
	}
	m.mu.Unlock()
	models.SortContexts(matched, f)
	if f.Offset >= len(matched) {
		return []models.Context{}, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (m *Memory) UpdateContext(ctx context.Context, id string, upd models.ContextUpdate, now time.Time) (models.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return models.Context{}, ErrNotFound
	}
	if upd.Title != nil {
		c.Title = *upd.Title
	}
	if upd.Description != nil {
		c.Description = *upd.Description
	}
	if upd.Category != nil {
		c.Category = *upd.Category
	}
	if upd.Color != nil {
		c.Color = *upd.Color
	}
	if upd.Settings != nil {
		c.Settings = *upd.Settings
	}
	c.UpdatedAt = now
	m.contexts[id] = c
	return c, nil
}

func (m *Memory) DeleteContext(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[id]; !ok {
		return ErrNotFound
	}
	delete(m.contexts, id)
	return nil
}

func (m *Memory) CountContextsByCategory(ctx context.Context, ownerID, category string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.contexts {
		if c.OwnerID == ownerID && c.Category == category {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ActivateContext(ctx context.Context, ownerID, id string, now time.Time) (models.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.contexts[id]
	if !ok || target.OwnerID != ownerID {
		return models.Context{}, ErrNotFound
	}
	for otherID, other := range m.contexts {
		if otherID == id || other.OwnerID != ownerID || !other.IsActive {
			continue
		}
		other.IsActive = false
		other.UpdatedAt = now
		m.contexts[otherID] = other
	}
	target.IsActive = true
	target.LastUsed = now
	target.UpdatedAt = now
	m.contexts[id] = target
	return target, nil
}

func (m *Memory) DeactivateContext(ctx context.Context, id string, now time.Time) (models.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return models.Context{}, ErrNotFound
	}
	if c.IsActive {
		c.IsActive = false
		c.UpdatedAt = now
		m.contexts[id] = c
	}
	return c, nil
}

func (m *Memory) CreateCategory(ctx context.Context, c models.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[c.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range m.categories {
		if existing.OwnerID == c.OwnerID && existing.Name == c.Name {
			return ErrDuplicate
		}
	}
	m.categories[c.ID] = c
	return nil
}

func (m *Memory) GetCategory(ctx context.Context, id string) (models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return models.Category{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListCategories(ctx context.Context, ownerID string) ([]models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Category, 0)
	for _, c := range m.categories {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) CategoryNameExists(ctx context.Context, ownerID, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.categories {
		if c.OwnerID == ownerID && c.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) DeleteCategory(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[id]; !ok {
		return ErrNotFound
	}
	delete(m.categories, id)
	return nil
}

func (m *Memory) CreateActivity(ctx context.Context, a models.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.activities[a.ID]; ok {
		return ErrDuplicate
	}
	m.activities[a.ID] = a
	return nil
}

func (m *Memory) GetActivity(ctx context.Context, id string) (models.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activities[id]
	if !ok {
		return models.Activity{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) ListActivities(ctx context.Context, ownerID string) ([]models.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Activity, 0)
	for _, a := range m.activities {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sortActivitiesNewestFirst(out)
	return out, nil
}

func (m *Memory) UpdateActivity(ctx context.Context, id string, upd models.ActivityUpdate, now time.Time) (models.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activities[id]
	if !ok {
		return models.Activity{}, ErrNotFound
	}
	applyActivityUpdate(&a, upd)
	a.UpdatedAt = now
	m.activities[id] = a
	return a, nil
}

func (m *Memory) DeleteActivity(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.activities[id]; !ok {
		return ErrNotFound
	}
	delete(m.activities, id)
	return nil
}

func (m *Memory) SetActivityStarred(ctx context.Context, id string, starred bool, now time.Time) (models.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activities[id]
	if !ok {
		return models.Activity{}, ErrNotFound
	}
	a.IsStarred = starred
	a.UpdatedAt = now
	m.activities[id] = a
	return a, nil
}

func (m *Memory) CreateUser(ctx context.Context, u models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrDuplicate
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (m *Memory) UpdateUser(ctx context.Context, id string, upd models.UserUpdate, now time.Time) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	if upd.DisplayName != nil {
		u.DisplayName = *upd.DisplayName
	}
	if upd.Preferences != nil {
		u.Preferences = *upd.Preferences
	}
	u.UpdatedAt = now
	m.users[id] = u
	return u, nil
}

func (m *Memory) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func applyActivityUpdate(a *models.Activity, upd models.ActivityUpdate) {
	if upd.Title != nil {
		a.Title = *upd.Title
	}
	if upd.Description != nil {
		a.Description = *upd.Description
	}
	if upd.Tags != nil {
		a.Tags = *upd.Tags
	}
	if upd.IsStarred != nil {
		a.IsStarred = *upd.IsStarred
	}
	if upd.Summary != nil {
		a.Summary = *upd.Summary
	}
	if upd.Notes != nil {
		a.Notes = *upd.Notes
	}
	if upd.Transcript != nil {
		a.Transcript = *upd.Transcript
	}
	if upd.AudioURL != nil {
		a.AudioURL = *upd.AudioURL
	}
}

func sortActivitiesNewestFirst(activities []models.Activity) {
	sort.SliceStable(activities, func(i, j int) bool {
		return activities[i].CreatedAt.After(activities[j].CreatedAt)
	})
}
