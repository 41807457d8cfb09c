package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/71lols/paradigm-website/pkg/models"
)

var memNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func newContext(id, owner, title string) models.Context {
	return models.Context{
		ID:        id,
		OwnerID:   owner,
		Title:     title,
		Category:  "Personal",
		CreatedAt: memNow,
		UpdatedAt: memNow,
	}
}

func mustCreateContext(t *testing.T, m *Memory, c models.Context) {
	t.Helper()
	if err := m.CreateContext(context.Background(), c); err != nil {
		t.Fatalf("CreateContext(%s): %v", c.ID, err)
	}
}

func TestMemoryContextCRUD(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	mustCreateContext(t, m, newContext("ctx-1", "alice", "Standup notes"))

	if err := m.CreateContext(ctx, newContext("ctx-1", "alice", "dup")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := m.GetContext(ctx, "ctx-1")
	if err != nil || got.Title != "Standup notes" {
		t.Fatalf("GetContext: %v %+v", err, got)
	}

	title := "Planning"
	later := memNow.Add(time.Hour)
	updated, err := m.UpdateContext(ctx, "ctx-1", models.ContextUpdate{Title: &title}, later)
	if err != nil {
		t.Fatalf("UpdateContext: %v", err)
	}
	if updated.Title != "Planning" || !updated.UpdatedAt.Equal(later) {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.Category != "Personal" {
		t.Fatalf("nil fields must stay untouched: %+v", updated)
	}

	if err := m.DeleteContext(ctx, "ctx-1"); err != nil {
		t.Fatalf("DeleteContext: %v", err)
	}
	if _, err := m.GetContext(ctx, "ctx-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := m.DeleteContext(ctx, "ctx-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestMemoryListContextsFilters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a := newContext("ctx-1", "alice", "Quarterly budget")
	a.Category = "Business"
	a.UpdatedAt = memNow.Add(3 * time.Hour)
	b := newContext("ctx-2", "alice", "Guitar practice")
	b.Description = "chords and budget apps"
	b.UpdatedAt = memNow.Add(2 * time.Hour)
	c := newContext("ctx-3", "alice", "Reading list")
	c.IsActive = true
	c.UpdatedAt = memNow.Add(time.Hour)
	foreign := newContext("ctx-4", "bob", "Quarterly budget")
	for _, cc := range []models.Context{a, b, c, foreign} {
		mustCreateContext(t, m, cc)
	}

	got, err := m.ListContexts(ctx, "alice", models.ContextFilters{})
	if err != nil {
		t.Fatalf("ListContexts: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 owned contexts, got %d", len(got))
	}
	if got[0].ID != "ctx-1" || got[2].ID != "ctx-3" {
		t.Fatalf("expected updatedAt desc default order, got %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}

	got, _ = m.ListContexts(ctx, "alice", models.ContextFilters{Category: "Business"})
	if len(got) != 1 || got[0].ID != "ctx-1" {
		t.Fatalf("category filter failed: %+v", got)
	}

	got, _ = m.ListContexts(ctx, "alice", models.ContextFilters{Search: "BUDGET"})
	if len(got) != 2 {
		t.Fatalf("search must match title and description, got %d", len(got))
	}

	active := true
	got, _ = m.ListContexts(ctx, "alice", models.ContextFilters{IsActive: &active})
	if len(got) != 1 || got[0].ID != "ctx-3" {
		t.Fatalf("isActive filter failed: %+v", got)
	}

	got, _ = m.ListContexts(ctx, "alice", models.ContextFilters{SortBy: "title", SortOrder: "asc", Limit: 2})
	if len(got) != 2 || got[0].ID != "ctx-2" {
		t.Fatalf("title asc with limit failed: %+v", got)
	}

	got, _ = m.ListContexts(ctx, "alice", models.ContextFilters{Offset: 10})
	if len(got) != 0 {
		t.Fatalf("out-of-range offset must return empty, got %d", len(got))
	}
}

func TestMemoryActivateContext(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	first := newContext("ctx-1", "alice", "First")
	first.IsActive = true
	mustCreateContext(t, m, first)
	mustCreateContext(t, m, newContext("ctx-2", "alice", "Second"))
	other := newContext("ctx-3", "bob", "Bob's")
	other.IsActive = true
	mustCreateContext(t, m, other)

	later := memNow.Add(time.Minute)
	activated, err := m.ActivateContext(ctx, "alice", "ctx-2", later)
	if err != nil {
		t.Fatalf("ActivateContext: %v", err)
	}
	if !activated.IsActive || !activated.LastUsed.Equal(later) {
		t.Fatalf("target not activated: %+v", activated)
	}

	prev, _ := m.GetContext(ctx, "ctx-1")
	if prev.IsActive {
		t.Fatal("previous active context must be deactivated")
	}
	bobs, _ := m.GetContext(ctx, "ctx-3")
	if !bobs.IsActive {
		t.Fatal("another owner's active context must not be touched")
	}

	if _, err := m.ActivateContext(ctx, "alice", "ctx-3", later); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign context must read as missing, got %v", err)
	}
	if _, err := m.ActivateContext(ctx, "alice", "ctx-9", later); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing context: got %v", err)
	}
}

func TestMemoryDeactivateContextIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	c := newContext("ctx-1", "alice", "First")
	c.IsActive = true
	mustCreateContext(t, m, c)

	later := memNow.Add(time.Minute)
	got, err := m.DeactivateContext(ctx, "ctx-1", later)
	if err != nil || got.IsActive {
		t.Fatalf("DeactivateContext: %v %+v", err, got)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Fatalf("expected touch on transition, got %v", got.UpdatedAt)
	}

	again, err := m.DeactivateContext(ctx, "ctx-1", later.Add(time.Hour))
	if err != nil {
		t.Fatalf("repeat DeactivateContext: %v", err)
	}
	if !again.UpdatedAt.Equal(later) {
		t.Fatal("already-inactive row must not be touched")
	}
}

func TestMemoryConcurrentActivations(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	const n = 8
	for i := 0; i < n; i++ {
		mustCreateContext(t, m, newContext(fmt.Sprintf("ctx-%d", i), "alice", "ctx"))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.ActivateContext(ctx, "alice", fmt.Sprintf("ctx-%d", i), memNow.Add(time.Duration(i)*time.Second))
			if err != nil {
				t.Errorf("ActivateContext: %v", err)
			}
		}(i)
	}
	wg.Wait()

	active := 0
	all, _ := m.ListContexts(ctx, "alice", models.ContextFilters{Limit: 100})
	for _, c := range all {
		if c.IsActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active context, got %d", active)
	}
}

func TestMemoryCategories(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	cat := models.Category{ID: "cat-1", OwnerID: "alice", Name: "Work", CreatedAt: memNow}
	if err := m.CreateCategory(ctx, cat); err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	if err := m.CreateCategory(ctx, models.Category{ID: "cat-2", OwnerID: "alice", Name: "Work"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate name for same owner must fail, got %v", err)
	}
	if err := m.CreateCategory(ctx, models.Category{ID: "cat-3", OwnerID: "bob", Name: "Work"}); err != nil {
		t.Fatalf("same name for another owner must be allowed: %v", err)
	}

	exists, _ := m.CategoryNameExists(ctx, "alice", "Work")
	if !exists {
		t.Fatal("CategoryNameExists should report the persisted name")
	}
	exists, _ = m.CategoryNameExists(ctx, "alice", "work")
	if exists {
		t.Fatal("name uniqueness is case-sensitive")
	}

	list, _ := m.ListCategories(ctx, "alice")
	if len(list) != 1 || list[0].ID != "cat-1" {
		t.Fatalf("ListCategories: %+v", list)
	}

	n, _ := m.CountContextsByCategory(ctx, "alice", "Work")
	if n != 0 {
		t.Fatalf("expected zero contexts in category, got %d", n)
	}
	c := newContext("ctx-1", "alice", "Weekly sync")
	c.Category = "Work"
	mustCreateContext(t, m, c)
	n, _ = m.CountContextsByCategory(ctx, "alice", "Work")
	if n != 1 {
		t.Fatalf("expected one context in category, got %d", n)
	}

	if err := m.DeleteCategory(ctx, "cat-1"); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
	if err := m.DeleteCategory(ctx, "cat-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryActivities(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	old := models.Activity{ID: "act-1", OwnerID: "alice", Title: "Kickoff call", Type: "call", CreatedAt: memNow}
	recent := models.Activity{ID: "act-2", OwnerID: "alice", Title: "Retro", Type: "meeting", CreatedAt: memNow.Add(time.Hour)}
	foreign := models.Activity{ID: "act-3", OwnerID: "bob", Title: "Interview", Type: "interview", CreatedAt: memNow}
	for _, a := range []models.Activity{old, recent, foreign} {
		if err := m.CreateActivity(ctx, a); err != nil {
			t.Fatalf("CreateActivity(%s): %v", a.ID, err)
		}
	}

	list, err := m.ListActivities(ctx, "alice")
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(list) != 2 || list[0].ID != "act-2" {
		t.Fatalf("expected newest-first owned activities, got %+v", list)
	}

	notes := "follow up with vendor"
	later := memNow.Add(2 * time.Hour)
	upd, err := m.UpdateActivity(ctx, "act-1", models.ActivityUpdate{Notes: &notes}, later)
	if err != nil || upd.Notes != notes || !upd.UpdatedAt.Equal(later) {
		t.Fatalf("UpdateActivity: %v %+v", err, upd)
	}

	starred, err := m.SetActivityStarred(ctx, "act-1", true, later)
	if err != nil || !starred.IsStarred {
		t.Fatalf("SetActivityStarred: %v %+v", err, starred)
	}

	if err := m.DeleteActivity(ctx, "act-1"); err != nil {
		t.Fatalf("DeleteActivity: %v", err)
	}
	if _, err := m.GetActivity(ctx, "act-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryUsers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	u := models.User{ID: "user-1", Email: "alice@example.com", Role: "user", CreatedAt: memNow}
	if err := m.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := m.CreateUser(ctx, models.User{ID: "user-2", Email: "alice@example.com"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate email must fail, got %v", err)
	}

	byEmail, err := m.GetUserByEmail(ctx, "alice@example.com")
	if err != nil || byEmail.ID != "user-1" {
		t.Fatalf("GetUserByEmail: %v %+v", err, byEmail)
	}
	if _, err := m.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	name := "Alice"
	later := memNow.Add(time.Hour)
	upd, err := m.UpdateUser(ctx, "user-1", models.UserUpdate{DisplayName: &name}, later)
	if err != nil || upd.DisplayName != "Alice" || !upd.UpdatedAt.Equal(later) {
		t.Fatalf("UpdateUser: %v %+v", err, upd)
	}

	if err := m.DeleteUser(ctx, "user-1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := m.GetUser(ctx, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
