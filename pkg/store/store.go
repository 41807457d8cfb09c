// Package store persists owner-scoped records. Two drivers exist: a
// Postgres driver for deployments and a mutex-serialized in-memory
// driver used by tests and local development. Atomicity of the
// activation transition is each driver's responsibility.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/71lols/paradigm-website/pkg/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	// ErrConflict is a store-level commit race; retryable.
	ErrConflict = errors.New("transaction conflict")
)

type ContextStore interface {
	CreateContext(ctx context.Context, c models.Context) error
	GetContext(ctx context.Context, id string) (models.Context, error)
	ListContexts(ctx context.Context, ownerID string, f models.ContextFilters) ([]models.Context, error)
	UpdateContext(ctx context.Context, id string, upd models.ContextUpdate, now time.Time) (models.Context, error)
	DeleteContext(ctx context.Context, id string) error
	CountContextsByCategory(ctx context.Context, ownerID, category string) (int, error)

	// ActivateContext flips the owner's single-active invariant inside
	// one atomic transaction: every other active row is staged inactive
	// and the target staged active, committed as a unit.
	ActivateContext(ctx context.Context, ownerID, id string, now time.Time) (models.Context, error)
	// DeactivateContext touches only the one row; idempotent.
	DeactivateContext(ctx context.Context, id string, now time.Time) (models.Context, error)
}

type CategoryStore interface {
	CreateCategory(ctx context.Context, c models.Category) error
	GetCategory(ctx context.Context, id string) (models.Category, error)
	ListCategories(ctx context.Context, ownerID string) ([]models.Category, error)
	CategoryNameExists(ctx context.Context, ownerID, name string) (bool, error)
	DeleteCategory(ctx context.Context, id string) error
}

type ActivityStore interface {
	CreateActivity(ctx context.Context, a models.Activity) error
	GetActivity(ctx context.Context, id string) (models.Activity, error)
	ListActivities(ctx context.Context, ownerID string) ([]models.Activity, error)
	UpdateActivity(ctx context.Context, id string, upd models.ActivityUpdate, now time.Time) (models.Activity, error)
	DeleteActivity(ctx context.Context, id string) error
	SetActivityStarred(ctx context.Context, id string, starred bool, now time.Time) (models.Activity, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, u models.User) error
	GetUser(ctx context.Context, id string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	UpdateUser(ctx context.Context, id string, upd models.UserUpdate, now time.Time) (models.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// Store is the full persistence surface the API wires once.
type Store interface {
	ContextStore
	CategoryStore
	ActivityStore
	UserStore
}
