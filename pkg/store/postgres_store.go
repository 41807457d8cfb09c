package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/71lols/paradigm-website/pkg/models"
)

// Postgres implements Store on pgx.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrDuplicate
		case "40001", "40P01":
			return ErrConflict
		}
	}
	return err
}

const contextColumns = `id, user_id, title, description, category, color, created_at, updated_at, last_used, is_active, settings`

func scanContext(row pgx.Row) (models.Context, error) {
	var c models.Context
	var settings []byte
	err := row.Scan(&c.ID, &c.OwnerID, &c.Title, &c.Description, &c.Category, &c.Color,
		&c.CreatedAt, &c.UpdatedAt, &c.LastUsed, &c.IsActive, &settings)
	if err != nil {
		return models.Context{}, mapPgError(err)
	}
	if len(settings) > 0 {
		_ = json.Unmarshal(settings, &c.Settings)
	}
	return c, nil
}

func (p *Postgres) CreateContext(ctx context.Context, c models.Context) error {
	settings, _ := json.Marshal(c.Settings)
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO contexts (`+contextColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, c.ID, c.OwnerID, c.Title, c.Description, c.Category, c.Color,
		c.CreatedAt, c.UpdatedAt, c.LastUsed, c.IsActive, settings)
	return mapPgError(err)
}

func (p *Postgres) GetContext(ctx context.Context, id string) (models.Context, error) {
	row := p.Pool.QueryRow(ctx, `SELECT `+contextColumns+` FROM contexts WHERE id=$1`, id)
	return scanContext(row)
}

var contextSortColumns = map[string]string{
	"title":     "title",
	"lastUsed":  "last_used",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
}

func (p *Postgres) ListContexts(ctx context.Context, ownerID string, f models.ContextFilters) ([]models.Context, error) {
	f = f.Normalize()
	where := []string{"user_id=$1"}
	args := []any{ownerID}
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("category=$%d", len(args)))
	}
	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		where = append(where, fmt.Sprintf("is_active=$%d", len(args)))
	}
	order := contextSortColumns[f.SortBy]
	dir := "DESC"
	if f.SortOrder == "asc" {
		dir = "ASC"
	}
	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT `+contextColumns+` FROM contexts WHERE %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), order, dir, len(args)-1, len(args))
	rows, err := p.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	out := make([]models.Context, 0)
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		// substring search runs in-process; the store has no text index
		if !c.MatchesSearch(f.Search) {
			continue
		}
		out = append(out, c)
	}
	return out, mapPgError(rows.Err())
}

func (p *Postgres) UpdateContext(ctx context.Context, id string, upd models.ContextUpdate, now time.Time) (models.Context, error) {
	set := []string{}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if upd.Title != nil {
		add("title", *upd.Title)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.Category != nil {
		add("category", *upd.Category)
	}
	if upd.Color != nil {
		add("color", *upd.Color)
	}
	if upd.Settings != nil {
		settings, _ := json.Marshal(*upd.Settings)
		add("settings", settings)
	}
	add("updated_at", now)
	row := p.Pool.QueryRow(ctx, fmt.Sprintf(
		`UPDATE contexts SET %s WHERE id=$1 RETURNING `+contextColumns, strings.Join(set, ", ")), args...)
	return scanContext(row)
}

func (p *Postgres) DeleteContext(ctx context.Context, id string) error {
	tag, err := p.Pool.Exec(ctx, `DELETE FROM contexts WHERE id=$1`, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CountContextsByCategory(ctx context.Context, ownerID, category string) (int, error) {
	var n int
	err := p.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM contexts WHERE user_id=$1 AND category=$2`, ownerID, category).Scan(&n)
	return n, mapPgError(err)
}

// ActivateContext runs the single-active transition as one transaction:
// lock the owner's active set, stage the deactivations and the target
// activation, commit as a unit. Two racing activations serialize on the
// row locks; the loser re-reads a settled active set.
func (p *Postgres) ActivateContext(ctx context.Context, ownerID, id string, now time.Time) (models.Context, error) {
	tx, err := p.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Context{}, mapPgError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var targetOwner string
	err = tx.QueryRow(ctx, `SELECT user_id FROM contexts WHERE id=$1 FOR UPDATE`, id).Scan(&targetOwner)
	if err != nil {
		return models.Context{}, mapPgError(err)
	}
	if targetOwner != ownerID {
		// the machine re-checks ownership inside the transaction so a
		// concurrent owner change can never slip through
		return models.Context{}, ErrNotFound
	}
	rows, err := tx.Query(ctx,
		`SELECT id FROM contexts WHERE user_id=$1 AND is_active AND id<>$2 FOR UPDATE`, ownerID, id)
	if err != nil {
		return models.Context{}, mapPgError(err)
	}
	var others []string
	for rows.Next() {
		var otherID string
		if err := rows.Scan(&otherID); err != nil {
			rows.Close()
			return models.Context{}, mapPgError(err)
		}
		others = append(others, otherID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.Context{}, mapPgError(err)
	}
	if len(others) > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE contexts SET is_active=FALSE, updated_at=$1 WHERE id = ANY($2)`, now, others); err != nil {
			return models.Context{}, mapPgError(err)
		}
	}
	row := tx.QueryRow(ctx, `
		UPDATE contexts SET is_active=TRUE, last_used=$2, updated_at=$2
		WHERE id=$1 RETURNING `+contextColumns, id, now)
	c, err := scanContext(row)
	if err != nil {
		return models.Context{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Context{}, mapPgError(err)
	}
	return c, nil
}

func (p *Postgres) DeactivateContext(ctx context.Context, id string, now time.Time) (models.Context, error) {
	row := p.Pool.QueryRow(ctx, `
		UPDATE contexts SET is_active=FALSE,
			updated_at = CASE WHEN is_active THEN $2 ELSE updated_at END
		WHERE id=$1 RETURNING `+contextColumns, id, now)
	return scanContext(row)
}

func (p *Postgres) CreateCategory(ctx context.Context, c models.Category) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO categories (id, user_id, name, created_at, is_default)
		VALUES ($1,$2,$3,$4,$5)
	`, c.ID, c.OwnerID, c.Name, c.CreatedAt, c.IsDefault)
	return mapPgError(err)
}

func (p *Postgres) GetCategory(ctx context.Context, id string) (models.Category, error) {
	var c models.Category
	err := p.Pool.QueryRow(ctx, `
		SELECT id, user_id, name, created_at, is_default FROM categories WHERE id=$1
	`, id).Scan(&c.ID, &c.OwnerID, &c.Name, &c.CreatedAt, &c.IsDefault)
	return c, mapPgError(err)
}

func (p *Postgres) ListCategories(ctx context.Context, ownerID string) ([]models.Category, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT id, user_id, name, created_at, is_default FROM categories
		WHERE user_id=$1 ORDER BY name ASC
	`, ownerID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	out := make([]models.Category, 0)
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.CreatedAt, &c.IsDefault); err != nil {
			return nil, mapPgError(err)
		}
		out = append(out, c)
	}
	return out, mapPgError(rows.Err())
}

func (p *Postgres) CategoryNameExists(ctx context.Context, ownerID, name string) (bool, error) {
	var exists bool
	err := p.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM categories WHERE user_id=$1 AND name=$2)`, ownerID, name).Scan(&exists)
	return exists, mapPgError(err)
}

func (p *Postgres) DeleteCategory(ctx context.Context, id string) error {
	tag, err := p.Pool.Exec(ctx, `DELETE FROM categories WHERE id=$1`, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const activityColumns = `id, user_id, title, description, duration, participants, tags, status, type, is_starred, occurred_at, created_at, updated_at, summary, notes, transcript, audio_url`

func scanActivity(row pgx.Row) (models.Activity, error) {
	var a models.Activity
	err := row.Scan(&a.ID, &a.OwnerID, &a.Title, &a.Description, &a.Duration, &a.Participants,
		&a.Tags, &a.Status, &a.Type, &a.IsStarred, &a.Timestamp, &a.CreatedAt, &a.UpdatedAt,
		&a.Summary, &a.Notes, &a.Transcript, &a.AudioURL)
	if err != nil {
		return models.Activity{}, mapPgError(err)
	}
	return a, nil
}

func (p *Postgres) CreateActivity(ctx context.Context, a models.Activity) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO activities (`+activityColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, a.ID, a.OwnerID, a.Title, a.Description, a.Duration, a.Participants, a.Tags,
		a.Status, a.Type, a.IsStarred, a.Timestamp, a.CreatedAt, a.UpdatedAt,
		a.Summary, a.Notes, a.Transcript, a.AudioURL)
	return mapPgError(err)
}

func (p *Postgres) GetActivity(ctx context.Context, id string) (models.Activity, error) {
	row := p.Pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE id=$1`, id)
	return scanActivity(row)
}

func (p *Postgres) ListActivities(ctx context.Context, ownerID string) ([]models.Activity, error) {
	rows, err := p.Pool.Query(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE user_id=$1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	out := make([]models.Activity, 0)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, mapPgError(rows.Err())
}

func (p *Postgres) UpdateActivity(ctx context.Context, id string, upd models.ActivityUpdate, now time.Time) (models.Activity, error) {
	set := []string{}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if upd.Title != nil {
		add("title", *upd.Title)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.Tags != nil {
		add("tags", *upd.Tags)
	}
	if upd.IsStarred != nil {
		add("is_starred", *upd.IsStarred)
	}
	if upd.Summary != nil {
		add("summary", *upd.Summary)
	}
	if upd.Notes != nil {
		add("notes", *upd.Notes)
	}
	if upd.Transcript != nil {
		add("transcript", *upd.Transcript)
	}
	if upd.AudioURL != nil {
		add("audio_url", *upd.AudioURL)
	}
	add("updated_at", now)
	row := p.Pool.QueryRow(ctx, fmt.Sprintf(
		`UPDATE activities SET %s WHERE id=$1 RETURNING `+activityColumns, strings.Join(set, ", ")), args...)
	return scanActivity(row)
}

func (p *Postgres) DeleteActivity(ctx context.Context, id string) error {
	tag, err := p.Pool.Exec(ctx, `DELETE FROM activities WHERE id=$1`, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetActivityStarred(ctx context.Context, id string, starred bool, now time.Time) (models.Activity, error) {
	row := p.Pool.QueryRow(ctx, `
		UPDATE activities SET is_starred=$2, updated_at=$3 WHERE id=$1 RETURNING `+activityColumns,
		id, starred, now)
	return scanActivity(row)
}

func (p *Postgres) CreateUser(ctx context.Context, u models.User) error {
	prefs, _ := json.Marshal(u.Preferences)
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO users (id, email, display_name, role, email_verified, password_hash, preferences, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, u.ID, u.Email, u.DisplayName, u.Role, u.EmailVerified, u.PasswordHash, prefs, u.CreatedAt, u.UpdatedAt)
	return mapPgError(err)
}

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	var prefs []byte
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.EmailVerified,
		&u.PasswordHash, &prefs, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return models.User{}, mapPgError(err)
	}
	if len(prefs) > 0 {
		_ = json.Unmarshal(prefs, &u.Preferences)
	}
	return u, nil
}

const userColumns = `id, email, display_name, role, email_verified, password_hash, preferences, created_at, updated_at`

func (p *Postgres) GetUser(ctx context.Context, id string) (models.User, error) {
	return scanUser(p.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return scanUser(p.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email))
}

func (p *Postgres) UpdateUser(ctx context.Context, id string, upd models.UserUpdate, now time.Time) (models.User, error) {
	set := []string{}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if upd.DisplayName != nil {
		add("display_name", *upd.DisplayName)
	}
	if upd.Preferences != nil {
		prefs, _ := json.Marshal(*upd.Preferences)
		add("preferences", prefs)
	}
	add("updated_at", now)
	row := p.Pool.QueryRow(ctx, fmt.Sprintf(
		`UPDATE users SET %s WHERE id=$1 RETURNING `+userColumns, strings.Join(set, ", ")), args...)
	return scanUser(row)
}

func (p *Postgres) DeleteUser(ctx context.Context, id string) error {
	tag, err := p.Pool.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
