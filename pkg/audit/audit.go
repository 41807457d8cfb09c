package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Writer appends security-relevant outcomes to the audit trail. Actor
// identifiers are salted-hashed before they touch the table so the
// trail stays useful without holding raw subjects.
type Writer struct {
	DB       auditDB
	HashSalt []byte
}

type Record struct {
	Actor     string
	Action    string
	Resource  string
	Outcome   string
	CreatedAt time.Time
}

const (
	OutcomeAllowed  = "allowed"
	OutcomeDenied   = "denied"
	OutcomeError    = "error"
	OutcomeConflict = "conflict"
)

func (w *Writer) Append(ctx context.Context, rec Record) error {
	if w == nil || w.DB == nil {
		return nil
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO audit_events (actor_hash, action, resource, outcome, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, w.hashActor(rec.Actor), rec.Action, rec.Resource, rec.Outcome, rec.CreatedAt)
	return err
}

func (w *Writer) hashActor(actor string) string {
	if actor == "" {
		return "anonymous"
	}
	h := sha256.New()
	if len(w.HashSalt) > 0 {
		_, _ = h.Write(w.HashSalt)
	}
	_, _ = h.Write([]byte(actor))
	return hex.EncodeToString(h.Sum(nil))
}
