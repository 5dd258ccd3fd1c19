package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by pgx.Tx and *pgxpool.Pool.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Insert appends entry using db, normally the caller's open transaction so the
// audit row commits or rolls back with the mutation it describes.
func Insert(ctx context.Context, db DBTX, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	changes := entry.Changes
	if changes == nil {
		changes = Changes{}
	}
	raw, err := json.Marshal(changes)
	if err != nil {
		return err
	}
	at := entry.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = db.Exec(ctx, `INSERT INTO audit_entries (action, entity_type, entity_id, entity_label, actor_id, changes, notes, remote_addr, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		string(entry.Action), entry.EntityType, entry.EntityID, entry.EntityLabel, nullActor(entry.ActorID), raw, entry.Notes, nullString(entry.RemoteAddr), at)
	return err
}

func nullActor(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
