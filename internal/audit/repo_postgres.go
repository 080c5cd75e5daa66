package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to audit_events. The table has no update path.
type PostgresRepo struct {
	DB *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{DB: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, org_id, type, actor_user_id, actor_role, ip_address, call_id, message, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`
	_, err := r.DB.ExecContext(ctx, q,
		e.ID, e.OrgID, string(e.Type),
		nullString(e.ActorUserID), nullString(e.ActorRole), nullString(e.IPAddress),
		nullString(e.CallID), e.Message, nullString(e.Metadata), e.CreatedAt,
	)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
