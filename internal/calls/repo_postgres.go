package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"crm-platform/pkg/utils"

	"github.com/google/uuid"
)

// NOTE: This store assumes the tables created by internal/migration:
// - call_records        UNIQUE (provider_call_id)
// - contact_activities  UNIQUE (call_record_id)
// - agent_call_sessions UNIQUE (provider_call_id)
// - contacts
//
// The unique indexes back up the advisory lock taken in WithCall.

type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

const callColumns = `
id, provider_call_id, conversation_id, org_id, contact_id, agent_id,
direction, from_number, to_number, status,
started_at, answered_at, ended_at,
call_duration_sec, conversation_duration_sec, ring_duration_sec,
recording_url, recording_duration_sec, raw_provider_payload, last_source,
activity_id, created_at, updated_at`

func (s *PostgresStore) WithCall(ctx context.Context, providerCallID string, fn func(ctx context.Context, tx Tx) error) error {
	key := strings.TrimSpace(providerCallID)
	if key == "" {
		return ErrMissingProviderCallID
	}
	return utils.WithTx(ctx, s.DB, nil, func(ctx context.Context, tx *sql.Tx) error {
		// Serializes every writer for this provider call id until commit/rollback.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return err
		}
		return fn(ctx, &postgresTx{tx: tx, key: key})
	})
}

func (s *PostgresStore) Get(ctx context.Context, orgID, id string) (CallRecord, error) {
	q := `SELECT ` + callColumns + ` FROM call_records WHERE id = $1 AND ($2 = '' OR org_id = $2)`
	return scanCall(s.DB.QueryRowContext(ctx, q, id, orgID))
}

func (s *PostgresStore) GetByProviderCallID(ctx context.Context, providerCallID string) (CallRecord, error) {
	q := `SELECT ` + callColumns + ` FROM call_records WHERE provider_call_id = $1`
	return scanCall(s.DB.QueryRowContext(ctx, q, strings.TrimSpace(providerCallID)))
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]CallRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 10000
	}
	q := `SELECT ` + callColumns + `
FROM call_records
WHERE ($1 = '' OR org_id = $1)
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at < $3)
ORDER BY created_at ASC
LIMIT $4`
	rows, err := s.DB.QueryContext(ctx, q, f.OrgID, nullTime(f.From), nullTime(f.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallRecord, 0)
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ActivityForCall(ctx context.Context, callRecordID string) (ContactActivity, error) {
	const q = `
SELECT id, org_id, COALESCE(contact_id, ''), call_record_id, COALESCE(agent_id, ''), type,
       COALESCE(direction, ''), outcome, subject, duration_sec, occurred_at, created_at
FROM contact_activities
WHERE call_record_id = $1
`
	var a ContactActivity
	err := s.DB.QueryRowContext(ctx, q, callRecordID).Scan(
		&a.ID, &a.OrgID, &a.ContactID, &a.CallRecordID, &a.AgentID, &a.Type,
		&a.Direction, &a.Outcome, &a.Subject, &a.DurationSec, &a.OccurredAt, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ContactActivity{}, ErrNotFound
		}
		return ContactActivity{}, err
	}
	return a, nil
}

func (s *PostgresStore) SessionForCall(ctx context.Context, providerCallID string) (AgentCallSession, error) {
	return getSession(ctx, s.DB, strings.TrimSpace(providerCallID))
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getSession(ctx context.Context, db queryRower, providerCallID string) (AgentCallSession, error) {
	const q = `
SELECT id, provider_call_id, call_record_id, org_id, agent_id, status, started_at, ended_at, updated_at
FROM agent_call_sessions
WHERE provider_call_id = $1
`
	var (
		sess    AgentCallSession
		started sql.NullTime
		ended   sql.NullTime
	)
	err := db.QueryRowContext(ctx, q, providerCallID).Scan(
		&sess.ID, &sess.ProviderCallID, &sess.CallRecordID, &sess.OrgID, &sess.AgentID,
		&sess.Status, &started, &ended, &sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AgentCallSession{}, ErrNotFound
		}
		return AgentCallSession{}, err
	}
	sess.StartedAt = timePtr(started)
	sess.EndedAt = timePtr(ended)
	return sess, nil
}

func scanCall(row rowScanner) (CallRecord, error) {
	var (
		rec                                     CallRecord
		conversationID, contactID, agentID      sql.NullString
		direction, fromNumber, toNumber         sql.NullString
		recordingURL, lastSource, activityID    sql.NullString
		startedAt, answeredAt, endedAt          sql.NullTime
		callDur, convDur, ringDur, recordingDur sql.NullInt64
		raw                                     []byte
	)
	err := row.Scan(
		&rec.ID, &rec.ProviderCallID, &conversationID, &rec.OrgID, &contactID, &agentID,
		&direction, &fromNumber, &toNumber, &rec.Status,
		&startedAt, &answeredAt, &endedAt,
		&callDur, &convDur, &ringDur,
		&recordingURL, &recordingDur, &raw, &lastSource,
		&activityID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	rec.ConversationID = conversationID.String
	rec.ContactID = contactID.String
	rec.AgentID = agentID.String
	rec.Direction = Direction(direction.String)
	rec.FromNumber = fromNumber.String
	rec.ToNumber = toNumber.String
	rec.RecordingURL = recordingURL.String
	rec.LastSource = Source(lastSource.String)
	rec.ActivityID = activityID.String
	rec.StartedAt = timePtr(startedAt)
	rec.AnsweredAt = timePtr(answeredAt)
	rec.EndedAt = timePtr(endedAt)
	rec.CallDurationSec = intPtr(callDur)
	rec.ConversationDurationSec = intPtr(convDur)
	rec.RingDurationSec = intPtr(ringDur)
	rec.RecordingDurationSec = intPtr(recordingDur)
	if len(raw) > 0 {
		rec.RawProviderPayload = json.RawMessage(raw)
	}
	return rec, nil
}

type postgresTx struct {
	tx  *sql.Tx
	key string
}

func (t *postgresTx) GetCall(ctx context.Context) (CallRecord, error) {
	q := `SELECT ` + callColumns + ` FROM call_records WHERE provider_call_id = $1`
	return scanCall(t.tx.QueryRowContext(ctx, q, t.key))
}

func (t *postgresTx) InsertCall(ctx context.Context, rec CallRecord) error {
	q := `INSERT INTO call_records (` + callColumns + `) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23
)
ON CONFLICT (provider_call_id) DO NOTHING`
	res, err := t.tx.ExecContext(ctx, q, callArgs(rec)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicateCall
	}
	return nil
}

func (t *postgresTx) UpdateCall(ctx context.Context, rec CallRecord) error {
	const q = `
UPDATE call_records SET
  conversation_id = $3, org_id = $4, contact_id = $5, agent_id = $6,
  direction = $7, from_number = $8, to_number = $9, status = $10,
  started_at = $11, answered_at = $12, ended_at = $13,
  call_duration_sec = $14, conversation_duration_sec = $15, ring_duration_sec = $16,
  recording_url = $17, recording_duration_sec = $18, raw_provider_payload = $19, last_source = $20,
  activity_id = $21, updated_at = $22
WHERE id = $1 AND provider_call_id = $2
`
	res, err := t.tx.ExecContext(ctx, q, updateCallArgs(rec)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// updateCallArgs is callArgs without created_at, which never changes after insert.
func updateCallArgs(rec CallRecord) []any {
	args := callArgs(rec)
	return append(args[:21:21], args[22])
}

func callArgs(rec CallRecord) []any {
	var raw any
	if len(rec.RawProviderPayload) > 0 {
		raw = []byte(rec.RawProviderPayload)
	}
	return []any{
		rec.ID,
		rec.ProviderCallID,
		nullString(rec.ConversationID),
		rec.OrgID,
		nullString(rec.ContactID),
		nullString(rec.AgentID),
		nullString(string(rec.Direction)),
		nullString(rec.FromNumber),
		nullString(rec.ToNumber),
		string(rec.Status),
		nullTimePtr(rec.StartedAt),
		nullTimePtr(rec.AnsweredAt),
		nullTimePtr(rec.EndedAt),
		nullInt(rec.CallDurationSec),
		nullInt(rec.ConversationDurationSec),
		nullInt(rec.RingDurationSec),
		nullString(rec.RecordingURL),
		nullInt(rec.RecordingDurationSec),
		raw,
		nullString(string(rec.LastSource)),
		nullString(rec.ActivityID),
		rec.CreatedAt,
		rec.UpdatedAt,
	}
}

func (t *postgresTx) FindContactByPhone(ctx context.Context, orgID, phone string) (Contact, error) {
	key := phoneKey(phone)
	if key == "" {
		return Contact{}, ErrNotFound
	}
	// Matches on the last ten digits of the stored number.
	const q = `
SELECT id, org_id, phone
FROM contacts
WHERE org_id = $1
  AND RIGHT(regexp_replace(phone, '[^0-9]', '', 'g'), 10) = $2
ORDER BY created_at ASC
LIMIT 1
`
	// A failed lookup must not abort the surrounding transaction.
	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT contact_match`); err != nil {
		return Contact{}, err
	}
	var c Contact
	if err := t.tx.QueryRowContext(ctx, q, orgID, key).Scan(&c.ID, &c.OrgID, &c.Phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_, _ = t.tx.ExecContext(ctx, `RELEASE SAVEPOINT contact_match`)
			return Contact{}, ErrNotFound
		}
		if _, rbErr := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT contact_match`); rbErr != nil {
			return Contact{}, errors.Join(err, rbErr)
		}
		return Contact{}, err
	}
	_, err := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT contact_match`)
	return c, err
}

func (t *postgresTx) InsertActivity(ctx context.Context, a ContactActivity) error {
	const q = `
INSERT INTO contact_activities (
  id, org_id, contact_id, call_record_id, agent_id, type, direction, outcome, subject, duration_sec, occurred_at, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (call_record_id) DO NOTHING
`
	_, err := t.tx.ExecContext(ctx, q,
		a.ID,
		a.OrgID,
		nullString(a.ContactID),
		a.CallRecordID,
		nullString(a.AgentID),
		a.Type,
		nullString(string(a.Direction)),
		string(a.Outcome),
		a.Subject,
		a.DurationSec,
		a.OccurredAt,
		a.CreatedAt,
	)
	return err
}

func (t *postgresTx) UpsertAgentSession(ctx context.Context, in AgentCallSession) error {
	cur, err := getSession(ctx, t.tx, t.key)
	switch {
	case errors.Is(err, ErrNotFound):
		if in.ID == "" {
			in.ID = uuid.NewString()
		}
		in.ProviderCallID = t.key
		const q = `
INSERT INTO agent_call_sessions (
  id, provider_call_id, call_record_id, org_id, agent_id, status, started_at, ended_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
		_, err := t.tx.ExecContext(ctx, q,
			in.ID, in.ProviderCallID, in.CallRecordID, in.OrgID, in.AgentID, string(in.Status),
			nullTimePtr(in.StartedAt), nullTimePtr(in.EndedAt), in.UpdatedAt,
		)
		return err
	case err != nil:
		return err
	}

	next := mergeSession(&cur, in)
	const q = `
UPDATE agent_call_sessions SET
  call_record_id = $2, org_id = $3, agent_id = $4, status = $5, started_at = $6, ended_at = $7, updated_at = $8
WHERE provider_call_id = $1
`
	_, err = t.tx.ExecContext(ctx, q,
		t.key, next.CallRecordID, next.OrgID, next.AgentID, string(next.Status),
		nullTimePtr(next.StartedAt), nullTimePtr(next.EndedAt), next.UpdatedAt,
	)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
