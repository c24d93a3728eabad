package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/keyway/internal/db"
	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

type AuditStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAuditStore(db *sql.DB, writer *dbpkg.Worker) *AuditStore {
	return &AuditStore{db: db, writer: writer}
}

func (s *AuditStore) AppendEvent(ctx context.Context, ev types.AuditEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("AppendEvent encode metadata: %w", err)
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO audit_events(
  event_id, credential_id, subject_id, resource_id, kind, occurred_at_ms, metadata
) VALUES (?, ?, ?, ?, ?, ?, ?);
`,
			ev.ID, nullString(ev.CredentialID), nullString(ev.SubjectID), ev.ResourceID,
			string(ev.Kind), ev.Timestamp.UTC().UnixMilli(), string(meta),
		); err != nil {
			return fmt.Errorf("AppendEvent insert: %w", err)
		}
		return nil
	})
}

func (s *AuditStore) QueryEvents(ctx context.Context, f types.AuditFilter) ([]types.AuditEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if f.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, f.ResourceID)
	}
	if f.CredentialID != "" {
		where = append(where, "credential_id = ?")
		args = append(args, f.CredentialID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if !f.Since.IsZero() {
		where = append(where, "occurred_at_ms >= ?")
		args = append(args, f.Since.UTC().UnixMilli())
	}

	q := `SELECT event_id, credential_id, subject_id, resource_id, kind, occurred_at_ms, metadata FROM audit_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY occurred_at_ms DESC, rowid DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q+";", args...)
	if err != nil {
		return nil, fmt.Errorf("QueryEvents query: %w", err)
	}
	defer rows.Close()

	out := make([]types.AuditEvent, 0)
	for rows.Next() {
		var (
			ev           types.AuditEvent
			credentialID sql.NullString
			subjectID    sql.NullString
			kind         string
			atMs         int64
			meta         string
		)
		if err := rows.Scan(&ev.ID, &credentialID, &subjectID, &ev.ResourceID, &kind, &atMs, &meta); err != nil {
			return nil, fmt.Errorf("QueryEvents scan: %w", err)
		}
		ev.CredentialID = credentialID.String
		ev.SubjectID = subjectID.String
		ev.Kind = types.AuditKind(kind)
		ev.Timestamp = time.UnixMilli(atMs).UTC()
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("QueryEvents decode metadata %s: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
