package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/keyway/internal/db"
	"github.com/BrandonDHaskell/keyway/internal/keyway/store"
	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

type CredentialStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewCredentialStore(db *sql.DB, writer *dbpkg.Worker) *CredentialStore {
	return &CredentialStore{db: db, writer: writer}
}

const credentialColumns = `
  credential_id, subject_id, resource_id, kind, token, code_digest,
  duration_minutes, status, issued_at_ms, expires_at_ms, redeemed_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (types.Credential, error) {
	var (
		c          types.Credential
		kind       string
		status     string
		token      sql.NullString
		issuedMs   int64
		expiresMs  int64
		redeemedMs sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.SubjectID, &c.ResourceID, &kind, &token, &c.CodeDigest,
		&c.DurationMinutes, &status, &issuedMs, &expiresMs, &redeemedMs); err != nil {
		return types.Credential{}, err
	}
	c.Kind = types.CredentialKind(kind)
	c.Status = types.CredentialStatus(status)
	c.Token = token.String
	c.IssuedAt = time.UnixMilli(issuedMs).UTC()
	c.ExpiresAt = time.UnixMilli(expiresMs).UTC()
	if redeemedMs.Valid {
		t := time.UnixMilli(redeemedMs.Int64).UTC()
		c.RedeemedAt = &t
	}
	return c, nil
}

func (s *CredentialStore) CreateCredential(ctx context.Context, c types.Credential) error {
	var token any
	if c.Token != "" {
		token = c.Token
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO credentials(`+credentialColumns+`
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL);
`, c.ID, c.SubjectID, c.ResourceID, string(c.Kind), token, c.CodeDigest,
			c.DurationMinutes, string(c.Status),
			c.IssuedAt.UTC().UnixMilli(), c.ExpiresAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("CreateCredential insert: %w", err)
		}
		return nil
	})
}

func (s *CredentialStore) GetCredential(ctx context.Context, id string) (types.Credential, error) {
	c, err := scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE credential_id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Credential{}, store.ErrNotFound
	}
	if err != nil {
		return types.Credential{}, fmt.Errorf("GetCredential query: %w", err)
	}
	return c, nil
}

func (s *CredentialStore) FindByCode(ctx context.Context, resourceID string, digest []byte) (types.Credential, error) {
	c, err := scanCredential(s.db.QueryRowContext(ctx, `
SELECT `+credentialColumns+`
FROM credentials
WHERE code_digest = ? AND resource_id = ?
ORDER BY (status = 'issued') DESC, issued_at_ms DESC
LIMIT 1;
`, digest, resourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Credential{}, store.ErrNotFound
	}
	if err != nil {
		return types.Credential{}, fmt.Errorf("FindByCode query: %w", err)
	}
	return c, nil
}

func (s *CredentialStore) ListCredentials(ctx context.Context, f types.CredentialFilter) ([]types.Credential, error) {
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
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	q := `SELECT ` + credentialColumns + ` FROM credentials`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY issued_at_ms DESC, rowid DESC;"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListCredentials query: %w", err)
	}
	defer rows.Close()

	out := make([]types.Credential, 0)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("ListCredentials scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Transition is a single UPDATE guarded by the expected status. The
// worker serializes writers, and the WHERE clause makes a second caller
// observe zero affected rows instead of overwriting the first.
func (s *CredentialStore) Transition(ctx context.Context, id string, from, to types.CredentialStatus, at time.Time) (types.Credential, error) {
	var (
		out     types.Credential
		outErr  error
		atMs    = at.UTC().UnixMilli()
		setUsed = 0
	)
	if to == types.StatusRedeemed {
		setUsed = 1
	}

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE credentials
SET status = ?,
    redeemed_at_ms = CASE WHEN ? = 1 THEN ? ELSE redeemed_at_ms END
WHERE credential_id = ? AND status = ?;
`, string(to), setUsed, atMs, id, string(from))
		if err != nil {
			return fmt.Errorf("Transition update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("Transition rows affected: %w", err)
		}

		c, err := scanCredential(tx.QueryRowContext(ctx,
			`SELECT `+credentialColumns+` FROM credentials WHERE credential_id = ?;`, id))
		if errors.Is(err, sql.ErrNoRows) {
			outErr = store.ErrNotFound
			return nil
		}
		if err != nil {
			return fmt.Errorf("Transition reload: %w", err)
		}
		out = c
		if n != 1 {
			outErr = store.ErrConflict
		}
		return nil
	})
	if err != nil {
		return types.Credential{}, err
	}
	return out, outErr
}

func (s *CredentialStore) ListExpirable(ctx context.Context, now time.Time, limit int) ([]types.Credential, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+credentialColumns+`
FROM credentials
WHERE status = 'issued' AND expires_at_ms < ?
ORDER BY expires_at_ms ASC
LIMIT ?;
`, now.UTC().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("ListExpirable query: %w", err)
	}
	defer rows.Close()

	out := make([]types.Credential, 0)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("ListExpirable scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
