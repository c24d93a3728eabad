package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/keyway/internal/db"
	"github.com/BrandonDHaskell/keyway/internal/keyway/store"
	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

type ResourceStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewResourceStore(db *sql.DB, writer *dbpkg.Worker) *ResourceStore {
	return &ResourceStore{db: db, writer: writer}
}

func (s *ResourceStore) GetResource(ctx context.Context, id string) (types.Resource, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.Resource{}, store.ErrNotFound
	}

	var (
		r      types.Resource
		active int
		hours  string
		secret []byte
	)
	err := s.db.QueryRowContext(ctx, `
SELECT resource_id, name, address, lock_id, active,
       operating_hours, max_duration_minutes, time_zone, otp_secret
FROM resources
WHERE resource_id = ?;
`, id).Scan(&r.ID, &r.Name, &r.Address, &r.LockID, &active,
		&hours, &r.MaxDurationMinutes, &r.TimeZone, &secret)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Resource{}, store.ErrNotFound
	}
	if err != nil {
		return types.Resource{}, fmt.Errorf("GetResource query: %w", err)
	}

	r.Active = active == 1
	r.OTPSecret = secret
	if strings.TrimSpace(hours) != "" {
		if err := json.Unmarshal([]byte(hours), &r.OperatingHours); err != nil {
			return types.Resource{}, fmt.Errorf("GetResource decode operating_hours for %s: %w", id, err)
		}
	}
	return r, nil
}

// PutResource inserts or replaces a resource row.
func (s *ResourceStore) PutResource(ctx context.Context, r types.Resource) error {
	hours, err := json.Marshal(r.OperatingHours)
	if err != nil {
		return fmt.Errorf("PutResource encode operating_hours: %w", err)
	}
	var active int
	if r.Active {
		active = 1
	}
	var secret any
	if len(r.OTPSecret) > 0 {
		secret = r.OTPSecret
	}
	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO resources(
  resource_id, name, address, lock_id, active,
  operating_hours, max_duration_minutes, time_zone, otp_secret,
  created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(resource_id) DO UPDATE SET
  name = excluded.name,
  address = excluded.address,
  lock_id = excluded.lock_id,
  active = excluded.active,
  operating_hours = excluded.operating_hours,
  max_duration_minutes = excluded.max_duration_minutes,
  time_zone = excluded.time_zone,
  otp_secret = excluded.otp_secret,
  updated_at_ms = excluded.updated_at_ms;
`, r.ID, r.Name, r.Address, r.LockID, active,
			string(hours), r.MaxDurationMinutes, r.TimeZone, secret,
			nowMs, nowMs); err != nil {
			return fmt.Errorf("PutResource upsert: %w", err)
		}
		return nil
	})
}
