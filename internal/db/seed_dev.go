package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	// OTPSecret for the demo resource. Callers generate it; the seeder
	// only fills it in when the row has none yet.
	OTPSecret []byte
}

// DevResourceID is the id of the resource created by SeedDev.
const DevResourceID = "res_demo"

// SeedDev creates a demo resource that is open around the clock.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	if _, err := db.ExecContext(ctx, `
INSERT INTO resources(
  resource_id, name, address, lock_id, active,
  operating_hours, max_duration_minutes, time_zone, otp_secret,
  created_at_ms, updated_at_ms
) VALUES (?, 'Demo Storage Unit', 'Dev', 'lock-demo-001', 1, '{}', 240, '', ?, ?, ?)
ON CONFLICT(resource_id) DO UPDATE SET
  active = 1,
  otp_secret = COALESCE(resources.otp_secret, excluded.otp_secret),
  updated_at_ms = excluded.updated_at_ms;
`, DevResourceID, opt.OTPSecret, now, now); err != nil {
		return fmt.Errorf("seed resource %s: %w", DevResourceID, err)
	}

	return nil
}
