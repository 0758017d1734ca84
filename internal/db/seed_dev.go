package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	// Students pre-authorized for the dev room.
	StudentIDs []string
	RoomID     string
}

// SeedDev inserts starter authorizations so a fresh dev database can grant
// access without the admin endpoints.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	if opt.RoomID == "" {
		opt.RoomID = "CS101"
	}
	now := time.Now().UTC().UnixMilli()

	for _, sid := range opt.StudentIDs {
		if sid == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO room_authorizations(student_id, room_id, created_at_ms)
VALUES (?, ?, ?);`, sid, opt.RoomID, now); err != nil {
			return fmt.Errorf("seed authorization %s/%s: %w", sid, opt.RoomID, err)
		}
	}

	return nil
}
