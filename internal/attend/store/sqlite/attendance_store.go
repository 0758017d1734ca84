package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/NIGHTX-99/SecureAttend/internal/attend/challenge"
	"github.com/NIGHTX-99/SecureAttend/internal/attend/store"
	"github.com/NIGHTX-99/SecureAttend/internal/attend/types"
	dbpkg "github.com/NIGHTX-99/SecureAttend/internal/db"
)

const defaultQueryLimit = 100

type AttendanceStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAttendanceStore(db *sql.DB, writer *dbpkg.Worker) *AttendanceStore {
	return &AttendanceStore{db: db, writer: writer}
}

// Insert appends a signed attendance record. The UNIQUE constraint on
// (student_id, room_id, timestamp) maps to store.ErrDuplicateRecord.
func (s *AttendanceStore) Insert(ctx context.Context, rec types.AttendanceRecord) (types.AttendanceRecord, error) {
	ts := challenge.CanonicalTime(rec.Timestamp)
	createdMs := time.Now().UTC().UnixMilli()

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO attendance_records(
  student_id, room_id, door_id, timestamp, record_hash, backend_signature, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?);
`,
			rec.StudentID, rec.RoomID, rec.DoorID, ts,
			rec.RecordHash, rec.BackendSignature, createdMs,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicateRecord
			}
			return fmt.Errorf("Insert attendance: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("Insert attendance id: %w", err)
		}
		rec.ID = id
		return nil
	})
	if err != nil {
		return types.AttendanceRecord{}, err
	}

	rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Microsecond)
	return rec, nil
}

// Query returns records matching the filter, newest first.
func (s *AttendanceStore) Query(ctx context.Context, f store.AttendanceFilter) ([]types.AttendanceRecord, error) {
	query := `
SELECT id, student_id, room_id, door_id, timestamp, record_hash, backend_signature
FROM attendance_records WHERE 1=1`
	var args []any

	if f.StudentID != "" {
		query += " AND student_id = ?"
		args = append(args, f.StudentID)
	}
	if f.RoomID != "" {
		query += " AND room_id = ?"
		args = append(args, f.RoomID)
	}
	if !f.From.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, challenge.CanonicalTime(f.From))
	}
	if !f.To.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, challenge.CanonicalTime(f.To))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Query attendance: %w", err)
	}
	defer rows.Close()

	var out []types.AttendanceRecord
	for rows.Next() {
		var rec types.AttendanceRecord
		var ts string
		if err := rows.Scan(
			&rec.ID, &rec.StudentID, &rec.RoomID, &rec.DoorID,
			&ts, &rec.RecordHash, &rec.BackendSignature,
		); err != nil {
			return nil, fmt.Errorf("Query attendance scan: %w", err)
		}
		t, err := challenge.ParseCanonicalTime(ts)
		if err != nil {
			return nil, fmt.Errorf("Query attendance timestamp %q: %w", ts, err)
		}
		rec.Timestamp = t
		out = append(out, rec)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
