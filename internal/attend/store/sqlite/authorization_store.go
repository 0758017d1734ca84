package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/NIGHTX-99/SecureAttend/internal/attend/store"
	"github.com/NIGHTX-99/SecureAttend/internal/attend/types"
	dbpkg "github.com/NIGHTX-99/SecureAttend/internal/db"
)

type AuthorizationStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAuthorizationStore(db *sql.DB, writer *dbpkg.Worker) *AuthorizationStore {
	return &AuthorizationStore{db: db, writer: writer}
}

// Authorize upserts a room authorization. Duplicate (student, room) pairs
// collapse into one row.
func (s *AuthorizationStore) Authorize(ctx context.Context, auth types.Authorization) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return upsertAuthorization(ctx, tx, auth)
	})
}

// Enroll records the enrollment and materializes the matching room
// authorization inside the same transaction.
func (s *AuthorizationStore) Enroll(ctx context.Context, e types.Enrollment) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		nowMs := time.Now().UTC().UnixMilli()

		if _, err := tx.ExecContext(ctx, `
INSERT INTO student_enrollments(student_id, course_id, room_id, schedule_start, schedule_end, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(student_id, course_id) DO UPDATE SET
  room_id        = excluded.room_id,
  schedule_start = excluded.schedule_start,
  schedule_end   = excluded.schedule_end;
`,
			e.StudentID, e.CourseID, e.RoomID,
			nullable(e.ScheduleStart), nullable(e.ScheduleEnd), nowMs,
		); err != nil {
			return fmt.Errorf("Enroll insert: %w", err)
		}

		return upsertAuthorization(ctx, tx, types.Authorization{
			StudentID: e.StudentID,
			RoomID:    e.RoomID,
			CourseID:  e.CourseID,
			StartTime: e.ScheduleStart,
			EndTime:   e.ScheduleEnd,
		})
	})
}

// IsAuthorized checks the authorization row and, when a daily window is set,
// the local wall-clock time of now against [start_time, end_time].
func (s *AuthorizationStore) IsAuthorized(ctx context.Context, studentID, roomID string, now time.Time) error {
	var start, end sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT start_time, end_time FROM room_authorizations
WHERE student_id = ? AND room_id = ?;
`, studentID, roomID).Scan(&start, &end)

	if err == sql.ErrNoRows {
		return store.ErrNotAuthorizedForRoom
	}
	if err != nil {
		return fmt.Errorf("IsAuthorized query: %w", err)
	}

	if start.Valid && end.Valid && start.String != "" && end.String != "" {
		hhmm := now.Format("15:04")
		if hhmm < start.String || hhmm > end.String {
			return store.ErrOutsideAccessWindow
		}
	}
	return nil
}

func upsertAuthorization(ctx context.Context, tx *sql.Tx, auth types.Authorization) error {
	nowMs := time.Now().UTC().UnixMilli()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO room_authorizations(student_id, room_id, course_id, start_time, end_time, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(student_id, room_id) DO UPDATE SET
  course_id  = excluded.course_id,
  start_time = excluded.start_time,
  end_time   = excluded.end_time;
`,
		auth.StudentID, auth.RoomID,
		nullable(auth.CourseID), nullable(auth.StartTime), nullable(auth.EndTime), nowMs,
	); err != nil {
		return fmt.Errorf("upsert authorization: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
