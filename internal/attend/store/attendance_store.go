package store

import (
	"context"
	"errors"
	"time"

	"github.com/NIGHTX-99/SecureAttend/internal/attend/types"
)

var (
	ErrDuplicateRecord = errors.New("attendance record already exists for this student/room/time")
)

// AttendanceFilter narrows Query results. Zero values match everything.
type AttendanceFilter struct {
	StudentID string
	RoomID    string
	From      time.Time
	To        time.Time
	Limit     int
}

// AttendanceStore persists signed attendance records. Records are append-only;
// the (student_id, room_id, timestamp) uniqueness constraint backstops the
// de-dup contract at the database level.
type AttendanceStore interface {
	Insert(ctx context.Context, rec types.AttendanceRecord) (types.AttendanceRecord, error)
	Query(ctx context.Context, f AttendanceFilter) ([]types.AttendanceRecord, error)
}
