package service

import (
	"context"
	"errors"
	"strings"

	"github.com/NIGHTX-99/SecureAttend/internal/attend/store"
	"github.com/NIGHTX-99/SecureAttend/internal/attend/types"
)

var (
	ErrInvalidStudentID = errors.New("student_id is required")
	ErrInvalidRoomID    = errors.New("room_id is required")
	ErrInvalidCourseID  = errors.New("course_id is required")
)

// EnrollmentService fronts the admin side of the authorization store.
type EnrollmentService struct {
	authz store.AuthorizationStore
}

func NewEnrollmentService(authz store.AuthorizationStore) *EnrollmentService {
	return &EnrollmentService{authz: authz}
}

func (s *EnrollmentService) Authorize(ctx context.Context, auth types.Authorization) error {
	auth.StudentID = strings.TrimSpace(auth.StudentID)
	auth.RoomID = strings.TrimSpace(auth.RoomID)
	if auth.StudentID == "" {
		return ErrInvalidStudentID
	}
	if auth.RoomID == "" {
		return ErrInvalidRoomID
	}
	return s.authz.Authorize(ctx, auth)
}

func (s *EnrollmentService) Enroll(ctx context.Context, e types.Enrollment) error {
	e.StudentID = strings.TrimSpace(e.StudentID)
	e.CourseID = strings.TrimSpace(e.CourseID)
	e.RoomID = strings.TrimSpace(e.RoomID)
	if e.StudentID == "" {
		return ErrInvalidStudentID
	}
	if e.CourseID == "" {
		return ErrInvalidCourseID
	}
	if e.RoomID == "" {
		return ErrInvalidRoomID
	}
	return s.authz.Enroll(ctx, e)
}
