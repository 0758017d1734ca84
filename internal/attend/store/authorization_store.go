package store

import (
	"context"
	"errors"
	"time"

	"github.com/NIGHTX-99/SecureAttend/internal/attend/types"
)

var (
	ErrNotAuthorizedForRoom = errors.New("student not authorized for this room")
	ErrOutsideAccessWindow  = errors.New("access not authorized at this time")
)

// AuthorizationStore answers whether a student may enter a room at a given
// moment. Enroll materializes a room authorization from the enrollment in the
// same transaction.
type AuthorizationStore interface {
	Authorize(ctx context.Context, auth types.Authorization) error
	Enroll(ctx context.Context, e types.Enrollment) error
	// IsAuthorized returns nil when access is permitted, or
	// ErrNotAuthorizedForRoom / ErrOutsideAccessWindow.
	IsAuthorized(ctx context.Context, studentID, roomID string, now time.Time) error
}
