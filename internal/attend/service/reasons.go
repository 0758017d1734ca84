package service

import (
	"errors"

	"github.com/NIGHTX-99/SecureAttend/internal/attend/challenge"
	"github.com/NIGHTX-99/SecureAttend/internal/attend/store"
	"github.com/NIGHTX-99/SecureAttend/internal/db"
	"github.com/NIGHTX-99/SecureAttend/internal/pki"
)

// Reason maps an error from any stage of the access flow onto its closed
// denial taxonomy name. Reasons are stable wire strings; they never leak
// cryptographic internals.
func Reason(err error) string {
	switch {
	case err == nil:
		return "AccessGranted"
	case errors.Is(err, pki.ErrBadEncoding):
		return "BadEncoding"
	case errors.Is(err, pki.ErrUntrustedIssuer):
		return "UntrustedIssuer"
	case errors.Is(err, pki.ErrInvalidSignature):
		return "InvalidSignature"
	case errors.Is(err, pki.ErrExpired):
		return "Expired"
	case errors.Is(err, pki.ErrNotYetValid):
		return "NotYetValid"
	case errors.Is(err, pki.ErrRevoked):
		return "Revoked"
	case errors.Is(err, pki.ErrInvalidExtension):
		return "InvalidExtension"
	case errors.Is(err, pki.ErrInvalidKeyUsage):
		return "InvalidKeyUsage"
	case errors.Is(err, pki.ErrInvalidExtendedKeyUsage):
		return "InvalidExtendedKeyUsage"
	case errors.Is(err, pki.ErrKindMismatch):
		return "KindMismatch"
	case errors.Is(err, pki.ErrWrongKeyType):
		return "WrongKeyType"
	case errors.Is(err, challenge.ErrReplayedNonce):
		return "ReplayedQr"
	case errors.Is(err, challenge.ErrUnknownChallenge):
		return "UnknownChallenge"
	case errors.Is(err, challenge.ErrAlreadyConsumed):
		return "AlreadyConsumed"
	case errors.Is(err, challenge.ErrChallengeExpired):
		return "ChallengeExpired"
	case errors.Is(err, ErrChallengeMismatch):
		return "ChallengeMismatch"
	case errors.Is(err, pki.ErrMalformedSignature):
		return "MalformedSignature"
	case errors.Is(err, pki.ErrVerifyFailed):
		return "VerifyFailed"
	case errors.Is(err, store.ErrNotAuthorizedForRoom):
		return "NotAuthorizedForRoom"
	case errors.Is(err, store.ErrOutsideAccessWindow):
		return "OutsideAccessWindow"
	case errors.Is(err, store.ErrDuplicateRecord):
		return "DuplicateRecord"
	case errors.Is(err, db.ErrTimeout):
		return "Timeout"
	default:
		return "InternalError"
	}
}
