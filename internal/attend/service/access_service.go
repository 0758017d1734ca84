package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/NIGHTX-99/SecureAttend/internal/attend/challenge"
	"github.com/NIGHTX-99/SecureAttend/internal/attend/store"
	"github.com/NIGHTX-99/SecureAttend/internal/attend/types"
	"github.com/NIGHTX-99/SecureAttend/internal/pki"
)

var (
	ErrChallengeMismatch = errors.New("submitted challenge does not match the issued one")
)

// AccessService orchestrates the access flow: validate certificate, issue or
// consume a challenge, verify the signature, authorize, record. It recovers
// nothing: every failure is classified and returned, and committed side
// effects (seen nonces, consumed challenges) stay committed.
type AccessService struct {
	validator  *pki.Validator
	challenges *challenge.Registry
	authz      store.AuthorizationStore
	recorder   *Recorder
	logger     *zap.Logger
}

func NewAccessService(
	validator *pki.Validator,
	challenges *challenge.Registry,
	authz store.AuthorizationStore,
	recorder *Recorder,
	logger *zap.Logger,
) *AccessService {
	return &AccessService{
		validator:  validator,
		challenges: challenges,
		authz:      authz,
		recorder:   recorder,
		logger:     logger,
	}
}

// IssueChallenge validates the student certificate and registers a fresh
// pending challenge for it.
func (s *AccessService) IssueChallenge(req types.ChallengeRequest, now time.Time) (types.ChallengeResponse, error) {
	info, err := s.validator.Validate([]byte(req.StudentCertificatePEM), pki.KindStudent, now)
	if err != nil {
		s.logDenied("challenge", err, zap.String("room_id", req.RoomID), zap.String("door_id", req.DoorID))
		return types.ChallengeResponse{}, err
	}

	ch, err := s.challenges.Generate(info.Serial, req.RoomID, req.DoorID, req.PreviousNonce, now)
	if err != nil {
		s.logDenied("challenge", err,
			zap.String("student_id", info.SubjectID),
			zap.String("room_id", req.RoomID),
			zap.String("door_id", req.DoorID))
		return types.ChallengeResponse{}, err
	}

	return types.ChallengeResponse{
		ChallengeID:   ch.ChallengeID,
		Nonce:         ch.Nonce,
		Timestamp:     challenge.CanonicalTime(ch.Timestamp),
		RoomID:        ch.RoomID,
		DoorID:        ch.DoorID,
		PreviousNonce: ch.PreviousNonce,
	}, nil
}

// VerifyAccess runs the verification half of the flow. Denials come back as
// a VerifyResponse with access_granted=false and a classified reason; the
// error return is reserved for internal failures.
func (s *AccessService) VerifyAccess(ctx context.Context, req types.VerifyRequest, now time.Time) (types.VerifyResponse, error) {
	info, err := s.validator.Validate([]byte(req.StudentCertificatePEM), pki.KindStudent, now)
	if err != nil {
		return s.deny(err, zap.String("room_id", req.Challenge.RoomID)), nil
	}

	fields := []zap.Field{
		zap.String("student_id", info.SubjectID),
		zap.String("room_id", req.Challenge.RoomID),
		zap.String("door_id", req.Challenge.DoorID),
	}

	ch, err := s.challenges.Consume(req.Challenge.Nonce, now)
	if err != nil {
		return s.deny(err, fields...), nil
	}

	// The submitted challenge must echo the issued one; the nonce alone is
	// not enough since the client returns the whole structure it signed.
	if req.Challenge.ChallengeID != ch.ChallengeID ||
		req.Challenge.RoomID != ch.RoomID ||
		req.Challenge.DoorID != ch.DoorID ||
		req.Challenge.PreviousNonce != ch.PreviousNonce ||
		req.Challenge.Timestamp != challenge.CanonicalTime(ch.Timestamp) ||
		info.Serial != ch.SubjectSerial {
		return s.deny(ErrChallengeMismatch, fields...), nil
	}

	if err := challenge.VerifySignature(info.PublicKey, ch, req.SignatureHex); err != nil {
		return s.deny(err, fields...), nil
	}

	if err := s.authz.IsAuthorized(ctx, info.SubjectID, ch.RoomID, now); err != nil {
		if errors.Is(err, store.ErrNotAuthorizedForRoom) || errors.Is(err, store.ErrOutsideAccessWindow) {
			return s.deny(err, fields...), nil
		}
		return types.VerifyResponse{}, err
	}

	rec, err := s.recorder.Record(ctx, info.SubjectID, ch.RoomID, ch.DoorID, now)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateRecord) {
			return s.deny(err, fields...), nil
		}
		return types.VerifyResponse{}, err
	}

	s.logger.Info("access granted", fields...)
	return types.VerifyResponse{
		AccessGranted:    true,
		Reason:           "AccessGranted",
		AttendanceRecord: &rec,
	}, nil
}

func (s *AccessService) deny(cause error, fields ...zap.Field) types.VerifyResponse {
	reason := Reason(cause)
	s.logger.Info("access denied", append(fields, zap.String("reason", reason))...)
	return types.VerifyResponse{AccessGranted: false, Reason: reason}
}

func (s *AccessService) logDenied(op string, cause error, fields ...zap.Field) {
	s.logger.Info(op+" denied", append(fields, zap.String("reason", Reason(cause)))...)
}
