package service

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NIGHTX-99/SecureAttend/internal/attend/challenge"
	"github.com/NIGHTX-99/SecureAttend/internal/attend/store"
	"github.com/NIGHTX-99/SecureAttend/internal/attend/types"
	"github.com/NIGHTX-99/SecureAttend/internal/pki"
)

var (
	ErrRecordTampered = errors.New("attendance record integrity check failed")
)

// Recorder builds, signs, and persists tamper-evident attendance records.
// The signing key is the backend identity: a dedicated server key issued by
// the CA, or the CA key itself when no server identity is configured.
type Recorder struct {
	store      store.AttendanceStore
	signingKey *rsa.PrivateKey
	signingPub *rsa.PublicKey
}

func NewRecorder(st store.AttendanceStore, signingKey *rsa.PrivateKey) *Recorder {
	return &Recorder{
		store:      st,
		signingKey: signingKey,
		signingPub: &signingKey.PublicKey,
	}
}

// SigningPublicKey returns the key records can be re-verified against.
func (r *Recorder) SigningPublicKey() *rsa.PublicKey { return r.signingPub }

// Record hashes the canonical record bytes, signs the hash, and inserts the
// row. Duplicate (student, room, timestamp) triples fail with
// store.ErrDuplicateRecord.
func (r *Recorder) Record(ctx context.Context, studentID, roomID, doorID string, ts time.Time) (types.AttendanceRecord, error) {
	ts = ts.UTC().Truncate(time.Microsecond)

	canonical := CanonicalRecordBytes(studentID, roomID, doorID, ts)
	recordHash := pki.SHA256Hex(canonical)

	sig, err := pki.Sign(r.signingKey, []byte(recordHash))
	if err != nil {
		return types.AttendanceRecord{}, fmt.Errorf("sign attendance record: %w", err)
	}

	rec := types.AttendanceRecord{
		StudentID:        studentID,
		RoomID:           roomID,
		DoorID:           doorID,
		Timestamp:        ts,
		RecordHash:       recordHash,
		BackendSignature: sig,
	}
	return r.store.Insert(ctx, rec)
}

// Query proxies the store's filtered read.
func (r *Recorder) Query(ctx context.Context, f store.AttendanceFilter) ([]types.AttendanceRecord, error) {
	return r.store.Query(ctx, f)
}

// VerifyRecord re-derives the canonical bytes and checks both the stored hash
// and the backend signature, so integrity can be re-checked offline.
func (r *Recorder) VerifyRecord(rec types.AttendanceRecord) error {
	canonical := CanonicalRecordBytes(rec.StudentID, rec.RoomID, rec.DoorID, rec.Timestamp)
	if pki.SHA256Hex(canonical) != rec.RecordHash {
		return ErrRecordTampered
	}
	if err := challenge.VerifyBytes(r.signingPub, []byte(rec.RecordHash), rec.BackendSignature); err != nil {
		return ErrRecordTampered
	}
	return nil
}

// CanonicalRecordBytes is the frozen signing input for attendance records:
// compact JSON with the keys in lexicographic order.
func CanonicalRecordBytes(studentID, roomID, doorID string, ts time.Time) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeRecordField(&buf, "door_id", doorID)
	buf.WriteByte(',')
	writeRecordField(&buf, "room_id", roomID)
	buf.WriteByte(',')
	writeRecordField(&buf, "student_id", studentID)
	buf.WriteByte(',')
	writeRecordField(&buf, "timestamp", challenge.CanonicalTime(ts))
	buf.WriteByte('}')
	return buf.Bytes()
}

func writeRecordField(buf *bytes.Buffer, key, value string) {
	buf.WriteByte('"')
	buf.WriteString(key)
	buf.WriteString(`":`)
	enc, _ := json.Marshal(value)
	buf.Write(enc)
}
