package challenge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NIGHTX-99/SecureAttend/internal/pki"
)

func TestCanonicalBytes_GoldenForm(t *testing.T) {
	ch := Challenge{
		ChallengeID:   "123e4567-e89b-42d3-a456-426614174000",
		Nonce:         "deadbeef",
		Timestamp:     time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC),
		RoomID:        "CS101",
		DoorID:        "door_001",
		PreviousNonce: "cafebabe",
	}

	// Frozen wire form: fixed key order, compact, microsecond Z timestamp.
	want := `{"nonce":"deadbeef","timestamp":"2026-03-01T09:00:00.123456Z",` +
		`"room_id":"CS101","door_id":"door_001","previous_nonce":"cafebabe",` +
		`"challenge_id":"123e4567-e89b-42d3-a456-426614174000"}`
	assert.Equal(t, want, string(CanonicalBytes(ch)))
}

func TestCanonicalBytes_Deterministic(t *testing.T) {
	ch := Challenge{
		ChallengeID:   "id-1",
		Nonce:         "aa",
		Timestamp:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		RoomID:        "CS101",
		DoorID:        "door_001",
		PreviousNonce: "bb",
	}

	first := CanonicalBytes(ch)
	second := CanonicalBytes(ch)
	assert.Equal(t, first, second)

	// A non-UTC timestamp for the same instant canonicalizes identically.
	shifted := ch
	shifted.Timestamp = ch.Timestamp.In(time.FixedZone("CET", 3600))
	assert.Equal(t, first, CanonicalBytes(shifted))
}

func TestCanonicalTime_MicrosecondPrecision(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 0, 0, 1000, time.UTC)
	assert.Equal(t, "2026-03-01T09:00:00.000001Z", CanonicalTime(ts))

	parsed, err := ParseCanonicalTime("2026-03-01T09:00:00.000001Z")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}

func TestVerifySignature_Roundtrip(t *testing.T) {
	key, err := pki.GenerateRSA(2048)
	require.NoError(t, err)

	ch := Challenge{
		ChallengeID:   "id-1",
		Nonce:         "aa",
		Timestamp:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		RoomID:        "CS101",
		DoorID:        "door_001",
		PreviousNonce: "bb",
	}

	sig, err := pki.Sign(key, CanonicalBytes(ch))
	require.NoError(t, err)
	require.NoError(t, VerifySignature(&key.PublicKey, ch, sig))

	// Signing a different challenge must not verify against this one.
	other := ch
	other.RoomID = "CS102"
	assert.ErrorIs(t, VerifySignature(&key.PublicKey, other, sig), pki.ErrVerifyFailed)
}
