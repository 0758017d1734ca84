package challenge

import (
	"bytes"
	"encoding/json"
	"time"
)

// canonicalTimeLayout renders ISO-8601 UTC with microsecond precision and a
// trailing Z, the frozen wire format for signed timestamps.
const canonicalTimeLayout = "2006-01-02T15:04:05.000000Z"

// CanonicalTime formats t in the canonical wire form.
func CanonicalTime(t time.Time) string {
	return t.UTC().Format(canonicalTimeLayout)
}

// ParseCanonicalTime parses a canonical wire timestamp.
func ParseCanonicalTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// CanonicalBytes produces the exact byte sequence the client signs and the
// verifier hashes: compact JSON, UTF-8, keys in the fixed order
// [nonce, timestamp, room_id, door_id, previous_nonce, challenge_id].
// This encoding is a frozen wire contract; any change breaks interop with
// deployed signers.
func CanonicalBytes(ch Challenge) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeField(&buf, "nonce", ch.Nonce)
	buf.WriteByte(',')
	writeField(&buf, "timestamp", CanonicalTime(ch.Timestamp))
	buf.WriteByte(',')
	writeField(&buf, "room_id", ch.RoomID)
	buf.WriteByte(',')
	writeField(&buf, "door_id", ch.DoorID)
	buf.WriteByte(',')
	writeField(&buf, "previous_nonce", ch.PreviousNonce)
	buf.WriteByte(',')
	writeField(&buf, "challenge_id", ch.ChallengeID)
	buf.WriteByte('}')
	return buf.Bytes()
}

func writeField(buf *bytes.Buffer, key, value string) {
	buf.WriteByte('"')
	buf.WriteString(key)
	buf.WriteString(`":`)
	// json.Marshal of a string never fails and handles all escaping.
	enc, _ := json.Marshal(value)
	buf.Write(enc)
}
