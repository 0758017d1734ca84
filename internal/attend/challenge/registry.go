package challenge

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrReplayedNonce    = errors.New("previous nonce already seen (possible replay)")
	ErrUnknownChallenge = errors.New("unknown challenge")
	ErrAlreadyConsumed  = errors.New("challenge already consumed")
	ErrChallengeExpired = errors.New("challenge expired")
)

const (
	nonceBytes = 32

	// maxSeenNonces bounds the seen set so a flood of QR scans cannot grow
	// it without limit; oldest entries are evicted first.
	maxSeenNonces = 1 << 16
)

// Config holds the challenge registry timing knobs.
type Config struct {
	TTL         time.Duration
	NonceWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.NonceWindow <= 0 {
		c.NonceWindow = 5 * time.Minute
	}
}

type record struct {
	ch     Challenge
	state  State
	doneAt time.Time
}

type seenEntry struct {
	nonce string
	at    time.Time
}

// Registry issues challenges, tracks their pending state, and enforces nonce
// uniqueness over the replay window. All transitions happen under one lock so
// two concurrent consumers of the same nonce cannot both succeed.
type Registry struct {
	cfg Config

	mu      sync.Mutex
	byNonce map[string]*record
	byID    map[string]string
	seen    map[string]time.Time
	seenQ   []seenEntry
}

func NewRegistry(cfg Config) *Registry {
	cfg.applyDefaults()
	return &Registry{
		cfg:     cfg,
		byNonce: make(map[string]*record),
		byID:    make(map[string]string),
		seen:    make(map[string]time.Time),
	}
}

// Generate issues a fresh Pending challenge. The previous nonce (from the
// presented QR code) is rejected if it was already seen inside the replay
// window, then both it and the new nonce enter the seen set.
func (r *Registry) Generate(subjectSerial, roomID, doorID, previousNonce string, now time.Time) (Challenge, error) {
	now = now.UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	if at, ok := r.seen[previousNonce]; ok && now.Sub(at) < r.cfg.NonceWindow {
		return Challenge{}, ErrReplayedNonce
	}

	nonce, err := r.freshNonceLocked(previousNonce)
	if err != nil {
		return Challenge{}, err
	}

	ch := Challenge{
		ChallengeID:   uuid.NewString(),
		Nonce:         nonce,
		Timestamp:     now,
		RoomID:        roomID,
		DoorID:        doorID,
		PreviousNonce: previousNonce,
		SubjectSerial: subjectSerial,
	}

	r.byNonce[nonce] = &record{ch: ch, state: StatePending}
	r.byID[ch.ChallengeID] = nonce
	r.markSeenLocked(previousNonce, now)
	r.markSeenLocked(nonce, now)

	return ch, nil
}

// Consume atomically transitions a Pending challenge to Consumed. Exactly one
// of any number of concurrent callers for the same nonce succeeds.
func (r *Registry) Consume(nonce string, now time.Time) (Challenge, error) {
	now = now.UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byNonce[nonce]
	if !ok {
		return Challenge{}, ErrUnknownChallenge
	}
	if rec.state != StatePending {
		return Challenge{}, ErrAlreadyConsumed
	}
	if now.Sub(rec.ch.Timestamp) > r.cfg.TTL {
		rec.state = StateExpired
		rec.doneAt = now
		return Challenge{}, ErrChallengeExpired
	}

	rec.state = StateConsumed
	rec.doneAt = now
	return rec.ch, nil
}

// Lookup returns the challenge registered under challengeID and its state.
func (r *Registry) Lookup(challengeID string) (Challenge, State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nonce, ok := r.byID[challengeID]
	if !ok {
		return Challenge{}, "", false
	}
	rec := r.byNonce[nonce]
	return rec.ch, rec.state, true
}

// Sweep expires overdue pending challenges, drops terminal records older than
// the nonce window, and ages out seen entries at exactly the nonce window.
// Returns the number of challenge records removed.
func (r *Registry) Sweep(now time.Time) int {
	now = now.UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for nonce, rec := range r.byNonce {
		if rec.state == StatePending && now.Sub(rec.ch.Timestamp) > r.cfg.TTL {
			rec.state = StateExpired
			rec.doneAt = now
		}
		if rec.state == StatePending {
			continue
		}
		if now.Sub(rec.doneAt) >= r.cfg.NonceWindow {
			delete(r.byNonce, nonce)
			delete(r.byID, rec.ch.ChallengeID)
			removed++
		}
	}

	kept := r.seenQ[:0]
	for _, e := range r.seenQ {
		if now.Sub(e.at) >= r.cfg.NonceWindow {
			// Only drop the map entry if it was not refreshed since.
			if at, ok := r.seen[e.nonce]; ok && at.Equal(e.at) {
				delete(r.seen, e.nonce)
			}
			continue
		}
		kept = append(kept, e)
	}
	r.seenQ = kept

	return removed
}

// freshNonceLocked draws a 256-bit nonce, retrying on the astronomically
// rare collision with a live, seen, or just-presented nonce.
func (r *Registry) freshNonceLocked(previousNonce string) (string, error) {
	for {
		raw := make([]byte, nonceBytes)
		if _, err := rand.Read(raw); err != nil {
			return "", fmt.Errorf("draw nonce: %w", err)
		}
		nonce := hex.EncodeToString(raw)

		if nonce == previousNonce {
			continue
		}
		if _, live := r.byNonce[nonce]; live {
			continue
		}
		if _, seen := r.seen[nonce]; seen {
			continue
		}
		return nonce, nil
	}
}

func (r *Registry) markSeenLocked(nonce string, now time.Time) {
	if nonce == "" {
		return
	}
	r.seen[nonce] = now
	r.seenQ = append(r.seenQ, seenEntry{nonce: nonce, at: now})

	for len(r.seenQ) > maxSeenNonces {
		e := r.seenQ[0]
		r.seenQ = r.seenQ[1:]
		if at, ok := r.seen[e.nonce]; ok && at.Equal(e.at) {
			delete(r.seen, e.nonce)
		}
	}
}
