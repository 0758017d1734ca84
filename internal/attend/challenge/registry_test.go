package challenge

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const qrNonce = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func newTestRegistry() *Registry {
	return NewRegistry(Config{TTL: 30 * time.Second, NonceWindow: 5 * time.Minute})
}

func TestGenerate_IssuesPendingChallenge(t *testing.T) {
	r := newTestRegistry()

	ch, err := r.Generate("12345", "CS101", "door_001", qrNonce, t0)
	require.NoError(t, err)

	assert.Len(t, ch.Nonce, 64) // 256 bits, hex
	assert.NotEqual(t, ch.PreviousNonce, ch.Nonce)
	assert.NotEmpty(t, ch.ChallengeID)
	assert.Equal(t, "CS101", ch.RoomID)
	assert.Equal(t, "door_001", ch.DoorID)
	assert.Equal(t, "12345", ch.SubjectSerial)

	got, state, ok := r.Lookup(ch.ChallengeID)
	require.True(t, ok)
	assert.Equal(t, StatePending, state)
	assert.Equal(t, ch.Nonce, got.Nonce)
}

func TestGenerate_RejectsReplayedPreviousNonce(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Generate("1", "CS101", "door_001", qrNonce, t0)
	require.NoError(t, err)

	// Same QR nonce inside the window is a replay.
	_, err = r.Generate("1", "CS101", "door_001", qrNonce, t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrReplayedNonce)

	// The issued nonce is also poisoned as a future previous_nonce.
	ch, err := r.Generate("1", "CS101", "door_001", strings.Repeat("b", 64), t0)
	require.NoError(t, err)
	_, err = r.Generate("1", "CS101", "door_001", ch.Nonce, t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrReplayedNonce)
}

func TestGenerate_ReplayWindowAges(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Generate("1", "CS101", "door_001", qrNonce, t0)
	require.NoError(t, err)

	// At exactly the window boundary the nonce ages out.
	_, err = r.Generate("1", "CS101", "door_001", qrNonce, t0.Add(5*time.Minute))
	assert.NoError(t, err)
}

func TestConsume_HappyPath(t *testing.T) {
	r := newTestRegistry()

	ch, err := r.Generate("1", "CS101", "door_001", qrNonce, t0)
	require.NoError(t, err)

	got, err := r.Consume(ch.Nonce, t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, ch.ChallengeID, got.ChallengeID)

	_, state, ok := r.Lookup(ch.ChallengeID)
	require.True(t, ok)
	assert.Equal(t, StateConsumed, state)

	// Terminal states never re-transition.
	_, err = r.Consume(ch.Nonce, t0.Add(11*time.Second))
	assert.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestConsume_Unknown(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Consume(strings.Repeat("c", 64), t0)
	assert.ErrorIs(t, err, ErrUnknownChallenge)
}

func TestConsume_ExpiresAfterTTL(t *testing.T) {
	r := newTestRegistry()

	ch, err := r.Generate("1", "CS101", "door_001", qrNonce, t0)
	require.NoError(t, err)

	_, err = r.Consume(ch.Nonce, t0.Add(31*time.Second))
	assert.ErrorIs(t, err, ErrChallengeExpired)

	// The TTL failure flips the record to Expired for observability.
	_, state, ok := r.Lookup(ch.ChallengeID)
	require.True(t, ok)
	assert.Equal(t, StateExpired, state)

	// And the terminal state sticks even inside the TTL math.
	_, err = r.Consume(ch.Nonce, t0.Add(5*time.Second))
	assert.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestConsume_ExactlyOnceUnderConcurrency(t *testing.T) {
	r := newTestRegistry()

	ch, err := r.Generate("1", "CS101", "door_001", qrNonce, t0)
	require.NoError(t, err)

	const workers = 32
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Consume(ch.Nonce, t0.Add(time.Second))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, alreadyConsumed int
	for err := range results {
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, ErrAlreadyConsumed)
			alreadyConsumed++
		}
	}
	assert.Equal(t, 1, ok, "exactly one consumer must win")
	assert.Equal(t, workers-1, alreadyConsumed)
}

func TestSweep_RemovesTerminalAndAgedEntries(t *testing.T) {
	r := newTestRegistry()

	ch1, err := r.Generate("1", "CS101", "door_001", qrNonce, t0)
	require.NoError(t, err)
	_, err = r.Consume(ch1.Nonce, t0.Add(time.Second))
	require.NoError(t, err)

	ch2, err := r.Generate("1", "CS101", "door_001", strings.Repeat("b", 64), t0)
	require.NoError(t, err)

	// Nothing old enough yet; ch2 merely expires in place.
	removed := r.Sweep(t0.Add(time.Minute))
	assert.Equal(t, 0, removed)
	_, state, ok := r.Lookup(ch2.ChallengeID)
	require.True(t, ok)
	assert.Equal(t, StateExpired, state)

	// Past the nonce window everything terminal is gone.
	removed = r.Sweep(t0.Add(10 * time.Minute))
	assert.Equal(t, 2, removed)
	_, _, ok = r.Lookup(ch1.ChallengeID)
	assert.False(t, ok)
	_, _, ok = r.Lookup(ch2.ChallengeID)
	assert.False(t, ok)
}
