// Package echo remembers ids of messages this client just sent so the same
// message re-delivered over push or broadcast can be skipped.
package echo

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/twmb/murmur3"
)

const (
	// DefaultTTL covers a send round trip without keeping ids around for long.
	DefaultTTL = 5 * time.Second

	filterBits   = 1 << 14
	filterHashes = 4
)

// Tracker is a short-lived id set. The exact answer always comes from the
// expiry map. A two-generation bloom filter sits in front of it purely as a
// fast negative path for the common case (push events for ids this client never
// sent); removing it would change no result. A filter false positive falls
// through to the map, so it never drops an event.
type Tracker struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time

	entries map[string]time.Time // id -> expiry

	current   *bitset.BitSet
	previous  *bitset.BitSet
	rotatedAt time.Time
}

type Option func(*Tracker)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func NewTracker(ttl time.Duration, opts ...Option) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	t := &Tracker{
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]time.Time),
		current:  bitset.New(filterBits),
		previous: bitset.New(filterBits),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.rotatedAt = t.now()
	return t
}

// Track registers id for one TTL window.
func (t *Tracker) Track(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.rotate(now)
	t.entries[id] = now.Add(t.ttl)
	for _, bit := range positions(id) {
		t.current.Set(bit)
	}
}

// Seen reports whether id was tracked and has not expired.
func (t *Tracker) Seen(id string) bool {
	if id == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.rotate(now)
	if !t.mayContain(id) {
		return false
	}
	expiry, ok := t.entries[id]
	if !ok {
		return false
	}
	if !now.Before(expiry) {
		delete(t.entries, id)
		return false
	}
	return true
}

// Forget drops id immediately.
func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// Len returns the number of unexpired ids.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweep(now)
	return len(t.entries)
}

// Reset clears everything, used on logout.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[string]time.Time)
	t.current.ClearAll()
	t.previous.ClearAll()
	t.rotatedAt = t.now()
}

func (t *Tracker) mayContain(id string) bool {
	bits := positions(id)
	return testAll(t.current, bits) || testAll(t.previous, bits)
}

// rotate ages the filter generations once per TTL. An id tracked in the current
// generation survives one more window in the previous one, which always covers its expiry.
func (t *Tracker) rotate(now time.Time) {
	elapsed := now.Sub(t.rotatedAt)
	if elapsed < t.ttl {
		return
	}
	if elapsed >= 2*t.ttl {
		t.current.ClearAll()
		t.previous.ClearAll()
	} else {
		t.previous, t.current = t.current, t.previous
		t.current.ClearAll()
	}
	t.rotatedAt = now
	t.sweep(now)
}

func (t *Tracker) sweep(now time.Time) {
	for id, expiry := range t.entries {
		if !now.Before(expiry) {
			delete(t.entries, id)
		}
	}
}

func positions(id string) [filterHashes]uint {
	h1, h2 := murmur3.Sum128([]byte(id))
	var out [filterHashes]uint
	for i := range filterHashes {
		out[i] = uint((h1 + uint64(i)*h2) % filterBits)
	}
	return out
}

func testAll(b *bitset.BitSet, bits [filterHashes]uint) bool {
	for _, bit := range bits {
		if !b.Test(bit) {
			return false
		}
	}
	return true
}
