package echo

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker(ttl time.Duration) (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return NewTracker(ttl, WithClock(clock.Now)), clock
}

func TestTracker_TrackAndSeen(t *testing.T) {
	tr, clock := newTestTracker(3 * time.Second)

	assert.False(t, tr.Seen("m1"))
	tr.Track("m1")
	assert.True(t, tr.Seen("m1"))

	clock.Advance(500 * time.Millisecond)
	assert.True(t, tr.Seen("m1"))
	assert.False(t, tr.Seen("m2"))
}

func TestTracker_Expiry(t *testing.T) {
	tr, clock := newTestTracker(3 * time.Second)
	tr.Track("m1")

	clock.Advance(2999 * time.Millisecond)
	assert.True(t, tr.Seen("m1"))

	clock.Advance(time.Millisecond)
	assert.False(t, tr.Seen("m1"))
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_SurvivesRotation(t *testing.T) {
	tr, clock := newTestTracker(3 * time.Second)

	clock.Advance(2 * time.Second)
	tr.Track("m1")

	// crosses one rotation boundary, still inside its own window
	clock.Advance(2 * time.Second)
	assert.True(t, tr.Seen("m1"))

	clock.Advance(2 * time.Second)
	assert.False(t, tr.Seen("m1"))
}

func TestTracker_LongIdleClearsFilters(t *testing.T) {
	tr, clock := newTestTracker(time.Second)
	tr.Track("m1")

	clock.Advance(10 * time.Second)
	assert.False(t, tr.Seen("m1"))
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_ResetAndForget(t *testing.T) {
	tr, _ := newTestTracker(time.Minute)
	tr.Track("a")
	tr.Track("b")
	assert.Equal(t, 2, tr.Len())

	tr.Forget("a")
	assert.False(t, tr.Seen("a"))
	assert.True(t, tr.Seen("b"))

	tr.Reset()
	assert.False(t, tr.Seen("b"))
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_EmptyID(t *testing.T) {
	tr, _ := newTestTracker(time.Minute)
	tr.Track("")
	assert.False(t, tr.Seen(""))
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_ManyIDsNoFalseDrops(t *testing.T) {
	tr, _ := newTestTracker(time.Minute)
	for i := range 2000 {
		tr.Track(fmt.Sprintf("sent-%d", i))
	}
	for i := range 2000 {
		assert.False(t, tr.Seen(fmt.Sprintf("other-%d", i)))
	}
	assert.True(t, tr.Seen("sent-1999"))
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker(time.Minute)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Go(func() {
			for i := range 100 {
				id := fmt.Sprintf("g%d-%d", g, i)
				tr.Track(id)
				if !tr.Seen(id) {
					t.Errorf("id %s not seen right after tracking", id)
				}
			}
		})
	}
	wg.Wait()
	assert.Equal(t, 800, tr.Len())
}

func TestNewTracker_DefaultTTL(t *testing.T) {
	tr := NewTracker(0)
	assert.Equal(t, DefaultTTL, tr.ttl)
}

// 布隆过滤器只是快速否定路径：任意操作序列下 Seen 都与精确集合一致
func TestTracker_MatchesExactSet(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ttl := time.Duration(rapid.IntRange(1, 10).Draw(rt, "ttl")) * time.Second
		tr, clock := newTestTracker(ttl)
		expiry := map[string]time.Time{}
		id := rapid.SampledFrom([]string{"m1", "m2", "m3", "m4", "m5"})

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				k := id.Draw(rt, "track")
				tr.Track(k)
				expiry[k] = clock.Now().Add(ttl)
			case 1:
				k := id.Draw(rt, "forget")
				tr.Forget(k)
				delete(expiry, k)
			case 2:
				clock.Advance(time.Duration(rapid.IntRange(0, 3000).Draw(rt, "ms")) * time.Millisecond)
			case 3:
				k := id.Draw(rt, "seen")
				exp, ok := expiry[k]
				want := ok && clock.Now().Before(exp)
				if got := tr.Seen(k); got != want {
					rt.Fatalf("Seen(%q) = %v, want %v", k, got, want)
				}
			}
		}
	})
}
