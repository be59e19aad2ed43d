package dedup

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestNewKeySentinels(t *testing.T) {
	k := NewKey("", "123", "")
	assert.Equal(t, "none:123:none", k.String())
	assert.Equal(t, NewKey("none", "123", "none"), k)
}

func TestSeenWithinWindow(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	c := New(60 * time.Second).WithClock(clk.Now)
	k := NewKey("7", "123", "4")

	assert.False(t, c.Seen(k), "first sighting admits")
	clk.Advance(5 * time.Second)
	assert.True(t, c.Seen(k), "repeat within ttl is a duplicate")

	// a different revision of the same item is a new event
	assert.False(t, c.Seen(NewKey("7", "123", "5")))
}

func TestExpiryAdmitsAgain(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	c := New(60 * time.Second).WithClock(clk.Now)
	k := NewKey("", "123", "")

	assert.False(t, c.Seen(k))
	clk.Advance(60 * time.Second)
	assert.False(t, c.Seen(k), "entry at exactly ttl has expired")
	assert.True(t, c.Seen(k))
}

func TestLazyEviction(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	c := New(time.Second).WithClock(clk.Now)
	for i := 0; i < 100; i++ {
		c.Seen(NewKey("h", strconv.Itoa(i), ""))
	}
	assert.Equal(t, 100, c.Len())

	clk.Advance(2 * time.Second)
	c.Seen(NewKey("h", "fresh", ""))
	assert.Equal(t, 1, c.Len())
}

func TestForget(t *testing.T) {
	c := New(time.Minute)
	k := NewKey("", "9", "")
	assert.False(t, c.Seen(k))
	c.Forget(k)
	assert.False(t, c.Seen(k))
}

func TestConcurrentSeenAdmitsOnce(t *testing.T) {
	c := New(time.Minute)
	k := NewKey("h", "123", "r")
	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen(k) {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), admitted)
}
