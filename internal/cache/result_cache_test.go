package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/paperpilot/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestGetOrCompute_TTLExpiryRecomputes(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(16, WithClock(clock.Now))
	ctx := context.Background()

	var calls int
	fn := func(context.Context) ([]string, error) {
		calls++
		return []string{"p1", "p2"}, nil
	}

	got, err := GetOrCompute(ctx, c, "k", time.Hour, fn)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, got)

	clock.Advance(59 * time.Minute)
	_, err = GetOrCompute(ctx, c, "k", time.Hour, fn)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "entry within ttl must be served from cache")

	clock.Advance(2 * time.Minute)
	_, err = GetOrCompute(ctx, c, "k", time.Hour, fn)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "expired entry must be recomputed")
}

func TestGetOrCompute_CorruptEntryIsMiss(t *testing.T) {
	c := New(16)
	c.Set("k", []byte("{not json"), time.Hour)

	got, err := GetOrCompute(context.Background(), c, "k", time.Hour, func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	blob, err := c.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "7", string(blob))
}

func TestGetOrCompute_ErrorIsNotStored(t *testing.T) {
	c := New(16)
	boom := errors.New("boom")

	_, err := GetOrCompute(context.Background(), c, "k", time.Hour, func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = c.Get("k")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestGetOrCompute_CollapsesConcurrentMisses(t *testing.T) {
	c := New(16)
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := GetOrCompute(context.Background(), c, "k", time.Hour, fn)
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	_, err := c.Get("k")
	assert.NoError(t, err)
}

func TestInvalidate(t *testing.T) {
	c := New(16)
	c.Set("k", []byte(`"x"`), time.Hour)
	c.Invalidate("k")
	_, err := c.Get("k")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestKeysAreOrderIndependent(t *testing.T) {
	a := domain.KeywordPayload{
		CoreKeywordsEn:   []string{"Knowledge Graph", "ontology"},
		ExtendedKeywords: []string{"link prediction"},
		TimeRange:        domain.TimeRangeRecent5Years,
	}
	b := domain.KeywordPayload{
		CoreKeywordsEn:   []string{"link prediction", " ontology "},
		ExtendedKeywords: []string{"knowledge graph"},
		TimeRange:        domain.TimeRangeRecent5Years,
	}
	assert.Equal(t, QueryKey("KG", a), QueryKey("kg ", b))
	assert.Equal(t, SourceKey("arxiv", a), SourceKey("arxiv", b))
	assert.NotEqual(t, SourceKey("arxiv", a), SourceKey("openalex", a))

	b.TimeRange = domain.TimeRangeAllTime
	assert.NotEqual(t, QueryKey("kg", a), QueryKey("kg", b))
	assert.NotEqual(t, UserKey("u1", 10), UserKey("u2", 10))
	assert.NotEqual(t, UserKey("u1", 2), UserKey("u1", 10))
}

func TestInvalidatePrefix_DropsEveryListOfUser(t *testing.T) {
	c := New(16)
	c.Set(UserKey("u1", 2), []byte(`[]`), time.Hour)
	c.Set(UserKey("u1", 10), []byte(`[]`), time.Hour)
	c.Set(UserKey("u2", 10), []byte(`[]`), time.Hour)

	assert.Equal(t, 2, c.InvalidatePrefix(UserPrefix("u1")))

	_, err := c.Get(UserKey("u1", 10))
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
	_, err = c.Get(UserKey("u2", 10))
	assert.NoError(t, err)
}
