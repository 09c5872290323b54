package trace_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/apps/span-builder/internal/trace"
)

func TestWithTraceLock_CreatesBucketOnFirstUse(t *testing.T) {
	s := trace.NewStore()
	var createdAt time.Time

	s.WithTraceLock("trace-1", func(b *trace.Bucket) {
		createdAt = b.CreatedAt
		assert.Empty(t, b.Events)
	})

	require.Equal(t, 1, s.Len())

	s.WithTraceLock("trace-1", func(b *trace.Bucket) {
		assert.Equal(t, createdAt, b.CreatedAt, "second call must reuse the same bucket")
	})
}

func TestWithTraceLock_DistinctTracesIndependent(t *testing.T) {
	s := trace.NewStore()

	s.WithTraceLock("trace-a", func(b *trace.Bucket) {
		b.Events[trace.EventKey{NodeID: "n1", SpanName: "X"}] = &trace.PartialSpan{}
	})
	s.WithTraceLock("trace-b", func(b *trace.Bucket) {
		assert.Empty(t, b.Events, "trace-b must not see trace-a's events")
	})

	assert.Equal(t, 2, s.Len())
}

func TestEvict_RemovesBucket(t *testing.T) {
	s := trace.NewStore()
	s.WithTraceLock("trace-1", func(b *trace.Bucket) {})
	require.Equal(t, 1, s.Len())

	s.Evict("trace-1")
	assert.Equal(t, 0, s.Len())

	s.WithTraceLock("trace-1", func(b *trace.Bucket) {
		assert.Empty(t, b.Events, "post-eviction use must start a fresh bucket")
	})
}

func TestEvictStale_RemovesOnlyOldBuckets(t *testing.T) {
	s := trace.NewStore()
	s.WithTraceLock("old", func(b *trace.Bucket) { b.CreatedAt = time.Now().Add(-3 * time.Minute) })
	s.WithTraceLock("fresh", func(b *trace.Bucket) {})

	evicted := s.EvictStale(2 * time.Minute)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, s.Len())
}

func TestPartialSpan_CompleteRequiresBothStages(t *testing.T) {
	p := &trace.PartialSpan{}
	assert.False(t, p.Complete())

	p.Set(trace.StageStart, 100)
	assert.False(t, p.Complete())

	p.Set(trace.StageEnd, 200)
	assert.True(t, p.Complete())
	assert.EqualValues(t, 100, p.StartNS)
	assert.EqualValues(t, 200, p.EndNS)
}

func TestStore_ConcurrentDistinctTraces_NoRace(t *testing.T) {
	s := trace.NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			s.WithTraceLock(id, func(b *trace.Bucket) {
				b.Events[trace.EventKey{NodeID: "n", SpanName: "X"}] = &trace.PartialSpan{}
			})
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, s.Len(), 26)
}
