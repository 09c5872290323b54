package fanout_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arc-self/apps/gateway/internal/fanout"
	"github.com/arc-self/apps/gateway/internal/pool"
)

func healthyPool(n int) *pool.Pool {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = "http://node"
	}
	p := pool.New(urls)
	for i := 0; i < n; i++ {
		p.SetHealth(i, pool.Healthy)
	}
	return p
}

func TestStream_HappyPath_AllItemsEmitted(t *testing.T) {
	p := healthyPool(3)
	client := newFakeStorageClient()
	var tally int64

	r := fanout.NewRunner(p, client, fanout.Config{SampleRate: 2, TimeoutSeconds: 15}, &tally, zap.NewNop())
	cids := []string{"a", "b", "c", "d"}

	var got []fanout.Item
	for item := range r.Stream(context.Background(), cids) {
		got = append(got, item)
	}

	require.Len(t, got, len(cids))
	for _, item := range got {
		assert.Equal(t, 200, item.Status)
		assert.Empty(t, item.Err)
	}
}

func TestStream_SampleSizeInvariant(t *testing.T) {
	p := healthyPool(1)
	client := newFakeStorageClient()
	var tally int64

	cids := make([]string, 23)
	for i := range cids {
		cids[i] = "cid"
	}

	r := fanout.NewRunner(p, client, fanout.Config{SampleRate: 10, TimeoutSeconds: 15}, &tally, zap.NewNop())
	for item := range r.Stream(context.Background(), cids) {
		_ = item
	}

	// nsamples = ceil(23/10) = 3
	assert.EqualValues(t, 3, atomic.LoadInt64(&tally))
}

func TestStream_NodeFailureDuringFanOut_OtherItemsStillSucceed(t *testing.T) {
	p := healthyPool(1)
	client := newFakeStorageClient().withBehavior("http://node", func(call int) (int, string, string, error) {
		if call == 2 {
			return 502, "", "N/A", errors.New("upstream exploded")
		}
		return 200, "ok", "N/A", nil
	})
	var tally int64

	r := fanout.NewRunner(p, client, fanout.Config{SampleRate: 100, TimeoutSeconds: 15}, &tally, zap.NewNop())
	cids := []string{"a", "b", "c"}

	var errCount, okCount int
	for item := range r.Stream(context.Background(), cids) {
		if item.Err != "" {
			errCount++
		} else {
			okCount++
		}
	}
	assert.Equal(t, 1, errCount)
	assert.Equal(t, 2, okCount)
}

func TestStream_Deadline_EmitsTimeoutItemAndAbandonsRest(t *testing.T) {
	p := healthyPool(1)
	client := newFakeStorageClient()
	client.delay = 2 * time.Second
	var tally int64

	r := fanout.NewRunner(p, client, fanout.Config{SampleRate: 100, TimeoutSeconds: 1, MaxWorkers: 1}, &tally, zap.NewNop())

	cids := []string{"a", "b", "c", "d", "e"}

	start := time.Now()
	var items []fanout.Item
	for item := range r.Stream(context.Background(), cids) {
		items = append(items, item)
	}
	elapsed := time.Since(start)

	require.NotEmpty(t, items)
	last := items[len(items)-1]
	assert.Contains(t, last.Err, "deadline exceeded")
	assert.True(t, elapsed < 6*time.Second, "deadline must cut off fan-out instead of waiting for every worker")
}

func TestStream_NoHealthyNode_EveryItemErrors(t *testing.T) {
	p := pool.New([]string{"http://node"})
	client := newFakeStorageClient()
	var tally int64

	r := fanout.NewRunner(p, client, fanout.Config{SampleRate: 1, TimeoutSeconds: 15}, &tally, zap.NewNop())
	cids := []string{"a", "b"}

	var items []fanout.Item
	for item := range r.Stream(context.Background(), cids) {
		items = append(items, item)
	}
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, "No healthy IPFS node found", item.Err)
	}
}

func TestStream_EmptyInput_ClosesImmediately(t *testing.T) {
	p := healthyPool(1)
	client := newFakeStorageClient()
	var tally int64
	r := fanout.NewRunner(p, client, fanout.Config{}, &tally, zap.NewNop())

	ch := r.Stream(context.Background(), nil)
	_, ok := <-ch
	assert.False(t, ok)
}
