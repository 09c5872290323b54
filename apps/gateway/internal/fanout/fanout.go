// Package fanout schedules a bounded-parallel GET per content identifier
// against a NodePool, samples a subset for tracing, attaches an end-to-end
// deadline, and yields outcomes in completion order.
package fanout

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arc-self/apps/gateway/internal/pool"
	"github.com/arc-self/apps/gateway/internal/storageclient"
)

// Config bounds a Runner's behavior; zero values fall back to sane defaults.
type Config struct {
	SampleRate     int // default 10
	TimeoutSeconds int // TIMEOUT_IN_SEC, default 15
	MaxWorkers     int // default 512
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 10
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 15
	}
	if c.MaxWorkers <= 0 || c.MaxWorkers > 512 {
		c.MaxWorkers = 512
	}
	return c
}

// Runner is FanOutGet: it owns the pool, the storage client, and the
// process-wide traced-item tally that the counter-flush goroutine
// (flushTracedTally in cmd/api) periodically drains into the catalog.
type Runner struct {
	pool        *pool.Pool
	client      storageclient.Client
	cfg         Config
	tracedTally *int64
	logger      *zap.Logger
}

// NewRunner constructs a Runner. tracedTally must be a pointer shared with
// the counter-flush goroutine so traced-item counts survive across Stream
// invocations.
func NewRunner(p *pool.Pool, client storageclient.Client, cfg Config, tracedTally *int64, logger *zap.Logger) *Runner {
	return &Runner{pool: p, client: client, cfg: cfg.withDefaults(), tracedTally: tracedTally, logger: logger}
}

// ceilDiv computes ⌈a/b⌉ for positive integers.
func ceilDiv(a, b int) int {
	if b <= 0 {
		b = 1
	}
	return (a + b - 1) / b
}

// sampleIndices returns a boolean mask of length l with exactly n (or l, if
// n > l) positions set true, chosen uniformly without replacement.
func sampleIndices(l, n int) []bool {
	mask := make([]bool, l)
	if n >= l {
		for i := range mask {
			mask[i] = true
		}
		return mask
	}
	perm := rand.Perm(l)
	for _, idx := range perm[:n] {
		mask[idx] = true
	}
	return mask
}

// Stream runs the fan-out over cids and returns a channel of Items in
// completion order. The channel is closed once every item (including a
// possible final deadline-error item) has been sent.
func (r *Runner) Stream(ctx context.Context, cids []string) <-chan Item {
	out := make(chan Item)
	go r.run(ctx, cids, out)
	return out
}

func (r *Runner) run(ctx context.Context, cids []string, out chan<- Item) {
	defer close(out)

	l := len(cids)
	if l == 0 {
		return
	}

	healthy := r.pool.HealthyCount()
	if healthy < 1 {
		healthy = 1
	}
	requestTimeout := time.Duration(ceilDiv(l, healthy)) * time.Duration(r.cfg.TimeoutSeconds) * time.Second

	nsamples := int(math.Ceil(float64(l) / float64(r.cfg.SampleRate)))
	if nsamples < 1 {
		nsamples = 1
	}
	traced := sampleIndices(l, nsamples)

	maxWorkers := r.cfg.MaxWorkers
	if maxWorkers > l {
		maxWorkers = l
	}
	sem := make(chan struct{}, maxWorkers)

	deadlineCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	start := time.Now()
	results := make(chan Item, l)
	var wg sync.WaitGroup

	for i, cid := range cids {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, cid string) {
			defer wg.Done()
			defer func() { <-sem }()
			item := r.fetchOne(deadlineCtx, cid, traced[i], start)
			results <- item
		}(i, cid)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for {
		select {
		case item, ok := <-results:
			if !ok {
				// Workers cut short by the deadline close results after it
				// has fired; the timeout item is still owed in that case.
				if deadlineCtx.Err() != nil {
					out <- timeoutItem(requestTimeout)
				}
				return
			}
			if item.Traced {
				atomic.AddInt64(r.tracedTally, 1)
			}
			out <- item
		case <-deadlineCtx.Done():
			out <- timeoutItem(requestTimeout)
			return
		}
	}
}

func timeoutItem(timeout time.Duration) Item {
	return Item{
		Err:     fmt.Sprintf("deadline exceeded after %.2fs", timeout.Seconds()),
		Traced:  false,
		TraceID: "N/A",
	}
}

func (r *Runner) fetchOne(ctx context.Context, cid string, traced bool, start time.Time) Item {
	nodeIndex, err := r.pool.NextHealthy()
	if err != nil {
		return Item{Err: "No healthy IPFS node found", Traced: false, TraceID: "N/A"}
	}

	baseURL := r.pool.BaseURL(nodeIndex)
	status, body, traceID, err := r.client.Get(ctx, baseURL, cid, traced)
	elapsed := time.Since(start).Seconds()
	idx := nodeIndex

	actuallyTraced := traced
	if traceID == "" {
		traceID = "N/A"
	}
	if traceID == "N/A" {
		actuallyTraced = false
	}

	if err != nil {
		return Item{
			Status:         status,
			Err:            err.Error(),
			NodeIndex:      &idx,
			Traced:         actuallyTraced,
			TraceID:        traceID,
			ElapsedSeconds: &elapsed,
		}
	}

	return Item{
		Status:         status,
		Body:           body,
		NodeIndex:      &idx,
		Traced:         actuallyTraced,
		TraceID:        traceID,
		ElapsedSeconds: &elapsed,
	}
}
