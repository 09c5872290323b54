package fanout_test

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeStorageClient is a hand-rolled storageclient.Client used only by this
// package's tests: per-baseURL behavior keyed by call count, so tests can
// simulate a node failing partway through a fan-out.
type fakeStorageClient struct {
	mu        sync.Mutex
	calls     int
	behaviors map[string]func(call int) (int, string, string, error)
	delay     time.Duration
}

func newFakeStorageClient() *fakeStorageClient {
	return &fakeStorageClient{behaviors: make(map[string]func(call int) (int, string, string, error))}
}

func (f *fakeStorageClient) withBehavior(baseURL string, fn func(call int) (int, string, string, error)) *fakeStorageClient {
	f.behaviors[baseURL] = fn
	return f
}

func (f *fakeStorageClient) Get(ctx context.Context, baseURL, cid string, traced bool) (int, string, string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, "", "N/A", ctx.Err()
		}
	}

	behavior, ok := f.behaviors[baseURL]
	if !ok {
		// Like a real node, answer a traced request with a Trace-id.
		traceID := "N/A"
		if traced {
			traceID = "trace-" + cid
		}
		return 200, fmt.Sprintf("body-for-%s", cid), traceID, nil
	}
	return behavior(call)
}

func (f *fakeStorageClient) Put(ctx context.Context, baseURL string, body []byte) (int, string, error) {
	return 200, "fake-cid", nil
}
