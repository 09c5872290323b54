package catalog

import (
	"context"
	"sync"
)

// FakeStore is an in-memory Store used by tests across the gateway module —
// exported so fanout/handler tests can depend on it without duplicating a
// hand-rolled stub in every package.
type FakeStore struct {
	mu       sync.Mutex
	cids     []CIDRecord
	counters map[string]int64
}

// NewFakeStore constructs an empty in-memory catalog, optionally pre-seeded
// with cids.
func NewFakeStore(cids ...string) *FakeStore {
	records := make([]CIDRecord, len(cids))
	for i, c := range cids {
		records[i] = CIDRecord{CID: c}
	}
	return &FakeStore{cids: records, counters: make(map[string]int64)}
}

func (f *FakeStore) StreamCIDs(ctx context.Context) ([]CIDRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CIDRecord, len(f.cids))
	copy(out, f.cids)
	return out, nil
}

func (f *FakeStore) AppendCID(ctx context.Context, cid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cids = append(f.cids, CIDRecord{CID: cid})
	return nil
}

func (f *FakeStore) IncrementCounter(ctx context.Context, name string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[name] += delta
	return f.counters[name], nil
}

func (f *FakeStore) ClearCIDs(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cids = nil
	return nil
}

// Counter returns the current value of a named counter (test helper).
func (f *FakeStore) Counter(name string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[name]
}
