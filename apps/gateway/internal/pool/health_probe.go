package pool

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Prober issues the actual health check against one node. HTTPProber is the
// production implementation; tests substitute a fake.
type Prober interface {
	// Probe reports whether baseURL's health endpoint answered 2xx before
	// ctx's deadline.
	Probe(ctx context.Context, baseURL string) bool
}

// HTTPProber probes a storage node's /api/v0/healthz endpoint.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber constructs a Prober backed by a plain http.Client — the
// caller supplies the deadline via ctx, not a client-level timeout, so one
// client can serve every probe iteration.
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{client: &http.Client{}}
}

func (p *HTTPProber) Probe(ctx context.Context, baseURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v0/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// HealthProbe is the background task that periodically probes every node in
// a Pool and updates its health classification.
type HealthProbe struct {
	pool     *Pool
	prober   Prober
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// NewHealthProbe constructs a HealthProbe. timeout bounds each probe
// iteration (default 15s); interval is the fixed 15s sleep between
// iterations.
func NewHealthProbe(p *Pool, prober Prober, timeout time.Duration, logger *zap.Logger) *HealthProbe {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HealthProbe{pool: p, prober: prober, timeout: timeout, interval: 15 * time.Second, logger: logger}
}

// Run probes every node immediately, then every interval, until ctx is
// cancelled. Intended to run in its own goroutine for the lifetime of the
// process.
func (hp *HealthProbe) Run(ctx context.Context) {
	hp.tick(ctx)

	ticker := time.NewTicker(hp.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hp.logger.Info("health probe stopping")
			return
		case <-ticker.C:
			hp.tick(ctx)
		}
	}
}

// tick launches one probe per node, bounded by hp.timeout, and classifies
// every node that did not answer 2xx before the deadline as Unhealthy — a
// probe failure is never fatal, it only flips that node's status.
func (hp *HealthProbe) tick(ctx context.Context) {
	snap := hp.pool.Snapshot()

	probeCtx, cancel := context.WithTimeout(ctx, hp.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, node := range snap {
		wg.Add(1)
		go func(n NodeDescriptor) {
			defer wg.Done()
			status := Unhealthy
			if hp.prober.Probe(probeCtx, n.BaseURL) {
				status = Healthy
			}
			hp.pool.SetHealth(n.Index, status)
		}(node)
	}
	wg.Wait()
}
