// Package healthsync broadcasts and adopts NodePool health snapshots across
// Gateway replicas over NATS JetStream, so a multi-replica deployment
// converges on one health view instead of every replica probing (and
// sometimes disagreeing) independently. It is optional: the Gateway runs
// correctly with probing-only, local-only health when NATS is unconfigured.
package healthsync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/arc-self/apps/gateway/internal/pool"
	"github.com/arc-self/packages/go-core/natsclient"
)

// Publisher implements pool.Publisher by publishing each snapshot to the
// NODE_HEALTH.snapshot subject.
type Publisher struct {
	client *natsclient.Client
}

// NewPublisher wraps an already-connected NATS client.
func NewPublisher(client *natsclient.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishSnapshot marshals and publishes the snapshot. Publish failures are
// logged, never returned — a broadcast failure must not fail the health
// mutation that triggered it.
func (p *Publisher) PublishSnapshot(snapshot []pool.NodeDescriptor) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		p.client.Log.Error("healthsync: marshal snapshot failed", zap.Error(err))
		return
	}
	if _, err := p.client.JS.Publish(natsclient.SubjectNodeHealthSnapshot, data); err != nil {
		p.client.Log.Error("healthsync: publish snapshot failed", zap.Error(err))
	}
}

// Subscribe adopts peer-published snapshots into the local pool for the
// lifetime of ctx. Each message is applied via pool.ApplyRemote, which only
// accepts entries newer than the local record — so a replica that is itself
// actively probing never has its own fresher results clobbered.
func Subscribe(ctx context.Context, client *natsclient.Client, p *pool.Pool) error {
	sub, err := client.JS.Subscribe(natsclient.SubjectNodeHealthSnapshot, func(msg *nats.Msg) {
		var snapshot []pool.NodeDescriptor
		if err := json.Unmarshal(msg.Data, &snapshot); err != nil {
			client.Log.Error("healthsync: unmarshal snapshot failed", zap.Error(err))
			return
		}
		p.ApplyRemote(snapshot)
	}, nats.DeliverNew())
	if err != nil {
		return fmt.Errorf("healthsync: subscribe: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}
