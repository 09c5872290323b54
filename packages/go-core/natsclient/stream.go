package natsclient

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamNodeHealth is the durable stream carrying NodePool health
	// snapshots so that multiple Gateway replicas can converge on one view
	// of which storage nodes are healthy instead of disagreeing.
	StreamNodeHealth = "NODE_HEALTH"
	// SubjectNodeHealthSnapshot carries a full health snapshot published by
	// whichever replica's HealthProbe last ran.
	SubjectNodeHealthSnapshot = "NODE_HEALTH.snapshot"
)

var nodeHealthSubjects = []string{SubjectNodeHealthSnapshot}

// ProvisionNodeHealthStream idempotently ensures the NODE_HEALTH JetStream
// stream exists with the correct subject filter. It creates the stream on
// first run and is a no-op if the stream already exists.
func (c *Client) ProvisionNodeHealthStream() error {
	info, err := c.JS.StreamInfo(StreamNodeHealth)
	if err == nil {
		_ = info
		c.Log.Info("NATS stream already exists", zap.String("stream", StreamNodeHealth))
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:      StreamNodeHealth,
		Subjects:  nodeHealthSubjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxMsgs:   1, // only the latest snapshot matters
	}

	if _, err := c.JS.AddStream(cfg); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	c.Log.Info("NATS stream provisioned",
		zap.String("stream", StreamNodeHealth),
		zap.Strings("subjects", nodeHealthSubjects),
	)
	return nil
}
