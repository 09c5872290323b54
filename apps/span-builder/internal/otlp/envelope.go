// Package otlp builds the fixed OTLP/HTTP resource-spans envelope and posts
// it to a downstream collector. The envelope shape is bespoke JSON rather
// than the full OTel SDK exporter: the collector only ever receives exactly
// one span per request, so there is no batching logic to own.
package otlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/arc-self/apps/span-builder/internal/assembler"
)

// serverKind is the fixed OTLP span kind value: every emitted span is a
// server span per the downstream schema, regardless of its role in the
// causal graph.
const serverKind = 2

type attribute struct {
	Key   string      `json:"key"`
	Value attrValue   `json:"value"`
}

type attrValue struct {
	StringValue string `json:"stringValue"`
}

type resource struct {
	Attributes []attribute `json:"attributes"`
}

type span struct {
	TraceID           string `json:"traceId"`
	SpanID            string `json:"spanId"`
	ParentSpanID      string `json:"parentSpanId"`
	StartTimeUnixNano string `json:"startTimeUnixNano"`
	EndTimeUnixNano   string `json:"endTimeUnixNano"`
	Name              string `json:"name"`
	Kind              int    `json:"kind"`
}

type scopeSpans struct {
	Spans []span `json:"spans"`
}

type resourceSpans struct {
	Resource   resource     `json:"resource"`
	ScopeSpans []scopeSpans `json:"scopeSpans"`
}

// Envelope is the top-level OTLP/HTTP trace-export request body.
type Envelope struct {
	ResourceSpans []resourceSpans `json:"resourceSpans"`
}

// BuildEnvelope wraps a single AssembledSpan in the fixed resource-spans
// envelope the collector expects. An empty parent is always encoded as the
// empty string, never omitted.
func BuildEnvelope(serviceName string, traceID string, s assembler.AssembledSpan) Envelope {
	return Envelope{
		ResourceSpans: []resourceSpans{{
			Resource: resource{
				Attributes: []attribute{
					{Key: "service.name", Value: attrValue{StringValue: serviceName}},
				},
			},
			ScopeSpans: []scopeSpans{{
				Spans: []span{{
					TraceID:           traceID,
					SpanID:            s.SpanID,
					ParentSpanID:      s.ParentSpanID,
					StartTimeUnixNano: strconv.FormatInt(s.StartNS, 10),
					EndTimeUnixNano:   strconv.FormatInt(s.EndNS, 10),
					Name:              s.SpanName,
					Kind:              serverKind,
				}},
			}},
		}},
	}
}

// Poster sends a pre-built JSON payload to the collector. Separated from
// Emitter so tests can substitute a recording fake without standing up an
// HTTP server.
type Poster interface {
	Post(ctx context.Context, url string, body []byte) error
}

// HTTPPoster is the production Poster, optionally attaching a bearer token
// sourced from Vault for collectors that require authenticated ingest.
type HTTPPoster struct {
	Client      *http.Client
	BearerToken string
}

// NewHTTPPoster constructs an HTTPPoster with a bounded request timeout.
func NewHTTPPoster(bearerToken string) *HTTPPoster {
	return &HTTPPoster{
		Client:      &http.Client{Timeout: 10 * time.Second},
		BearerToken: bearerToken,
	}
}

// Post implements Poster.
func (p *HTTPPoster) Post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building collector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.BearerToken)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to collector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}

// Emitter implements assembler.Emitter by posting the fixed OTLP envelope
// for each span to collectorURL.
type Emitter struct {
	collectorURL string
	poster       Poster
}

// NewEmitter constructs an Emitter targeting collectorURL via poster.
func NewEmitter(collectorURL string, poster Poster) *Emitter {
	return &Emitter{collectorURL: collectorURL, poster: poster}
}

// Emit implements assembler.Emitter, building and posting the fixed
// envelope for a single completed span.
func (e *Emitter) Emit(ctx context.Context, serviceName string, s assembler.AssembledSpan) error {
	envelope := BuildEnvelope(serviceName, s.TraceID, s)
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshaling OTLP envelope: %w", err)
	}
	return e.poster.Post(ctx, e.collectorURL+"/v1/traces", body)
}
