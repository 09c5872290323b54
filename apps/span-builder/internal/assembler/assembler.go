// Package assembler runs the pairing-and-lineage algorithm over a trace's
// event table: it turns complete PartialSpans into AssembledSpans, assigns
// each a parent per the fixed causal graph, and gates emission until the
// full mandatory event taxonomy has been observed.
package assembler

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/arc-self/apps/span-builder/internal/trace"
)

// Span-name taxonomy. These are the only five span-names the causal graph
// recognizes; any other name is carried in the event table but never
// emitted (it has no parent edge and is not one of the two roots).
const (
	GetProvidersClient = "GET_PROVIDERS_CLIENT"
	GetProvidersServer = "GET_PROVIDERS_SERVER"
	BitswapClient      = "BITSWAP_CLIENT"
	BitswapServer      = "BITSWAP_SERVER"
	ReadFromFileStore  = "READ_FROM_FILE_STORE"
)

// MandatorySpanNames is the taxonomy that must be fully observed, complete,
// before any span in a trace is emitted.
var MandatorySpanNames = []string{
	GetProvidersClient, GetProvidersServer, BitswapClient, BitswapServer, ReadFromFileStore,
}

// parentEdge describes where a span-name's parent must be found: on the
// peer node (peer_node_id) or the same node.
type parentEdge struct {
	parentName string
	samePeer   bool // true: search same node; false: search peer_node_id
}

// parentOf is the sole source of lineage. GET_PROVIDERS_CLIENT and
// BITSWAP_CLIENT are roots and have no entry.
var parentOf = map[string]parentEdge{
	GetProvidersServer: {parentName: GetProvidersClient, samePeer: false},
	BitswapServer:      {parentName: BitswapClient, samePeer: false},
	ReadFromFileStore:  {parentName: BitswapServer, samePeer: true},
}

// AssembledSpan is a fully paired span with its lineage resolved — or not
// yet resolved, if its required parent hasn't arrived.
type AssembledSpan struct {
	SpanID       string
	TraceID      string
	NodeID       string
	PeerNodeID   string
	SpanName     string
	StartNS      int64
	EndNS        int64
	ParentSpanID string // "" for roots; unset (not emittable) is tracked separately
	emittable    bool
}

// SpanID computes the deterministic 16-hex-char identity of a span, used
// both as the OTLP span id and as the SpanDedupe key — the same input
// always yields the same id, so dedupe works across repeated ingests of
// the same raw events.
func SpanID(traceID, nodeID, peerNodeID, spanName string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%s_%s_%s", traceID, nodeID, peerNodeID, spanName)))
	return hex.EncodeToString(sum[:])[:16]
}

// candidates builds one AssembledSpan per complete PartialSpan in the
// bucket — before lineage or the completeness gate is applied.
func candidates(traceID string, bucket *trace.Bucket) []AssembledSpan {
	out := make([]AssembledSpan, 0, len(bucket.Events))
	for key, span := range bucket.Events {
		if !span.Complete() {
			continue
		}
		out = append(out, AssembledSpan{
			SpanID:     SpanID(traceID, key.NodeID, key.PeerNodeID, key.SpanName),
			TraceID:    traceID,
			NodeID:     key.NodeID,
			PeerNodeID: key.PeerNodeID,
			SpanName:   key.SpanName,
			StartNS:    span.StartNS,
			EndNS:      span.EndNS,
		})
	}
	return out
}

// resolveLineage assigns parent_span_id to every candidate whose parent
// requirement is satisfied, per the fixed causal graph. Candidates whose
// required parent has not yet arrived are left unresolved (not emittable).
func resolveLineage(spans []AssembledSpan) []AssembledSpan {
	find := func(nodeID, spanName string) (AssembledSpan, bool) {
		for _, s := range spans {
			if s.NodeID == nodeID && s.SpanName == spanName {
				return s, true
			}
		}
		return AssembledSpan{}, false
	}

	for i := range spans {
		edge, needsParent := parentOf[spans[i].SpanName]
		if !needsParent {
			// Only the two client span-names are roots; any other name
			// without a parent edge is outside the taxonomy.
			name := spans[i].SpanName
			spans[i].ParentSpanID = ""
			spans[i].emittable = name == GetProvidersClient || name == BitswapClient
			continue
		}

		lookupNode := spans[i].PeerNodeID
		if edge.samePeer {
			lookupNode = spans[i].NodeID
		}

		parent, found := find(lookupNode, edge.parentName)
		if !found {
			spans[i].emittable = false
			continue
		}
		spans[i].ParentSpanID = parent.SpanID
		spans[i].emittable = true
	}
	return spans
}

// observedAllMandatory reports whether every mandatory span-name has at
// least one complete PartialSpan in the bucket — the completeness gate
// that must open before anything in this trace is emitted.
func observedAllMandatory(bucket *trace.Bucket) bool {
	seen := make(map[string]bool, len(MandatorySpanNames))
	for key, span := range bucket.Events {
		if span.Complete() {
			seen[key.SpanName] = true
		}
	}
	for _, name := range MandatorySpanNames {
		if !seen[name] {
			return false
		}
	}
	return true
}

// Assemble runs candidate construction, lineage resolution, and the
// completeness gate, returning only spans that are both fully lineaged and
// permitted to emit. Dedupe against spans already sent is the caller's
// responsibility (Service does it, keyed by SpanID).
func Assemble(traceID string, bucket *trace.Bucket) []AssembledSpan {
	if !observedAllMandatory(bucket) {
		return nil
	}

	spans := resolveLineage(candidates(traceID, bucket))
	out := make([]AssembledSpan, 0, len(spans))
	for _, s := range spans {
		if s.emittable {
			out = append(out, s)
		}
	}
	return out
}

// Emitter posts a single assembled span to the downstream collector.
type Emitter interface {
	Emit(ctx context.Context, serviceName string, span AssembledSpan) error
}

// Dedupe is the bounded FIFO of already-emitted span-ids.
type Dedupe interface {
	Contains(id string) bool
	Add(id string)
}

// DefaultBucketTTL is used when a caller passes ttl <= 0; it matches the
// default TRACE_BUCKET_TTL_SEC in span-builder's config.
const DefaultBucketTTL = 2 * time.Minute

// Service orchestrates ingest: update the bucket, assemble, dedupe, emit,
// and evict. ProcessEvent takes the trace-id's stripe lock itself via
// trace.Store.WithTraceLock, so assembly and dedupe-check for one trace never
// race with another ingest of the same trace.
type Service struct {
	serviceName string
	emitter     Emitter
	dedupe      Dedupe
	bucketTTL   time.Duration
}

// NewService constructs a Service. bucketTTL governs the inline
// post-emission eviction check in ProcessEvent; pass <= 0 to use
// DefaultBucketTTL. This should match the TTL the periodic EvictStale sweep
// in main.go is configured with, so a trace is never retained inline past
// the same bound the sweep would otherwise enforce.
func NewService(serviceName string, emitter Emitter, dedupe Dedupe, bucketTTL time.Duration) *Service {
	if bucketTTL <= 0 {
		bucketTTL = DefaultBucketTTL
	}
	return &Service{serviceName: serviceName, emitter: emitter, dedupe: dedupe, bucketTTL: bucketTTL}
}

// ProcessEvent records one RawEvent into bucket, runs assembly, emits any
// newly-complete and not-yet-sent spans, and evicts the bucket from store
// once every mandatory span has been emitted or its TTL has elapsed.
// Returns the first emit error encountered, if any — ingest still records
// every other successfully emitted span's id in Dedupe before returning.
func (s *Service) ProcessEvent(ctx context.Context, store *trace.Store, traceID string, key trace.EventKey, stage trace.Stage, timestampNS int64) error {
	var emitErr error
	var shouldEvict bool

	store.WithTraceLock(traceID, func(b *trace.Bucket) {
		span, ok := b.Events[key]
		if !ok {
			span = &trace.PartialSpan{}
			b.Events[key] = span
		}
		span.Set(stage, timestampNS)

		for _, candidate := range Assemble(traceID, b) {
			if s.dedupe.Contains(candidate.SpanID) {
				continue
			}
			if err := s.emitter.Emit(ctx, s.serviceName, candidate); err != nil {
				if emitErr == nil {
					emitErr = err
				}
				continue
			}
			s.dedupe.Add(candidate.SpanID)
			b.EmittedNames[candidate.SpanName] = true
		}

		if allMandatoryEmitted(b) || time.Since(b.CreatedAt) >= s.bucketTTL {
			shouldEvict = true
		}
	})

	if shouldEvict {
		store.Evict(traceID)
	}
	return emitErr
}

func allMandatoryEmitted(b *trace.Bucket) bool {
	for _, name := range MandatorySpanNames {
		if !b.EmittedNames[name] {
			return false
		}
	}
	return true
}
