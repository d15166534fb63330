// Package sink publishes crawl events to external systems.
//
// A Sink receives every model.Event a crawl controller emits: status
// snapshots and PDF record changes. Three sinks are provided:
//   - RedisSink mirrors the latest status and records of each run
//   - KafkaSink streams every event as a JSON message keyed by run ID
//   - Neo4jSink records which page linked to which PDF
//
// Multi combines several sinks. Every Sink satisfies crawler.Publisher, so
// a sink can be passed to crawler.WithPublisher directly.
//
// Design decision: Each sink depends on a small interface over its client
// rather than the concrete client type, so tests use hand-written fakes
// instead of live brokers.
package sink
