// Package adsync synchronizes advertising event data (advertisers, campaigns,
// impressions, clicks) from an operational PostgreSQL database into a
// ClickHouse analytical store.
//
// Two delivery modes are provided:
//
// 1. Batch: a watermark-driven sync engine periodically extracts rows changed
// since the last successful load and bulk-inserts them into ClickHouse. The
// watermark only advances after a successful load, so a failed cycle is
// retried in full on the next interval.
//
// 2. Streaming: a Kafka consumer reads Debezium change events for the same
// four tables and applies them one at a time through single-row inserts.
// ClickHouse's ReplacingMergeTree collapses duplicate versions by key and
// mutation timestamp, which makes re-delivery and update re-inserts safe.
//
// # Layout
//
//   - cmd/adsync: CLI entry point (batch, stream, seed)
//   - internal/pipeline: batch sync engine and cycle orchestrator
//   - pkg/cdc: change event routing, applying, and Kafka consumption
//   - pkg/transform, pkg/typeconv: record transformation and wire-type coercion
//   - pkg/source, pkg/sink: PostgreSQL and ClickHouse port implementations
//   - pkg/schema, pkg/bootstrap, pkg/seed: provisioning and local tooling
package adsync
