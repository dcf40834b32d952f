// Package telemetryagent is an in-process telemetry agent.
//
// An agent runs one private goroutine that owns an event loop. Producer
// goroutines hand it configuration documents, thread lifecycle events,
// metrics samples, spans, log records and loop-blocked notifications
// through non-blocking entry points. The agent:
//   - applies configuration by structural diff, re-provisioning only the
//     subsystems whose keys changed
//   - keeps a reconnecting StatsD TCP or UDP transport with address
//     failover and a fixed retry backoff
//   - samples process and per-thread metrics on a configurable period and
//     reports counters as deltas
//   - filters spans by kind and forwards everything to pluggable exporters
//     (StatsD, in-memory, HTTP, PostgreSQL)
//
// The host binary in cmd/agent wires an agent to a demo workload, watches a
// JSON configuration file and serves status, Prometheus self-metrics and
// exported values over HTTP.
package telemetryagent
