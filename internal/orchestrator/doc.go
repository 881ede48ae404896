// Package orchestrator assembles and runs the full runtime.
//
// One registry, one lifecycle manager and one activity store are shared
// by five domain bridges. Each bridge gets a selection watcher over its
// file under <config>/selections/. When a manifest URL is configured the
// orchestrator seeds the registry with a one-shot sync (failures are
// logged, not fatal) and keeps a refresh loop running.
//
// While running, the orchestrator maintains runtime_health.json in the
// cache directory: watcher liveness, remote sync telemetry, per-domain
// candidate counts, operator activity and swap latency percentiles. The
// snapshot is rewritten after every successful swap, after every refresh
// cycle, and on start and stop.
package orchestrator
