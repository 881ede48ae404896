// Package resilience wraps remote calls in retries with exponential
// backoff and jitter, and in a circuit breaker that fails fast after
// sustained failures. The breaker wraps the whole retried call, so one
// open-breaker failure costs no network round trips.
package resilience
