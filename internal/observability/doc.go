// Package observability provides structured logging and metrics
// for the AI orchestrator.
//
// Logging is zap-based. Metrics are exposed through the Metrics interface
// with a Prometheus implementation and a no-op implementation for tests
// and for deployments with metrics disabled.
package observability
