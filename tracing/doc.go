// Package tracing wraps OpenTelemetry so kernel operations (boot, fork, exec,
// spawn, join) can be traced without importing the upstream packages
// everywhere. Spans are no-ops until Init installs a provider.
package tracing
