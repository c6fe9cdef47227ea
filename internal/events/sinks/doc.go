// Package sinks provides events.Sink implementations for logs and Prometheus.
package sinks
