// Package metrics defines the Prometheus collectors exported by
// lisa-backend. All collectors are registered with the default registry via
// promauto and served from the configured metrics path.
package metrics
