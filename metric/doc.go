// Package metric provides the Prometheus metrics registry shared by all
// Soundpost components. Each component constructs and registers its own
// Metrics struct against the registry at startup; passing a nil registry
// disables that component's metrics without conditional code at call sites.
package metric
