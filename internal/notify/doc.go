// Package notify fans device presence and state events out to external
// consumers. Producers publish into a bounded queue and never block; the
// sink behind it (MQTT when configured, otherwise a no-op) is best effort.
package notify
