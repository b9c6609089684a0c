// Package liveness watches device heartbeats and demotes devices that go
// quiet. The monitor is demotion-only; promotion back to online always
// comes from the device's own authenticated traffic.
package liveness
