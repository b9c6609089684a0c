// Package relay moves state changes between devices, dashboards, and
// storage. The Service is the single write pipeline (authorize, merge,
// persist, broadcast); the Router maps inbound session frames onto it.
package relay
