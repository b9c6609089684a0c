// Package device manages the device registry and per-device state documents.
//
// A state document maps channel keys to channel records and supports atomic
// partial merges: a writer supplies only the channels it wants to change and
// the store folds them into the persisted document under a per-device lock.
// The Store is the single mutation gateway; everything above it (the message
// router, the relay service, schedules) goes through the same merge path.
package device
