// Package session tracks which live connections are attached to which
// device. Devices and user dashboards share a session set per device; the
// registry fans broadcasts out to all of them and reports empty/non-empty
// transitions so presence can follow connectivity.
package session
