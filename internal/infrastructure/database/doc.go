// Package database provides SQLite connection management and schema
// migrations for HomeControl Core.
//
// Migration files are embedded into the binary by the top-level migrations
// package, so deployments need no SQL files on disk.
package database
