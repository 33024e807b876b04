// Package journal persists notable scheduler events (worker spawns and
// failures, task panics, shutdowns) so a run can be inspected afterwards.
//
// Drivers:
//   - "file": JSON Lines, one file per journal path (dependency-free)
//   - "sqlite": SQLite database via modernc.org/sqlite (build tag "sqlite")
//
// Every record carries the run ID of the process that wrote it.
package journal
