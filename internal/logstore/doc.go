// Package logstore provides the durable, append-only record log of a
// partition, backed by SQLite.
//
// Every partition owns one database. Positions are assigned by SQLite on
// append (INTEGER PRIMARY KEY AUTOINCREMENT) and are never reused, so the
// order of positions is the order of processing. All reads ORDER BY position.
//
// A log remembers the record format it was written with and does not open
// under another one.
package logstore
