// Package stores provides the SQLite-backed persistence layer for run
// records and restart bookmarks.
package stores
