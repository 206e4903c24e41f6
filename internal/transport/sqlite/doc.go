// Package sqlite provides a mailbox transport backed by a SQLite database
// file, for processes on one host that share a filesystem.
//
// Send appends a row holding the JSON envelope. Each open Transport polls for
// rows newer than the highest sequence number it has seen, so a transport
// only receives envelopes sent after it was opened. Rows older than the
// retention period are pruned by whichever transport polls next.
//
// The database runs in WAL mode with a busy timeout so concurrent writers
// from several processes wait instead of failing.
package sqlite
