// Package mysql provides a MySQL 8.0+ actionqueue.Store.
//
// Each queue is one row keyed by queue_key. SaveAll replaces the row with a single upsert, so a
// write is atomic without an explicit transaction:
//   - INSERT ... ON DUPLICATE KEY UPDATE for SaveAll
//   - SELECT by primary key for LoadAll
//   - entry_count and updated_at kept alongside the blob for inspection and pruning
//
// See Schema (JSON data column) or SchemaBinary (LONGBLOB), and PruneMaintainer for periodic
// removal of empty queue rows. Rows that still hold entries are never pruned.
package mysql
