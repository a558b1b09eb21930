// Package postgres implements store.RecordStore on PostgreSQL, with record
// fields stored as JSONB and group memberships as child rows. An optional
// Redis read-through cache wraps the store for hot record loads.
package postgres
