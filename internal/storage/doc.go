// Package storage owns the SQLite database shared by the recipient
// directory and the link store: connection setup, pragmas and schema
// migration.
package storage
