// Package archive keeps the final snapshots of consumed download jobs in
// Postgres, so the live tracker can forget them.
package archive
