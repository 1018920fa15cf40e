// Package backup takes logical, physical and binary log backups into a
// local store and enforces retention on it.
//
// Every artifact is streamed through a compression codec into a .partial
// file, verified and checksummed, then renamed into place together with a
// <artifact>.meta.json sidecar. Only artifacts with a sidecar are listed,
// restored or counted by retention, so an interrupted run never leaves a
// half-written artifact behind that looks committed.
//
// Artifact names follow <strategy>_<scope>_<YYYYMMDD_HHMMSS>.<ext><compression>
// with UTC timestamps, for example logical_mydb_20240301_020000.sql.gz.
package backup
