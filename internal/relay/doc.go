// Package relay defines the core types shared across the ingestion pipeline:
// posts, cursors, run summaries, the collaborator interfaces, and the filter
// that decides which posts in a batch are new.
package relay
