// Package memory holds in-process implementations of the cursor and run
// stores. The cursor store does not survive a restart and is meant for tests
// and dry runs; the run store is the record keeper behind the HTTP API.
package memory
