// Package queue implements the durable job queue backing the enrichment
// pipeline: priority dispatch with FIFO tie-break, atomic claims, retry with
// exponential backoff, append-only history for terminal jobs, and recovery of
// work orphaned by a crashed worker.
package queue
