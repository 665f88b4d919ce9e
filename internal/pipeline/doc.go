// Package pipeline runs batches of news items through the enrichment stages,
// verifies them by headline clustering and derives alerts. It defines the
// Engine (per-item state machine), the Runner that makes every stage call
// total, the Service (run lifecycle, async dispatch, refresh loop) and the
// Store interface for run results.
package pipeline
