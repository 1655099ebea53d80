// Package harvest implements the incremental progress crawl: roster loading,
// delta filtering against the portal activity report, the per-subject
// extraction state machine, and the orchestrator that checkpoints each run.
package harvest
