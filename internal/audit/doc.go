// Package audit is the append-only execution log.
//
// Each execution has its own stream. Writer.Log stamps an entry with the
// next per-execution sequence number and a timestamp that never goes
// backwards, then persists it while still holding the stream lock, so the
// stored order always equals seq order even when steps of one stage log
// concurrently. Streams of different executions never share a lock.
//
// Close seals a stream after its terminal entry; anything logged later
// fails with ErrStreamClosed and is not stored.
//
// Stored rows are never updated or deleted: the execution_logs table
// carries triggers that abort UPDATE and DELETE.
package audit
