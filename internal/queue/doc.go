// package queue is the durable outbox for form submissions made while offline.
//
// [Queue.Enqueue] writes a record with synced=false to its category store and asks the deferred
// scheduler for a sync tagged "<category>-submission". [Syncer.Sync] later drains the unsynced
// records of that category through a [Deliverer], marking each one synced only after the destination
// accepted it. Records are never deleted, and a record that fails stays unsynced for the next run,
// so delivery is at-least-once.
package queue
