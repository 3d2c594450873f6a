// Package repositories implements SQLite persistence for the offline runtime's durable stores.
//
// Key Implementations:
//   - [SubmissionRepository] : The two category stores of the offline submission queue
//   - [CacheRepository] : Versioned asset cache generations and their entries
//   - [PreferenceRepository] : Opaque user preference key/value pairs
//
// Submission stores are append-only from the queue's point of view: records are inserted once, and the only
// in-place update is the one-way transition to synced, performed inside a single transaction by
// [SubmissionRepository.MarkSynced]. Nothing here ever deletes a submission.
//
// Cache generations are written wholesale ([CacheRepository.PutAll]) or one entry at a time
// ([CacheRepository.Put]), and removed wholesale ([CacheRepository.Delete]).
package repositories
