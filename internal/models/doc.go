// Package models defines the domain entities of the Miroir offline runtime.
//
// The package contains three families of types:
//
// 1. Cache entities, owned by the background runtime's asset cache
//   - [CacheVersion] : Name of one cache generation
//   - [CachedEntry] : Immutable snapshot of one successful GET response
//
// 2. Queue entities, owned by the offline submission queue
//   - [Category] : Submission category, one store per category
//   - [SubmissionRecord] : One user-submitted form awaiting (or past) delivery
//
// 3. Preferences
//   - [Preference] : Opaque key/value pair, unrelated to sync
//
// Persistent entities implement [Model], which provides identity, timestamps and validation.
package models
