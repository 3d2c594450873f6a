// Package worker implements the background runtime behind the Miroir site.
//
// A [ServiceWorker] receives the same events a browser service worker does, one method each:
//
//	Install            precache the static manifest into the current generation
//	Activate           purge every other generation
//	Fetch              cache-first fetch, offline home page for navigations
//	Sync               drain the store behind a "<category>-submission" tag
//	Push               turn a push payload into a notification
//	NotificationClick  map an action to the page it opens
//
// Lifecycle:
//
//	parsed -> installing -> installed -> activating -> activated
//	              |
//	              +-> redundant   (install failed)
//
// Fetch only goes through the cache once the worker is activated. Until then requests go
// straight to the network.
//
// [ServiceWorker.Start] runs install and activate, drains leftover submissions, then keeps the
// deferred sync scheduler and the reminder loop running until its context is cancelled. When
// install fails, for example because the origin is unreachable at startup, a generation of the
// same version already in storage is served as if activated and the loops still run.
package worker
