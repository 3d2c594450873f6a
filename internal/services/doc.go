// Package services holds the HTTP clients the offline runtime talks to the outside world with.
//
// # API Service
//
// [APIService] issues raw requests against one base URL and returns status, headers and body,
// detecting JSON bodies. The CLI uses it with a cache-first transport to fetch site assets.
//
// # Delivery
//
// [HTTPDeliverer] sends queued submissions to POST {base}/api/submit-{category} as
//
//	{"id": "...", "timestamp": "2025-03-01T12:00:00Z", "category": "story", "fields": {...}}
//
// Any 2xx marks the record delivered. 408, 429 and 5xx answers are retried by the sync handler;
// other client errors are wrapped with [backoff.Permanent] so they are not retried within a run.
// A 429 carrying Retry-After in seconds is honored through [backoff.RetryAfter].
//
// # Authentication
//
// [NewHTTPClient] wraps the delivery client with OAuth2 client credentials when
// [delivery.oauth] is configured. The token source refreshes tokens as they expire.
package services
