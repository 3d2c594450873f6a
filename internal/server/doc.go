// Package server provides the HTTP surface of the Miroir site: routing, middleware and handlers.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally, so handler routes may use method
// and wildcard patterns such as "POST /outbox/{category}".
//
// # Handlers
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
//
//	GET  /                   static files from the public directory ([StaticHandler])
//	GET  /oauth/callback     acknowledgement only, no token exchange ([OAuthCallbackHandler])
//	POST /outbox/{category}  queue a submission for background sync ([OutboxHandler])
//	     /                   proxy mode: forward to the origin through the runtime ([ProxyHandler])
//
// /sw.js and /manifest.json are served with Cache-Control: no-cache. Without an index.html the
// root answers with a plain welcome line.
//
// # Server
//
// [Server] runs the router until its context is cancelled and then shuts down gracefully.
package server
