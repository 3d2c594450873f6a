// package cache implements the versioned asset cache as an [http.RoundTripper].
//
// A [Manager] owns one current generation, named by its version string. Install precaches a static
// manifest atomically, Activate discards every other generation and RoundTrip serves GET requests
// cache-first, filling allow-listed runtime assets lazily as callers read them.
//
// Anything that accepts a transport can sit behind it:
//
//	m, _ := cache.NewManager(cfg, store, http.DefaultTransport, logger)
//	client := &http.Client{Transport: m}
//	proxy := &httputil.ReverseProxy{Transport: m, ...}
package cache
