package server

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/charmbracelet/log"
)

// ProxyHandler forwards requests to the origin through a runtime transport, so pages and assets come from
// the offline cache when the origin is down.
type ProxyHandler struct {
	proxy  *httputil.ReverseProxy
	logger *log.Logger
}

// NewProxyHandler proxies to origin with transport as the round tripper.
func NewProxyHandler(origin *url.URL, transport http.RoundTripper, logger *log.Logger) *ProxyHandler {
	h := &ProxyHandler{logger: logger}
	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.SetXForwarded()
			pr.Out.Host = origin.Host
		},
		Transport:    transport,
		ErrorHandler: h.handleError,
	}
	return h
}

// Routes returns the HTTP routes this handler serves.
func (h *ProxyHandler) Routes() []string {
	return []string{"/"}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.proxy.ServeHTTP(w, r)
}

func (h *ProxyHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, r.Context().Err()) {
		return
	}
	h.logger.Warn("origin unreachable", "path", r.URL.Path, "err", err)
	http.Error(w, "Origin unreachable and nothing cached for this page", http.StatusBadGateway)
}
