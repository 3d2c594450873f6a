package server

import (
	"net/http"
	"net/url"

	"github.com/charmbracelet/log"
)

// SiteOptions selects what the site router serves.
type SiteOptions struct {
	PublicDir string            // served at / unless Origin is set
	Origin    *url.URL          // proxy mode: forward / to this origin
	Transport http.RoundTripper // proxy round tripper, usually the background runtime
	Outbox    Enqueuer          // enables POST /outbox/{category}
	Logger    *log.Logger
}

// NewSite assembles the router: request logging, panic recovery, the OAuth callback stub, the outbox
// when a queue is given, and either static files or the proxy at /.
func NewSite(opts SiteOptions) *BasicRouter {
	router := NewBasicRouter()
	router.Use(Logging(opts.Logger), Recover(opts.Logger))

	router.Handler(NewOAuthCallbackHandler(opts.Logger))
	if opts.Outbox != nil {
		router.Handler(NewOutboxHandler(opts.Outbox, opts.Logger))
	}

	if opts.Origin != nil {
		router.Handler(NewProxyHandler(opts.Origin, opts.Transport, opts.Logger))
	} else {
		router.Handler(NewStaticHandler(opts.PublicDir, opts.Logger))
	}
	return router
}
