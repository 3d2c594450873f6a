package server

import (
	"net/http"

	"github.com/charmbracelet/log"
)

// OAuthCallbackMessage is the body every callback request receives.
const OAuthCallbackMessage = "✅ OAuth callback received!"

// OAuthCallbackHandler acknowledges OAuth redirects without exchanging the code.
type OAuthCallbackHandler struct {
	logger *log.Logger
}

// NewOAuthCallbackHandler creates the /oauth/callback handler.
func NewOAuthCallbackHandler(logger *log.Logger) *OAuthCallbackHandler {
	return &OAuthCallbackHandler{logger: logger}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthCallbackHandler) Routes() []string {
	return []string{"GET /oauth/callback"}
}

// ServeHTTP logs which parameters arrived and answers with [OAuthCallbackMessage].
func (h *OAuthCallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.logger.Info("oauth callback",
		"code", q.Get("code") != "", "state", q.Get("state") != "", "error", q.Get("error"),
	)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(OAuthCallbackMessage))
}
