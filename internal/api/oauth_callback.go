package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// OpenFunc shows an authorization URL to the user, typically by opening
// a browser. Failures are not fatal; the URL stays available at
// /auth/pending.
type OpenFunc func(authURL string) error

type pendingAuth struct {
	authURL string
	result  chan string
}

// CallbackBroker connects the web flow to the /oauth/callback route. It
// implements auth.Launcher: Launch parks until the provider redirects the
// browser back to the server.
type CallbackBroker struct {
	redirectURL string
	open        OpenFunc

	mu      sync.Mutex
	pending *pendingAuth
}

// NewCallbackBroker creates a broker for redirectURL. open may be nil.
func NewCallbackBroker(redirectURL string, open OpenFunc) *CallbackBroker {
	return &CallbackBroker{redirectURL: redirectURL, open: open}
}

// RedirectURL returns the callback address registered with the OAuth app.
func (b *CallbackBroker) RedirectURL() string {
	return b.redirectURL
}

// Launch publishes authURL and waits for the redirect or ctx.
func (b *CallbackBroker) Launch(ctx context.Context, authURL string) (string, error) {
	p := &pendingAuth{authURL: authURL, result: make(chan string, 1)}

	b.mu.Lock()
	if b.pending != nil {
		b.mu.Unlock()
		return "", fmt.Errorf("another authorization is already pending")
	}
	b.pending = p
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.pending == p {
			b.pending = nil
		}
		b.mu.Unlock()
	}()

	if b.open != nil {
		// the URL is also served at /auth/pending
		_ = b.open(authURL)
	}

	select {
	case redirect := <-p.result:
		return redirect, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Pending returns the authorization URL awaiting a redirect.
func (b *CallbackBroker) Pending() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return "", false
	}
	return b.pending.authURL, true
}

// deliver hands the redirect to the waiting Launch. It reports false
// when nothing is pending.
func (b *CallbackBroker) deliver(redirect string) bool {
	b.mu.Lock()
	p := b.pending
	b.pending = nil
	b.mu.Unlock()
	if p == nil {
		return false
	}
	p.result <- redirect
	return true
}

const callbackPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>LinkStash</title></head>
<body><p>%s</p></body></html>`

func (s *Server) handleOAuthCallback(c *gin.Context) {
	redirect := s.broker.RedirectURL()
	if q := c.Request.URL.RawQuery; q != "" {
		redirect += "?" + q
	}

	if !s.broker.deliver(redirect) {
		s.logger.WarnWithContext(c.Request.Context(), "oauth callback without pending authorization")
		c.Data(http.StatusNotFound, "text/html; charset=utf-8",
			[]byte(fmt.Sprintf(callbackPage, "No authorization is pending. Start the sign-in again.")))
		return
	}

	msg := "Signed in. You can close this window."
	if c.Query("error") != "" || c.Query("code") == "" {
		msg = "Authorization was not completed. You can close this window."
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fmt.Sprintf(callbackPage, msg)))
}

func (s *Server) handlePendingAuth(c *gin.Context) {
	authURL, ok := s.broker.Pending()
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "no authorization is pending",
			Code:    http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authUrl": authURL})
}
