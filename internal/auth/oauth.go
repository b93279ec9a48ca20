package auth

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/linkstash/linkstash/internal/errors"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
)

// DefaultOAuthBaseURL is where GitHub serves its OAuth endpoints.
const DefaultOAuthBaseURL = "https://github.com"

// endpointFor returns the OAuth endpoint for baseURL. Credentials are
// always sent in the form body, as GitHub expects.
func endpointFor(baseURL string) oauth2.Endpoint {
	base := strings.TrimRight(baseURL, "/")
	if base == "" || base == DefaultOAuthBaseURL {
		ep := githuboauth.Endpoint
		ep.AuthStyle = oauth2.AuthStyleInParams
		return ep
	}
	return oauth2.Endpoint{
		AuthURL:       base + "/login/oauth/authorize",
		TokenURL:      base + "/login/oauth/access_token",
		DeviceAuthURL: base + "/login/device/code",
		AuthStyle:     oauth2.AuthStyleInParams,
	}
}

// withHTTPClient makes oauth2 use client for its requests.
func withHTTPClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// exchangeError maps an oauth2 failure onto the error taxonomy.
func exchangeError(ctx context.Context, operation string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) {
		return &errors.ErrTokenExchange{
			Code:        retrieveErr.ErrorCode,
			Description: retrieveErr.ErrorDescription,
			Err:         err,
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return &errors.ErrNetwork{Operation: operation, Err: err}
	}
	return &errors.ErrTokenExchange{Err: err}
}
