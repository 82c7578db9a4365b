package testutil

import (
	"net/http"

	id "homebank/pkg/domain"
	"homebank/pkg/requestcontext"
)

// WithCaller attaches an authenticated caller to the request context.
// This simulates what the auth middleware does for a valid token.
func WithCaller(req *http.Request, clientID id.ClientID, email, role string) *http.Request {
	return req.WithContext(requestcontext.WithCaller(req.Context(), clientID, email, role))
}
