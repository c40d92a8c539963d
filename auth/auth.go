// Package auth authenticates incoming realtime connections. The production
// backend sits behind the app's session gateway; this package only defines
// the seam plus a development implementation.
package auth

import "net/http"

type IClient interface {
	// Auth authenticates the request, returning the user id.
	Auth(r *http.Request) (string, error)
}
