// internal/oauth/errors.go
package oauth

import "errors"

// Callback failures collapse into exactly three outcomes: cookie loss is
// retried by restarting Begin, tampering is a terminal 400, and everything
// else is a terminal 500. Nothing propagates unclassified.
var (
	// ErrCookieNotFound: the OAuth state cookie is missing or expired.
	ErrCookieNotFound = errors.New("oauth state cookie not found")
	// ErrInvalidHMAC: the callback query signature does not verify.
	ErrInvalidHMAC = errors.New("invalid callback hmac")
	// ErrInvalidOAuth: the callback is otherwise malformed (bad shop, state
	// mismatch, missing code, replayed nonce).
	ErrInvalidOAuth = errors.New("malformed oauth callback")
)
