// internal/sessiontoken/token.go
package sessiontoken

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"shopauth/pkg/shop"
)

// ErrInvalid covers every verification failure (signature, expiry, audience,
// malformed destination). Callers treat it as "no valid credential" and
// re-drive OAuth rather than surfacing an error.
var ErrInvalid = errors.New("invalid session token")

// Payload is the decoded claim set of a verified session token. Shop is
// derived from the dest claim host and is the only trusted tenant source once
// a token is present.
type Payload struct {
	Dest    string
	Issuer  string
	Subject string
	Shop    shop.Domain
	Expires time.Time
}

// Validator verifies platform-issued session tokens. Tokens are HMAC-signed
// with the app's API secret and addressed to the app's API key.
type Validator struct {
	apiKey    string
	apiSecret []byte
	skew      time.Duration
}

func NewValidator(apiKey, apiSecret string, skew time.Duration) *Validator {
	return &Validator{apiKey: apiKey, apiSecret: []byte(apiSecret), skew: skew}
}

// Validate verifies signature, expiry/nbf (with skew), audience, and the
// iss/dest host agreement, then extracts the shop from the dest host.
func (v *Validator) Validate(raw string) (*Payload, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalid)
	}
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, v.apiSecret),
		jwt.WithValidate(true),
		jwt.WithAudience(v.apiKey),
		jwt.WithAcceptableSkew(v.skew),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	dest, _ := tok.Get("dest")
	destStr, _ := dest.(string)
	destURL, err := url.Parse(destStr)
	if err != nil || destURL.Host == "" {
		return nil, fmt.Errorf("%w: bad dest claim", ErrInvalid)
	}
	issURL, err := url.Parse(tok.Issuer())
	if err != nil || issURL.Host != destURL.Host {
		return nil, fmt.Errorf("%w: iss/dest host mismatch", ErrInvalid)
	}
	d, ok := shop.FromHost(destURL.Host)
	if !ok {
		return nil, fmt.Errorf("%w: dest host is not a shop domain", ErrInvalid)
	}
	return &Payload{
		Dest:    destStr,
		Issuer:  tok.Issuer(),
		Subject: tok.Subject(),
		Shop:    d,
		Expires: tok.Expiration(),
	}, nil
}

// Issue mints a session token for the given shop and subject. The platform is
// the real issuer in production; this is used by the bounce page round-trip
// in development and by tests.
func Issue(apiKey, apiSecret string, d shop.Domain, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Issuer("https://"+d.String()+"/admin").
		Audience([]string{apiKey}).
		Subject(subject).
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(ttl)).
		Claim("dest", "https://"+d.String()).
		Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(apiSecret)))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}
