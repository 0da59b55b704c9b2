// internal/oauth/hmac.go
package oauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// validHmac verifies the platform's signature over the callback query: the
// hmac and signature keys are removed, the rest is serialized as sorted
// k=v pairs joined by '&', and the hex HMAC-SHA256 under the API secret must
// match in constant time.
func validHmac(q url.Values, secret string) bool {
	provided := q.Get("hmac")
	if provided == "" {
		return false
	}
	pairs := make([]string, 0, len(q))
	for k, vs := range q {
		if k == "hmac" || k == "signature" {
			continue
		}
		pairs = append(pairs, k+"="+strings.Join(vs, ","))
	}
	sort.Strings(pairs)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(provided))
}

// signNonce binds the state nonce to the API secret so a forged cookie cannot
// satisfy the state check.
func signNonce(nonce, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(nonce))
	return nonce + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// verifyNonce checks the cookie value produced by signNonce and returns the
// embedded nonce.
func verifyNonce(value, secret string) (string, bool) {
	i := strings.LastIndexByte(value, '.')
	if i <= 0 {
		return "", false
	}
	nonce := value[:i]
	if !hmac.Equal([]byte(signNonce(nonce, secret)), []byte(value)) {
		return "", false
	}
	return nonce, true
}
