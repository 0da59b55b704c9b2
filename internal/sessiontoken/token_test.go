package sessiontoken

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	apiKey    = "test-api-key"
	apiSecret = "test-api-secret"
)

func newValidator() *Validator {
	return NewValidator(apiKey, apiSecret, 5*time.Second)
}

func TestValidateRoundTrip(t *testing.T) {
	raw, err := Issue(apiKey, apiSecret, "acme.myshopify.com", "42", time.Minute)
	require.NoError(t, err)

	p, err := newValidator().Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "acme.myshopify.com", p.Shop.String())
	assert.Equal(t, "42", p.Subject)
	assert.Equal(t, "https://acme.myshopify.com", p.Dest)
}

func TestValidateRejects(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := newValidator().Validate("")
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("wrong secret", func(t *testing.T) {
		raw, err := Issue(apiKey, "other-secret", "acme.myshopify.com", "42", time.Minute)
		require.NoError(t, err)
		_, err = newValidator().Validate(raw)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("wrong audience", func(t *testing.T) {
		raw, err := Issue("other-key", apiSecret, "acme.myshopify.com", "42", time.Minute)
		require.NoError(t, err)
		_, err = newValidator().Validate(raw)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("expired", func(t *testing.T) {
		raw, err := Issue(apiKey, apiSecret, "acme.myshopify.com", "42", -time.Minute)
		require.NoError(t, err)
		_, err = newValidator().Validate(raw)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("iss dest host mismatch", func(t *testing.T) {
		now := time.Now()
		tok, err := jwt.NewBuilder().
			Issuer("https://evil.myshopify.com/admin").
			Audience([]string{apiKey}).
			Subject("42").
			IssuedAt(now).
			Expiration(now.Add(time.Minute)).
			Claim("dest", "https://acme.myshopify.com").
			Build()
		require.NoError(t, err)
		signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(apiSecret)))
		require.NoError(t, err)

		_, err = newValidator().Validate(string(signed))
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("dest not a shop domain", func(t *testing.T) {
		now := time.Now()
		tok, err := jwt.NewBuilder().
			Issuer("https://evil.example.com/admin").
			Audience([]string{apiKey}).
			IssuedAt(now).
			Expiration(now.Add(time.Minute)).
			Claim("dest", "https://evil.example.com").
			Build()
		require.NoError(t, err)
		signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(apiSecret)))
		require.NoError(t, err)

		_, err = newValidator().Validate(string(signed))
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestValidateAcceptsSkew(t *testing.T) {
	// token that expired one second ago still passes with a 5s skew
	raw, err := Issue(apiKey, apiSecret, "acme.myshopify.com", "42", -time.Second)
	require.NoError(t, err)
	_, err = newValidator().Validate(raw)
	assert.NoError(t, err)
}
