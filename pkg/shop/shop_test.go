package shop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"test-shop", "test-shop.myshopify.com", true},
		{"test-shop.myshopify.com", "test-shop.myshopify.com", true},
		{"https://test-shop.myshopify.com", "test-shop.myshopify.com", true},
		{"http://test-shop.myshopify.com/admin", "test-shop.myshopify.com", true},
		{"Upper-Case.myshopify.com", "upper-case.myshopify.com", true},
		{"my-store.myshopify.io", "my-store.myshopify.io", true},
		{"", "", false},
		{"   ", "", false},
		{"-leading.myshopify.com", "", false},
		{"bad_char.myshopify.com", "", false},
		{"evil.com", "", false},
		{"shop.myshopify.com.evil.com", "", false},
		{"https://", "", false},
	}
	for _, c := range cases {
		got, ok := Normalize(c.in)
		assert.Equal(t, c.ok, ok, "input %q", c.in)
		assert.Equal(t, c.want, got.String(), "input %q", c.in)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"test-shop", "https://acme.myshopify.com", "A-Shop", "x.myshopify.io"}
	for _, in := range inputs {
		first, ok := Normalize(in)
		require.True(t, ok, in)
		second, ok := Normalize(first.String())
		require.True(t, ok, in)
		assert.Equal(t, first, second, in)
	}
}

func TestFromHost(t *testing.T) {
	d, ok := FromHost("acme.myshopify.com")
	require.True(t, ok)
	assert.Equal(t, "acme.myshopify.com", d.String())

	// no suffix defaulting for token-derived hosts
	_, ok = FromHost("acme")
	assert.False(t, ok)
	_, ok = FromHost("")
	assert.False(t, ok)
}
