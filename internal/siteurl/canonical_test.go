package siteurl

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/domsphere/siteintel/internal/site"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"adds root path", "https://example.com", "https://example.com/"},
		{"keeps non-empty path", "https://example.com/shop", "https://example.com/shop"},
		{"no trailing slash added", "https://example.com/shop/", "https://example.com/shop/"},
		{"strips fragment", "https://example.com/a#section", "https://example.com/a"},
		{"lowercases scheme and host", "HTTPS://Example.COM/A", "https://example.com/A"},
		{"keeps blank query value", "https://example.com/?a", "https://example.com/?a="},
		{"stable query re-encoding", "https://example.com/?q=hello%20world", "https://example.com/?q=hello+world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"https://example.com",
		"https://example.com/shop?b=2&a=1",
		"https://example.com/a%20b?q=hello world&empty",
		"http://EXAMPLE.com:8080/path#frag",
	}
	for _, in := range inputs {
		once, err := Canonicalize(in)
		require.NoError(t, err)
		twice, err := Canonicalize(once)
		require.NoError(t, err)
		require.Equal(t, once, twice, "canonicalization must be idempotent for %q", in)
	}
}

func TestCanonicalizePreservesQueryOrder(t *testing.T) {
	got, err := Canonicalize("https://example.com/?b=2&a=1")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/?b=2&a=1", got)

	// Equivalent pairs in the same order canonicalize identically even when
	// the escaping differs on the way in.
	left, err := Canonicalize("https://example.com/?b=%32&a=1")
	require.NoError(t, err)
	right, err := Canonicalize("https://example.com/?b=2&a=1")
	require.NoError(t, err)
	require.Equal(t, right, left)
}

func TestCanonicalizeRejectsRelative(t *testing.T) {
	_, err := Canonicalize("/cart")
	require.ErrorIs(t, err, site.ErrUnresolvableURL)

	_, err = Canonicalize("mailto:someone@example.com")
	require.ErrorIs(t, err, site.ErrUnresolvableURL)
}

func TestResolve(t *testing.T) {
	root := "https://shop.example.com"

	got, err := Resolve("cart", root)
	require.NoError(t, err)
	require.Equal(t, "https://shop.example.com/cart", got)

	got, err = Resolve("/cart", root)
	require.NoError(t, err)
	require.Equal(t, "https://shop.example.com/cart", got)

	got, err = Resolve("", root)
	require.NoError(t, err)
	require.Equal(t, "https://shop.example.com/", got)

	got, err = Resolve("https://shop.example.com/checkout?step=1", root)
	require.NoError(t, err)
	require.Equal(t, "https://shop.example.com/checkout?step=1", got)
}

func TestResolveCollapsesDotSegments(t *testing.T) {
	got, err := Resolve("../p", "https://shop.example.com/docs/guide/")
	require.NoError(t, err)
	require.Equal(t, "https://shop.example.com/docs/p", got)

	got, err = Resolve("./a/../b", "https://shop.example.com/")
	require.NoError(t, err)
	require.Equal(t, "https://shop.example.com/b", got)

	// Dot segments above the root collapse to the root.
	got, err = Resolve("../p", "https://shop.example.com")
	require.NoError(t, err)
	require.Equal(t, "https://shop.example.com/p", got)
}

func TestResolveRejectsCrossHost(t *testing.T) {
	_, err := Resolve("https://evil.example.org/", "https://shop.example.com")
	require.ErrorIs(t, err, site.ErrUnresolvableURL)
}

func TestResolveWithoutRoot(t *testing.T) {
	_, err := Resolve("cart", "")
	require.ErrorIs(t, err, site.ErrUnresolvableURL)

	// Absolute input needs no root.
	got, err := Resolve("https://example.com/x", "")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/x", got)
}
