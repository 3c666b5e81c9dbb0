// Package sha256 includes tests for the content hasher.
package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got := h.Hash("Climate Summit", "https://example.com/a")
	require.Equal(t, "dc49a9c7509fa94e", string(got))
	require.Equal(t, got, h.Hash("Climate Summit", "https://example.com/a"))
	require.Equal(t, got, New().Hash("Climate Summit", "https://example.com/a"))
}

func TestHasherIgnoresTitleCaseAndWhitespace(t *testing.T) {
	t.Parallel()

	h := New()
	u := "https://example.com/climate"
	require.Equal(t, h.Hash("Climate Summit", u), h.Hash("  climate summit  ", u))
	require.Equal(t, h.Hash("Climate Summit", u), h.Hash("CLIMATE SUMMIT\n", u))
}

func TestHasherDistinguishesURLs(t *testing.T) {
	t.Parallel()

	h := New()
	require.NotEqual(t, h.Hash("same", "https://example.com/a"), h.Hash("same", "https://example.com/b"))
	require.NotEqual(t, h.Hash("a", "https://example.com"), h.Hash("b", "https://example.com"))
}

func TestHasherProducesLowerHex(t *testing.T) {
	t.Parallel()

	require.Regexp(t, `^[0-9a-f]{16}$`, string(New().Hash("Hello", "world")))
}
