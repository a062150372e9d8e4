package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host", "https://Example.COM/Path", "https://example.com/Path"},
		{"strips trailing slash", "https://example.com/path/", "https://example.com/path"},
		{"strips fragment", "https://example.com/a#section", "https://example.com/a"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"drops tracking params", "https://example.com/a?utm_source=x&fbclid=y&q=1", "https://example.com/a?q=1"},
		{"sorts query params", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"defaults scheme", "example.com/a", "https://example.com/a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURLRejectsEmpty(t *testing.T) {
	_, err := NormalizeURL("   ")
	assert.Error(t, err)
}

func TestNormalizeURLStable(t *testing.T) {
	first, err := NormalizeURL("HTTPS://Example.com/path/?utm_medium=m&x=1")
	require.NoError(t, err)
	second, err := NormalizeURL(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "example.com", Domain("https://example.com/path"))
	assert.Equal(t, "example.com", Domain("example.com:8080/path"))
	assert.Equal(t, "", Domain(""))
}

func TestSalientTerms(t *testing.T) {
	texts := []string{
		"Quantum computing threatens blockchain security",
		"Quantum algorithms and blockchain consensus",
		"The security of quantum resistant schemes",
	}
	terms := SalientTerms(texts, 3)
	require.Len(t, terms, 3)
	assert.Equal(t, "quantum", terms[0])
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeText("  A   b\tC "))
}
