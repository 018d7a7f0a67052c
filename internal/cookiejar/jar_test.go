package cookiejar

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJarSetFromResponseAndGet(t *testing.T) {
	j := New()
	header := http.Header{}
	header.Add("Set-Cookie", "session=abc123; Path=/")

	require.NoError(t, j.SetFromResponse("https://example.com/login", header))

	c, ok := j.Get("https://example.com/anything", "session")
	require.True(t, ok)
	assert.Equal(t, "abc123", c.Value)
}

func TestJarGetMissingCookieReturnsFalse(t *testing.T) {
	j := New()
	_, ok := j.Get("https://example.com", "nope")
	assert.False(t, ok)
}

func TestJarGetIsCaseSensitive(t *testing.T) {
	j := New()
	header := http.Header{}
	header.Add("Set-Cookie", "Session=abc123; Path=/")
	require.NoError(t, j.SetFromResponse("https://example.com", header))

	_, ok := j.Get("https://example.com", "session")
	assert.False(t, ok)

	_, ok = j.Get("https://example.com", "Session")
	assert.True(t, ok)
}

func TestJarAllReturnsEveryVisibleCookie(t *testing.T) {
	j := New()
	header := http.Header{}
	header.Add("Set-Cookie", "a=1; Path=/")
	header.Add("Set-Cookie", "b=2; Path=/")
	require.NoError(t, j.SetFromResponse("https://example.com", header))

	all := j.All("https://example.com")
	assert.Len(t, all, 2)
}

func TestJarClearRemovesAllCookies(t *testing.T) {
	j := New()
	header := http.Header{}
	header.Add("Set-Cookie", "a=1; Path=/")
	require.NoError(t, j.SetFromResponse("https://example.com", header))

	j.Clear()

	_, ok := j.Get("https://example.com", "a")
	assert.False(t, ok)
}

func TestJarScopesCookiesByDomain(t *testing.T) {
	j := New()
	header := http.Header{}
	header.Add("Set-Cookie", "a=1; Path=/")
	require.NoError(t, j.SetFromResponse("https://example.com", header))

	_, ok := j.Get("https://other.com", "a")
	assert.False(t, ok)
}

func TestJarSetFromResponseWithNoSetCookieHeaderIsNoOp(t *testing.T) {
	j := New()
	require.NoError(t, j.SetFromResponse("https://example.com", http.Header{}))
	assert.Empty(t, j.All("https://example.com"))
}

func TestJarSetFromResponseRejectsInvalidURL(t *testing.T) {
	j := New()
	err := j.SetFromResponse("http://[::1]:namedport", http.Header{})
	assert.Error(t, err)
}
