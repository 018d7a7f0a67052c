// Package cookiejar defines the CookieJar collaborator interface (spec.md
// §2/§6) and an in-memory implementation wrapping net/http/cookiejar.
package cookiejar

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
)

// Jar stores and retrieves cookies keyed by URL, and is mutated by protocol
// plugins (Set-Cookie) and by scripts via quest.cookies.clear().
type Jar interface {
	// SetFromResponse stores cookies found on an HTTP response for the
	// given request URL.
	SetFromResponse(rawURL string, header http.Header) error
	// Get returns the cookie named name visible to rawURL, or (nil, false).
	// Cookie name lookup is case-sensitive.
	Get(rawURL, name string) (*http.Cookie, bool)
	// All returns every cookie visible to rawURL.
	All(rawURL string) []*http.Cookie
	// Clear removes every stored cookie.
	Clear()
}

// memJar adapts net/http/cookiejar.Jar (which has no Clear or single-cookie
// lookup) behind the Jar interface, adding a mutex since scripts and the
// protocol plugin both mutate it and the spec only guarantees they never do
// so at the same instant (Script Mutex vs. plugin call), not that the jar
// itself is free-threaded.
type memJar struct {
	mu  sync.Mutex
	jar *cookiejar.Jar
}

// New creates an in-memory CookieJar.
func New() Jar {
	j, _ := cookiejar.New(nil) // nil PublicSuffixList: never errors.
	return &memJar{jar: j}
}

func (m *memJar) SetFromResponse(rawURL string, header http.Header) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	cookies := (&http.Response{Header: header}).Cookies()
	if len(cookies) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jar.SetCookies(u, cookies)
	return nil
}

func (m *memJar) Get(rawURL, name string) (*http.Cookie, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.jar.Cookies(u) {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

func (m *memJar) All(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jar.Cookies(u)
}

func (m *memJar) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, _ := cookiejar.New(nil)
	m.jar = j
}
