package supabase

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	base64Prefix = "base64-"
	// maxChunkSize matches the browser SDK so both sides agree on chunk boundaries.
	maxChunkSize  = 3180
	cookieMaxAge  = 400 * 24 * time.Hour
	maxChunkCount = 64
)

// CookieJar is the write-back hook between the auth client and an HTTP
// exchange. Cookies returns the current view, including anything already set
// through SetCookie during the same exchange.
type CookieJar interface {
	Cookies() []*http.Cookie
	SetCookie(c *http.Cookie)
}

// StorageKey derives the auth cookie name from the project URL, the same way
// the browser SDK does: sb-<first host label>-auth-token.
func StorageKey(projectURL string) string {
	ref := projectURL
	if u, err := url.Parse(projectURL); err == nil && u.Hostname() != "" {
		ref = u.Hostname()
	}
	ref, _, _ = strings.Cut(ref, ".")
	return "sb-" + ref + "-auth-token"
}

func encodeSession(s *Session) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	return base64Prefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeSession(value string) (*Session, error) {
	var raw []byte
	if strings.HasPrefix(value, base64Prefix) {
		b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimPrefix(value, base64Prefix), "="))
		if err != nil {
			return nil, fmt.Errorf("decode session cookie: %w", err)
		}
		raw = b
	} else {
		// Older SDKs stored URI-encoded JSON.
		unescaped, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("unescape session cookie: %w", err)
		}
		raw = []byte(unescaped)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session cookie: %w", err)
	}
	return &s, nil
}

func chunkName(key string, i int) string {
	return key + "." + strconv.Itoa(i)
}

// readChunked returns the stored value for key, joining key.0..key.N when the
// value was split. It returns "" when nothing is stored.
func readChunked(cookies []*http.Cookie, key string) string {
	byName := make(map[string]string, len(cookies))
	for _, c := range cookies {
		byName[c.Name] = c.Value
	}
	if v, ok := byName[key]; ok && v != "" {
		return v
	}
	var b strings.Builder
	for i := 0; i < maxChunkCount; i++ {
		v, ok := byName[chunkName(key, i)]
		if !ok {
			break
		}
		b.WriteString(v)
	}
	return b.String()
}

func splitChunks(value string) []string {
	if len(value) <= maxChunkSize {
		return []string{value}
	}
	var chunks []string
	for len(value) > 0 {
		n := min(maxChunkSize, len(value))
		chunks = append(chunks, value[:n])
		value = value[n:]
	}
	return chunks
}

type cookieWriter struct {
	key    string
	secure bool
}

func (w cookieWriter) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Secure:   w.secure,
		HttpOnly: false,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge / time.Second)
	} else {
		c.MaxAge = -1
	}
	return c
}

// existing lists the auth cookie names currently present in the jar.
func (w cookieWriter) existing(jar CookieJar) map[string]bool {
	names := map[string]bool{}
	for _, c := range jar.Cookies() {
		if c.Name == w.key || strings.HasPrefix(c.Name, w.key+".") {
			names[c.Name] = true
		}
	}
	return names
}

// store writes value under the key, chunking when needed, and expires any
// stale chunk left over from a previous, longer value.
func (w cookieWriter) store(jar CookieJar, value string) {
	stale := w.existing(jar)
	chunks := splitChunks(value)
	if len(chunks) == 1 {
		jar.SetCookie(w.cookie(w.key, value, cookieMaxAge))
		delete(stale, w.key)
	} else {
		for i, chunk := range chunks {
			name := chunkName(w.key, i)
			jar.SetCookie(w.cookie(name, chunk, cookieMaxAge))
			delete(stale, name)
		}
	}
	w.expire(jar, stale)
}

// remove expires every auth cookie present in the jar.
func (w cookieWriter) remove(jar CookieJar) {
	w.expire(jar, w.existing(jar))
}

func (w cookieWriter) expire(jar CookieJar, names map[string]bool) {
	for _, name := range slices.Sorted(maps.Keys(names)) {
		jar.SetCookie(w.cookie(name, "", 0))
	}
}
