package middleware

import (
	"context"
	"net/http"
)

const cookiesContextKey = contextKey("cookies")

// EffectiveCookies returns the cookie set downstream code should read for r.
// After the session gate has refreshed credentials this is the merged set the
// gate stored in the context; otherwise it is the request's own cookies.
func EffectiveCookies(r *http.Request) []*http.Cookie {
	if cookies, ok := r.Context().Value(cookiesContextKey).([]*http.Cookie); ok {
		return cookies
	}
	return r.Cookies()
}

// EffectiveCookie looks up one cookie in the effective set.
func EffectiveCookie(r *http.Request, name string) (*http.Cookie, bool) {
	for _, c := range EffectiveCookies(r) {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// captureJar feeds request cookies to the auth client and records every cookie
// it writes, both on the response and in a local list.
type captureJar struct {
	incoming []*http.Cookie
	captured []*http.Cookie
	w        http.ResponseWriter
}

func newCaptureJar(r *http.Request, w http.ResponseWriter) *captureJar {
	return &captureJar{incoming: r.Cookies(), w: w}
}

func (j *captureJar) SetCookie(c *http.Cookie) {
	http.SetCookie(j.w, c)
	j.captured = append(j.captured, c)
}

// Cookies is the incoming set overlaid with everything captured so far, so a
// read after a refresh observes the refreshed values.
func (j *captureJar) Cookies() []*http.Cookie {
	return mergeCookies(j.incoming, j.captured)
}

func (j *captureJar) Captured() []*http.Cookie {
	return j.captured
}

// mergeCookies overlays updates onto base by name. Updates win on collision
// and an expiring update removes the name. Order follows first appearance.
func mergeCookies(base, updates []*http.Cookie) []*http.Cookie {
	byName := make(map[string]*http.Cookie, len(base)+len(updates))
	order := make([]string, 0, len(base)+len(updates))
	add := func(c *http.Cookie) {
		if _, seen := byName[c.Name]; !seen {
			order = append(order, c.Name)
		}
		byName[c.Name] = &http.Cookie{Name: c.Name, Value: c.Value, MaxAge: c.MaxAge}
	}
	for _, c := range base {
		add(c)
	}
	for _, c := range updates {
		add(c)
	}

	merged := make([]*http.Cookie, 0, len(order))
	for _, name := range order {
		c := byName[name]
		if c.MaxAge < 0 {
			continue
		}
		merged = append(merged, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return merged
}

// withCookies returns a clone of r whose Cookie header and context both carry
// cookies.
func withCookies(r *http.Request, cookies []*http.Cookie) *http.Request {
	ctx := context.WithValue(r.Context(), cookiesContextKey, cookies)
	forwarded := r.Clone(ctx)
	forwarded.Header.Del("Cookie")
	for _, c := range cookies {
		forwarded.AddCookie(c)
	}
	return forwarded
}
