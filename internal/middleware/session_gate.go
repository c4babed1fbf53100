package middleware

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"familynest/internal/metrics"
	"familynest/internal/supabase"

	"github.com/rs/zerolog"
)

// SessionProvider is the auth provider as seen by the gate. supabase.Client
// satisfies it.
type SessionProvider interface {
	Session(ctx context.Context, jar supabase.CookieJar) (*supabase.Session, error)
	Refresh(ctx context.Context, jar supabase.CookieJar) (*supabase.Session, error)
	User(ctx context.Context, jar supabase.CookieJar) (*supabase.User, error)
}

type GateOptions struct {
	// ProtectedPrefix is the path prefix that requires a resolved identity.
	ProtectedPrefix string
	// LoginPath receives unauthenticated requests, with next=<original path>.
	LoginPath string
	// RefreshWindow limits refreshes to sessions expiring within the window.
	// Zero refreshes whenever a refresh token is present.
	RefreshWindow time.Duration
	Now           func() time.Time
}

// staticAsset matches build artifacts, optimized images and common image files.
var staticAsset = regexp.MustCompile(`^/(_next/static/|_next/image(/|$)|static/)|^/favicon\.ico$|\.(svg|png|jpg|jpeg|gif|webp)$`)

func isStaticAsset(path string) bool {
	return staticAsset.MatchString(path)
}

func isProtected(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return false
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// SessionGate refreshes the caller's Supabase session, propagates refreshed
// cookies to both the browser and the rest of the request, and redirects
// anonymous requests away from protected paths. A nil provider disables it.
func SessionGate(provider SessionProvider, opts GateOptions, m *metrics.Metrics, logger zerolog.Logger) func(http.Handler) http.Handler {
	lg := logger.With().Str("middleware", "SessionGate").Logger()
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		if provider == nil {
			lg.Warn().Msg("Auth provider not configured, session gate is a pass-through")
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isStaticAsset(r.URL.Path) {
				m.Gate(metrics.GateBypassed)
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			jar := newCaptureJar(r, w)

			session, err := provider.Session(ctx, jar)
			if err != nil {
				gateFailure(w, lg, err, "read session")
				return
			}
			if session != nil && session.RefreshToken != "" &&
				(opts.RefreshWindow <= 0 || session.ExpiresWithin(opts.RefreshWindow, opts.Now())) {
				if _, err := provider.Refresh(ctx, jar); err != nil {
					gateFailure(w, lg, err, "refresh session")
					return
				}
			}

			user, err := provider.User(ctx, jar)
			if err != nil {
				gateFailure(w, lg, err, "resolve user")
				return
			}

			if user == nil && isProtected(r.URL.Path, opts.ProtectedPrefix) {
				m.Gate(metrics.GateRedirected)
				target := opts.LoginPath + "?" + url.Values{"next": {r.URL.Path}}.Encode()
				http.Redirect(w, r, target, http.StatusTemporaryRedirect)
				return
			}

			forwarded := r
			if captured := jar.Captured(); len(captured) > 0 {
				lg.Debug().Int("cookies", len(captured)).Str("path", r.URL.Path).Msg("Session cookies refreshed")
				forwarded = withCookies(r, jar.Cookies())
				m.Gate(metrics.GateRefreshed)
			} else {
				m.Gate(metrics.GatePassthrough)
			}
			if user != nil {
				forwarded = forwarded.WithContext(context.WithValue(forwarded.Context(), UserContextKey, user.ID))
			}
			next.ServeHTTP(w, forwarded)
		})
	}
}

func gateFailure(w http.ResponseWriter, lg zerolog.Logger, err error, step string) {
	lg.Error().Err(err).Str("step", step).Msg("Session gate failed")
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
