package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gotrue "github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"
)

// AuthError is a non-2xx answer from GoTrue.
type AuthError struct {
	Status  int    `json:"-"`
	Code    string `json:"error_code"`
	Message string `json:"msg"`
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("supabase auth: status %d: %s %s", e.Status, e.Code, e.Message)
}

// Client talks to the GoTrue REST API on behalf of one project and persists
// sessions through a CookieJar.
type Client struct {
	auth    gotrue.Client
	cookies cookieWriter
	http    *http.Client
	now     func() time.Time
	logger  zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSecureCookies marks written auth cookies Secure.
func WithSecureCookies(secure bool) Option {
	return func(c *Client) { c.cookies.secure = secure }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient returns a client for the project at baseURL.
func NewClient(baseURL, anonKey string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		auth:    gotrue.New("", anonKey).WithCustomGoTrueURL(strings.TrimRight(baseURL, "/") + "/auth/v1"),
		cookies: cookieWriter{key: StorageKey(baseURL)},
		http:    &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
		logger:  logger.With().Str("service", "SupabaseAuth").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StorageKey is the auth cookie name for this project.
func (c *Client) StorageKey() string {
	return c.cookies.key
}

// contextTransport binds outgoing GoTrue requests to the caller's context.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// authFor returns a GoTrue client whose requests run under ctx, authorized
// with token when it is set.
func (c *Client) authFor(ctx context.Context, token string) gotrue.Client {
	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client := c.auth.WithClient(http.Client{
		Transport: contextTransport{ctx: ctx, base: base},
		Timeout:   c.http.Timeout,
	})
	if token != "" {
		client = client.WithToken(token)
	}
	return client
}

// Session decodes the session stored in the jar. A missing or unreadable
// cookie yields nil without error.
func (c *Client) Session(_ context.Context, jar CookieJar) (*Session, error) {
	raw := readChunked(jar.Cookies(), c.cookies.key)
	if raw == "" {
		return nil, nil
	}
	s, err := decodeSession(raw)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Ignoring unreadable session cookie")
		return nil, nil
	}
	if s.AccessToken == "" && s.RefreshToken == "" {
		return nil, nil
	}
	return s, nil
}

// Refresh exchanges the stored refresh token for a new session and writes it
// back through the jar. A rejected refresh token clears the session cookies
// and returns nil. Transport failures and server errors are returned.
func (c *Client) Refresh(ctx context.Context, jar CookieJar) (*Session, error) {
	current, err := c.Session(ctx, jar)
	if err != nil || current == nil || current.RefreshToken == "" {
		return nil, err
	}

	resp, err := c.authFor(ctx, "").RefreshToken(current.RefreshToken)
	if err != nil {
		err = asAuthError(err)
		if isClientError(err) {
			c.logger.Warn().Err(err).Msg("Refresh token rejected; clearing session cookies")
			c.cookies.remove(jar)
			return nil, nil
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	next := fromGoTrueSession(resp.Session)
	if next.ExpiresAt == 0 && next.ExpiresIn > 0 {
		next.ExpiresAt = c.now().Add(time.Duration(next.ExpiresIn) * time.Second).Unix()
	}

	value, err := encodeSession(next)
	if err != nil {
		return nil, err
	}
	c.cookies.store(jar, value)
	return next, nil
}

// User asks GoTrue who owns the jar's current access token. Missing or
// rejected tokens yield nil without error.
func (c *Client) User(ctx context.Context, jar CookieJar) (*User, error) {
	s, err := c.Session(ctx, jar)
	if err != nil || s == nil || s.AccessToken == "" {
		return nil, err
	}

	resp, err := c.authFor(ctx, s.AccessToken).GetUser()
	if err != nil {
		var ae *AuthError
		if errors.As(asAuthError(err), &ae) && (ae.Status == http.StatusUnauthorized || ae.Status == http.StatusForbidden) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", asAuthError(err))
	}
	return fromGoTrueUser(resp.User), nil
}

func fromGoTrueUser(u types.User) *User {
	if u.ID == uuid.Nil {
		return nil
	}
	return &User{
		ID:           u.ID.String(),
		Email:        u.Email,
		Role:         u.Role,
		UserMetadata: u.UserMetadata,
	}
}

func fromGoTrueSession(s types.Session) *Session {
	return &Session{
		AccessToken:  s.AccessToken,
		TokenType:    s.TokenType,
		ExpiresIn:    int64(s.ExpiresIn),
		ExpiresAt:    s.ExpiresAt,
		RefreshToken: s.RefreshToken,
		User:         fromGoTrueUser(s.User),
	}
}

// asAuthError recovers the HTTP status gotrue-go folds into its error text,
// "response status code <n>: <body>". Other errors are returned unchanged.
func asAuthError(err error) error {
	var status int
	if _, scanErr := fmt.Sscanf(err.Error(), "response status code %d", &status); scanErr != nil {
		return err
	}
	ae := &AuthError{Status: status}
	if _, body, ok := strings.Cut(err.Error(), ": "); ok {
		_ = json.Unmarshal([]byte(body), ae)
	}
	return ae
}

func isClientError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Status >= 400 && ae.Status < 500
}
