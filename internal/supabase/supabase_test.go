package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memJar is a CookieJar that applies writes to its own view.
type memJar struct {
	cookies []*http.Cookie
	set     []*http.Cookie
}

func (j *memJar) Cookies() []*http.Cookie {
	merged := map[string]*http.Cookie{}
	var order []string
	for _, c := range append(append([]*http.Cookie{}, j.cookies...), j.set...) {
		if _, ok := merged[c.Name]; !ok {
			order = append(order, c.Name)
		}
		merged[c.Name] = c
	}
	out := make([]*http.Cookie, 0, len(order))
	for _, name := range order {
		if c := merged[name]; c.MaxAge >= 0 {
			out = append(out, c)
		}
	}
	return out
}

func (j *memJar) SetCookie(c *http.Cookie) { j.set = append(j.set, c) }

func sessionCookie(t *testing.T, key string, s *Session) *http.Cookie {
	t.Helper()
	v, err := encodeSession(s)
	require.NoError(t, err)
	return &http.Cookie{Name: key, Value: v}
}

func TestStorageKey(t *testing.T) {
	assert.Equal(t, "sb-abcd-auth-token", StorageKey("https://abcd.supabase.co"))
	assert.Equal(t, "sb-127-auth-token", StorageKey("http://127.0.0.1:54321"))
}

func TestSessionRoundTripThroughChunks(t *testing.T) {
	key := "sb-abcd-auth-token"
	long := &Session{
		AccessToken:  strings.Repeat("a", 5000),
		RefreshToken: "refresh-1",
		ExpiresAt:    1700000000,
	}
	value, err := encodeSession(long)
	require.NoError(t, err)

	jar := &memJar{}
	cookieWriter{key: key}.store(jar, value)
	require.Len(t, jar.set, 3)
	assert.Equal(t, key+".0", jar.set[0].Name)
	assert.Equal(t, key+".1", jar.set[1].Name)

	got, err := decodeSession(readChunked(jar.Cookies(), key))
	require.NoError(t, err)
	assert.Equal(t, long.AccessToken, got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
}

func TestStoreExpiresStaleChunks(t *testing.T) {
	key := "sb-abcd-auth-token"
	jar := &memJar{cookies: []*http.Cookie{
		{Name: key + ".0", Value: "x"},
		{Name: key + ".1", Value: "y"},
	}}

	cookieWriter{key: key}.store(jar, "base64-short")

	byName := map[string]*http.Cookie{}
	for _, c := range jar.set {
		byName[c.Name] = c
	}
	require.Contains(t, byName, key)
	assert.Equal(t, "base64-short", byName[key].Value)
	assert.Equal(t, -1, byName[key+".0"].MaxAge)
	assert.Equal(t, -1, byName[key+".1"].MaxAge)
}

func TestRemoveExpiresInNameOrder(t *testing.T) {
	key := "sb-abcd-auth-token"
	jar := &memJar{cookies: []*http.Cookie{
		{Name: key + ".2", Value: "z"},
		{Name: key + ".0", Value: "x"},
		{Name: key, Value: "w"},
		{Name: key + ".1", Value: "y"},
	}}

	cookieWriter{key: key}.remove(jar)

	var names []string
	for _, c := range jar.set {
		names = append(names, c.Name)
		assert.Equal(t, -1, c.MaxAge)
	}
	assert.Equal(t, []string{key, key + ".0", key + ".1", key + ".2"}, names)
}

func TestDecodeLegacyJSONCookie(t *testing.T) {
	s, err := decodeSession(`%7B%22access_token%22%3A%22at%22%2C%22refresh_token%22%3A%22rt%22%7D`)
	require.NoError(t, err)
	assert.Equal(t, "at", s.AccessToken)
	assert.Equal(t, "rt", s.RefreshToken)
}

func TestExpiresWithin(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	s := &Session{ExpiresAt: now.Add(30 * time.Second).Unix()}
	assert.True(t, s.ExpiresWithin(time.Minute, now))
	assert.False(t, s.ExpiresWithin(10*time.Second, now))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)
	fromClaims := &Session{AccessToken: signed}
	assert.False(t, fromClaims.ExpiresWithin(time.Minute, now))
	assert.True(t, fromClaims.ExpiresWithin(2*time.Hour, now))

	assert.True(t, (&Session{AccessToken: "not-a-jwt"}).ExpiresWithin(0, now))
}

const (
	oldUserID   = "3f1d2c4b-5a69-4e7f-8a1b-2c3d4e5f6071"
	freshUserID = "7e6d5c4b-3a29-4180-9f8e-7d6c5b4a3921"
)

func newGoTrue(t *testing.T, refresh http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	if refresh != nil {
		mux.HandleFunc("/auth/v1/token", refresh)
	}
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.Header.Get("Authorization") {
		case "Bearer fresh-access":
			_ = json.NewEncoder(w).Encode(User{ID: freshUserID, Email: "kim@example.com"})
		case "Bearer old-access":
			_ = json.NewEncoder(w).Encode(User{ID: oldUserID, Email: "kim@example.com"})
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error_code":"bad_jwt","msg":"invalid JWT"}`))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRefreshWritesNewSessionAndUserSeesIt(t *testing.T) {
	srv := newGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "old-refresh", body.RefreshToken)
		_ = json.NewEncoder(w).Encode(Session{
			AccessToken:  "fresh-access",
			RefreshToken: "fresh-refresh",
			TokenType:    "bearer",
			ExpiresIn:    3600,
		})
	})
	now := time.Unix(1_700_000_000, 0)
	client := NewClient(srv.URL, "anon", zerolog.Nop(), WithClock(func() time.Time { return now }), WithSecureCookies(true))

	jar := &memJar{cookies: []*http.Cookie{sessionCookie(t, client.StorageKey(), &Session{AccessToken: "old-access", RefreshToken: "old-refresh"})}}

	s, err := client.Refresh(context.Background(), jar)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, now.Add(time.Hour).Unix(), s.ExpiresAt)

	require.Len(t, jar.set, 1)
	assert.Equal(t, client.StorageKey(), jar.set[0].Name)
	assert.True(t, jar.set[0].Secure)
	assert.Equal(t, "/", jar.set[0].Path)

	u, err := client.User(context.Background(), jar)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, freshUserID, u.ID)
	assert.Equal(t, "kim@example.com", u.Email)
}

func TestRefreshRejectedClearsCookies(t *testing.T) {
	srv := newGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_code":"refresh_token_not_found","msg":"Invalid Refresh Token"}`))
	})
	client := NewClient(srv.URL, "anon", zerolog.Nop())
	jar := &memJar{cookies: []*http.Cookie{sessionCookie(t, client.StorageKey(), &Session{AccessToken: "old-access", RefreshToken: "revoked"})}}

	s, err := client.Refresh(context.Background(), jar)
	require.NoError(t, err)
	assert.Nil(t, s)
	require.Len(t, jar.set, 1)
	assert.Equal(t, -1, jar.set[0].MaxAge)

	u, err := client.User(context.Background(), jar)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestRefreshServerErrorPropagates(t *testing.T) {
	srv := newGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	client := NewClient(srv.URL, "anon", zerolog.Nop())
	jar := &memJar{cookies: []*http.Cookie{sessionCookie(t, client.StorageKey(), &Session{RefreshToken: "rt"})}}

	_, err := client.Refresh(context.Background(), jar)
	require.Error(t, err)
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadGateway, ae.Status)
	assert.Empty(t, jar.set)
}

func TestUserWithoutSession(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "anon", zerolog.Nop())
	u, err := client.User(context.Background(), &memJar{})
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUserRejectedToken(t *testing.T) {
	srv := newGoTrue(t, nil)
	client := NewClient(srv.URL, "anon", zerolog.Nop())
	jar := &memJar{cookies: []*http.Cookie{sessionCookie(t, client.StorageKey(), &Session{AccessToken: "expired"})}}

	u, err := client.User(context.Background(), jar)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestSessionIgnoresGarbage(t *testing.T) {
	client := NewClient("https://abcd.supabase.co", "anon", zerolog.Nop())
	jar := &memJar{cookies: []*http.Cookie{{Name: client.StorageKey(), Value: "base64-!!!"}}}
	s, err := client.Session(context.Background(), jar)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestUserLooksUpCurrentAccessToken(t *testing.T) {
	srv := newGoTrue(t, nil)
	client := NewClient(srv.URL, "anon", zerolog.Nop())
	jar := &memJar{cookies: []*http.Cookie{sessionCookie(t, client.StorageKey(), &Session{AccessToken: "old-access"})}}

	u, err := client.User(context.Background(), jar)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, oldUserID, u.ID)
}

func TestUserHonoursCancelledContext(t *testing.T) {
	srv := newGoTrue(t, nil)
	client := NewClient(srv.URL, "anon", zerolog.Nop())
	jar := &memJar{cookies: []*http.Cookie{sessionCookie(t, client.StorageKey(), &Session{AccessToken: "old-access"})}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.User(ctx, jar)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAsAuthError(t *testing.T) {
	err := asAuthError(errors.New(`response status code 400: {"error_code":"refresh_token_not_found","msg":"Invalid Refresh Token"}`))
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadRequest, ae.Status)
	assert.Equal(t, "refresh_token_not_found", ae.Code)
	assert.True(t, isClientError(err))

	err = asAuthError(errors.New("response status code 503"))
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusServiceUnavailable, ae.Status)
	assert.False(t, isClientError(err))

	plain := errors.New("dial tcp: connection refused")
	assert.Same(t, plain, asAuthError(plain))
}
