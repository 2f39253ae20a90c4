package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/roombook/core"
)

var alice = core.Caller{ID: "alice", Role: core.RoleUser, Email: "alice@acme.test", Company: "Acme"}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestIssueAndParse_RoundTrip(t *testing.T) {
	a := New("s3cret", "roombook", time.Hour)

	token, exp, err := a.Issue(alice)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	got, err := a.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, alice, got)
}

func TestParse_Rejects(t *testing.T) {
	a := New("s3cret", "roombook", time.Hour)
	good, _, err := a.Issue(alice)
	require.NoError(t, err)

	other, _, err := New("different", "roombook", time.Hour).Issue(alice)
	require.NoError(t, err)

	wrongIssuer, _, err := New("s3cret", "someone-else", time.Hour).Issue(alice)
	require.NoError(t, err)

	badRole, _, err := a.Issue(core.Caller{ID: "mallory", Role: "superuser"})
	require.NoError(t, err)

	noSubject, _, err := a.Issue(core.Caller{Role: core.RoleUser})
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             core.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "root", Issuer: "roombook", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":        "not-a-token",
		"wrong secret":   other,
		"wrong issuer":   wrongIssuer,
		"unknown role":   badRole,
		"missing sub":    noSubject,
		"alg none":       none,
		"truncated good": good[:len(good)-4],
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Parse(token)
			assert.ErrorIs(t, err, core.ErrUnauthenticated)
		})
	}
}

func TestParse_Expired(t *testing.T) {
	issuedAt := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := New("s3cret", "roombook", time.Hour)
	a.now = fixedClock(issuedAt)
	token, _, err := a.Issue(alice)
	require.NoError(t, err)

	a.now = fixedClock(issuedAt.Add(2 * time.Hour))
	_, err = a.Parse(token)
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	assert.True(t, IsExpired(err))
}

func TestMiddleware(t *testing.T) {
	a := New("s3cret", "roombook", time.Hour)
	token, _, err := a.Issue(alice)
	require.NoError(t, err)

	var failed error
	fail := func(w http.ResponseWriter, _ *http.Request, err error) {
		failed = err
		w.WriteHeader(http.StatusUnauthorized)
	}
	var seen core.Caller
	h := a.Middleware(fail)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CallerFrom(r.Context())
	}))

	// GIVEN a valid bearer token THEN the caller reaches the handler
	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice, seen)

	// GIVEN no header THEN the error writer is called
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.ErrorIs(t, failed, core.ErrUnauthenticated)

	// GIVEN a non-bearer scheme
	req = httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	var failed error
	fail := func(w http.ResponseWriter, _ *http.Request, err error) {
		failed = err
		w.WriteHeader(http.StatusForbidden)
	}
	h := RequireAdmin(fail)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(WithCaller(req.Context(), alice)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.ErrorIs(t, failed, core.ErrForbidden)

	root := core.Caller{ID: "root", Role: core.RoleAdmin}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(WithCaller(req.Context(), root)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
