package server

import (
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"daotreasury/crypto"
)

func TestAuthenticatorChecksClaims(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "treasuryd", Audience: "members"}, nil)
	now := time.Now()

	good, err := IssueToken(testSecret, alice, "treasuryd", "members", time.Minute, now)
	require.NoError(t, err)
	caller, err := auth.Caller(good)
	require.NoError(t, err)
	require.Equal(t, alice, caller)

	wrongIssuer, err := IssueToken(testSecret, alice, "someone-else", "members", time.Minute, now)
	require.NoError(t, err)
	_, err = auth.Caller(wrongIssuer)
	require.ErrorContains(t, err, "issuer")

	wrongAudience, err := IssueToken(testSecret, alice, "treasuryd", "public", time.Minute, now)
	require.NoError(t, err)
	_, err = auth.Caller(wrongAudience)
	require.ErrorContains(t, err, "audience")

	forged, err := IssueToken("other-secret", alice, "treasuryd", "members", time.Minute, now)
	require.NoError(t, err)
	_, err = auth.Caller(forged)
	require.Error(t, err)
}

func TestAuthenticatorRequiresExpiryAndMemberSubject(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: crypto.MemberAddress(alice).String(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.Caller(noExpiry)
	require.Error(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.Caller(badSubject)
	require.Error(t, err)

	_, err = IssueToken(" ", alice, "", "", time.Minute, time.Now())
	require.Error(t, err)
}

func TestExtractBearer(t *testing.T) {
	require.Equal(t, "abc", extractBearer("Bearer abc"))
	require.Equal(t, "abc", extractBearer("bearer  abc "))
	require.Empty(t, extractBearer("Basic abc"))
	require.Empty(t, extractBearer("abc"))
}

func TestClientIDFallsBackToAddress(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/invest", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	require.Equal(t, "192.0.2.1", clientID(req))
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	require.Equal(t, "198.51.100.7", clientID(req))
	req.Header.Set("X-Real-IP", "203.0.113.9")
	require.Equal(t, "203.0.113.9", clientID(req))
}
