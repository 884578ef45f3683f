package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookline/internal/config"
)

var enc = base64.RawURLEncoding

func unsigned(t *testing.T, hdr, claims map[string]any) string {
	t.Helper()
	h, err := json.Marshal(hdr)
	require.NoError(t, err)
	c, err := json.Marshal(claims)
	require.NoError(t, err)
	return enc.EncodeToString(h) + "." + enc.EncodeToString(c)
}

func hs256(t *testing.T, secret string, claims map[string]any) string {
	t.Helper()
	in := unsigned(t, map[string]any{"alg": "HS256", "typ": "JWT"}, claims)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(in))
	return in + "." + enc.EncodeToString(mac.Sum(nil))
}

func rs256(t *testing.T, key *rsa.PrivateKey, kid string, claims map[string]any) string {
	t.Helper()
	in := unsigned(t, map[string]any{"alg": "RS256", "kid": kid}, claims)
	sum := sha256.Sum256([]byte(in))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, sum[:])
	require.NoError(t, err)
	return in + "." + enc.EncodeToString(sig)
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleAdmin, ParseRole("Admin"))
	assert.Equal(t, RoleMember, ParseRole(""))
	assert.Equal(t, RoleViewer, ParseRole("viewer"))
	assert.Equal(t, RoleViewer, ParseRole("operator"))
	assert.True(t, RoleMember.CanManage())
	assert.False(t, RoleViewer.CanManage())
}

func TestVerifyDevToken(t *testing.T) {
	v := NewVerifier(config.Auth{Mode: "dev"})
	pr, err := v.Verify(t.Context(), "acme:admin")
	require.NoError(t, err)
	assert.Equal(t, Principal{Tenant: "acme", Role: RoleAdmin}, pr)

	pr, err = v.Verify(t.Context(), "acme:viewer")
	require.NoError(t, err)
	assert.False(t, pr.Role.CanManage())

	_, err = v.Verify(t.Context(), "acme")
	assert.Error(t, err)
	_, err = v.Verify(t.Context(), ":admin")
	assert.Error(t, err)
}

func TestVerifyHMACToken(t *testing.T) {
	v := NewVerifier(config.Auth{Mode: "hmac", HMACSecret: "k", TenantClaim: "org", RoleClaim: "perm"})
	exp := time.Now().Add(time.Hour).Unix()

	pr, err := v.Verify(t.Context(), hs256(t, "k", map[string]any{"org": "acme", "perm": "Viewer", "exp": exp}))
	require.NoError(t, err)
	assert.Equal(t, Principal{Tenant: "acme", Role: RoleViewer}, pr)

	pr, err = v.Verify(t.Context(), hs256(t, "k", map[string]any{"org": "acme"}))
	require.NoError(t, err)
	assert.Equal(t, RoleMember, pr.Role)

	bad := []string{
		hs256(t, "other", map[string]any{"org": "acme"}),
		hs256(t, "k", map[string]any{"perm": "admin"}),
		hs256(t, "k", map[string]any{"org": "acme", "exp": time.Now().Add(-time.Hour).Unix()}),
		hs256(t, "k", map[string]any{"org": "acme", "nbf": time.Now().Add(time.Hour).Unix()}),
		unsigned(t, map[string]any{"alg": "none"}, map[string]any{"org": "acme"}) + ".",
		"not-a-token",
		"a.b.c.d",
	}
	for i, tok := range bad {
		_, err := v.Verify(t.Context(), tok)
		assert.Error(t, err, "case %d", i)
	}
}

func TestVerifyJWKSToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "k1",
			"n":   enc.EncodeToString(key.N.Bytes()),
			"e":   enc.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	v := NewVerifier(config.Auth{Mode: "jwks", JWKSURL: srv.URL})
	pr, err := v.Verify(t.Context(), rs256(t, key, "k1", map[string]any{"tenant": "acme", "role": "admin"}))
	require.NoError(t, err)
	assert.Equal(t, Principal{Tenant: "acme", Role: RoleAdmin}, pr)

	_, err = v.Verify(t.Context(), rs256(t, key, "k1", map[string]any{"tenant": "acme"}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, fetches.Load(), "keys are cached")

	_, err = v.Verify(t.Context(), rs256(t, key, "k2", map[string]any{"tenant": "acme"}))
	assert.Error(t, err)
	assert.EqualValues(t, 1, fetches.Load(), "unknown kid does not refetch within the refresh window")

	_, err = v.Verify(t.Context(), hs256(t, "k", map[string]any{"tenant": "acme"}))
	assert.Error(t, err)
}
