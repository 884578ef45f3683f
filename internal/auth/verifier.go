// Package auth resolves the tenant and role behind an API bearer token.
package auth

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"hookline/internal/config"
)

// Role decides what a caller may do inside its tenant.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// ParseRole maps a claim or header value onto a Role. An empty value is a
// member; anything unrecognized is treated as read-only.
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RoleMember
	case RoleAdmin, RoleMember:
		return r
	default:
		return RoleViewer
	}
}

// CanManage reports whether the role may change webhooks, trigger test
// deliveries or emit events.
func (r Role) CanManage() bool { return r == RoleAdmin || r == RoleMember }

// Principal is the authenticated caller. Tenant scopes every webhook lookup.
type Principal struct {
	Tenant string
	Role   Role
}

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// clockSkew is tolerated on exp and nbf.
const clockSkew = 30 * time.Second

// Verifier checks bearer tokens in one of three modes: dev ("tenant:role",
// no signature), hmac (HS256) or jwks (RS256 against a remote key set).
type Verifier struct {
	Mode        string
	tenantClaim string
	roleClaim   string
	secret      []byte
	keys        *keySet
	now         func() time.Time
}

func NewVerifier(c config.Auth) *Verifier {
	v := &Verifier{
		Mode:        strings.ToLower(strings.TrimSpace(c.Mode)),
		tenantClaim: c.TenantClaim,
		roleClaim:   c.RoleClaim,
		secret:      []byte(c.HMACSecret),
		now:         time.Now,
	}
	if v.Mode == "" {
		v.Mode = "dev"
	}
	if v.tenantClaim == "" {
		v.tenantClaim = "tenant"
	}
	if v.roleClaim == "" {
		v.roleClaim = "role"
	}
	if v.Mode == "jwks" {
		v.keys = newKeySet(c.JWKSURL)
	}
	return v
}

func (v *Verifier) Verify(ctx context.Context, token string) (Principal, error) {
	if v.Mode == "dev" {
		tenant, role, ok := strings.Cut(token, ":")
		if !ok || tenant == "" {
			return Principal{}, errors.New("dev token must be tenant:role")
		}
		return Principal{Tenant: tenant, Role: ParseRole(role)}, nil
	}
	tok, err := parseToken(token)
	if err != nil {
		return Principal{}, err
	}
	if err := v.checkSignature(ctx, tok); err != nil {
		return Principal{}, err
	}
	if err := tok.checkTimes(v.now()); err != nil {
		return Principal{}, err
	}
	tenant := tok.str(v.tenantClaim)
	if tenant == "" {
		return Principal{}, fmt.Errorf("missing %q claim", v.tenantClaim)
	}
	return Principal{Tenant: tenant, Role: ParseRole(tok.str(v.roleClaim))}, nil
}

func (v *Verifier) checkSignature(ctx context.Context, tok *token) error {
	switch v.Mode {
	case "hmac":
		if tok.alg != "HS256" {
			return fmt.Errorf("alg %q not accepted in hmac mode", tok.alg)
		}
		mac := hmac.New(sha256.New, v.secret)
		mac.Write(tok.signed)
		if !hmac.Equal(mac.Sum(nil), tok.sig) {
			return errors.New("bad signature")
		}
		return nil
	case "jwks":
		if tok.alg != "RS256" {
			return fmt.Errorf("alg %q not accepted in jwks mode", tok.alg)
		}
		pub, err := v.keys.get(ctx, tok.kid)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(tok.signed)
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum[:], tok.sig); err != nil {
			return errors.New("bad signature")
		}
		return nil
	}
	return fmt.Errorf("unsupported auth mode %q", v.Mode)
}
