package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// token is a decoded compact JWS. Claims are kept loosely typed because the
// tenant and role claim names are configurable.
type token struct {
	alg, kid string
	claims   map[string]any
	signed   []byte
	sig      []byte
}

func parseToken(raw string) (*token, error) {
	head, rest, ok := strings.Cut(raw, ".")
	if !ok {
		return nil, errors.New("malformed token")
	}
	body, sig, ok := strings.Cut(rest, ".")
	if !ok || strings.Contains(sig, ".") {
		return nil, errors.New("malformed token")
	}
	var hdr struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := decodeSegment(head, &hdr); err != nil {
		return nil, fmt.Errorf("token header: %w", err)
	}
	t := &token{alg: hdr.Alg, kid: hdr.Kid, signed: []byte(head + "." + body)}
	if err := decodeSegment(body, &t.claims); err != nil {
		return nil, fmt.Errorf("token claims: %w", err)
	}
	var err error
	if t.sig, err = base64.RawURLEncoding.DecodeString(sig); err != nil {
		return nil, fmt.Errorf("token signature: %w", err)
	}
	return t, nil
}

func decodeSegment(seg string, v any) error {
	b, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (t *token) str(claim string) string {
	s, _ := t.claims[claim].(string)
	return s
}

// checkTimes enforces exp and nbf when present.
func (t *token) checkTimes(now time.Time) error {
	if exp, ok := t.claims["exp"].(float64); ok && now.Add(-clockSkew).After(time.Unix(int64(exp), 0)) {
		return errors.New("token expired")
	}
	if nbf, ok := t.claims["nbf"].(float64); ok && now.Add(clockSkew).Before(time.Unix(int64(nbf), 0)) {
		return errors.New("token not yet valid")
	}
	return nil
}
