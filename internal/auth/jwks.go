package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

const (
	jwksTTL        = 10 * time.Minute
	jwksMinRefresh = 30 * time.Second
)

// keySet caches the RSA keys of a JWKS endpoint. An unknown kid triggers a
// refresh, at most once per jwksMinRefresh.
type keySet struct {
	url    string
	client *http.Client

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

func newKeySet(url string) *keySet {
	return &keySet{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

func (k *keySet) get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	pub, ok := k.keys[kid]
	age := time.Since(k.fetched)
	if ok && age < jwksTTL {
		return pub, nil
	}
	if !ok && k.keys != nil && age < jwksMinRefresh {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	keys, err := k.fetch(ctx)
	if err != nil {
		if ok {
			return pub, nil
		}
		return nil, err
	}
	k.keys, k.fetched = keys, time.Now()
	if pub, ok = keys[kid]; !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return pub, nil
}

func (k *keySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	if k.url == "" {
		return nil, errors.New("jwks url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: HTTP %d", resp.StatusCode)
	}
	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	out := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, jk := range doc.Keys {
		if jk.Kty != "RSA" {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(jk.N)
		if err != nil {
			continue
		}
		e, err := base64.RawURLEncoding.DecodeString(jk.E)
		if err != nil || len(e) == 0 || len(e) > 4 {
			continue
		}
		out[jk.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}
	}
	return out, nil
}
