package webhooks

import (
	"errors"
	"strings"
	"testing"
)

func TestSignDeterministic(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"order.created"}`)
	s := HMACSigner{}
	a, err := s.Sign("secret-one-0123456", body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	b, _ := s.Sign("secret-one-0123456", body)
	if a != b {
		t.Fatalf("signature not deterministic: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "sha256=") || len(a) != len("sha256=")+64 {
		t.Fatalf("unexpected format %q", a)
	}
	if c, _ := s.Sign("secret-two-0123456", body); c == a {
		t.Fatalf("different secret should change signature")
	}
	if c, _ := s.Sign("secret-one-0123456", []byte(`{"type":"order.created","id":"evt_1"}`)); c == a {
		t.Fatalf("reordered bytes should change signature")
	}
}

func TestSignEmptySecret(t *testing.T) {
	_, err := HMACSigner{}.Sign("  ", []byte(`{}`))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("want ErrConfiguration, got %v", err)
	}
}

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig, _ := HMACSigner{}.Sign("k", body)
	if !VerifyHMAC("k", body, sig) {
		t.Fatalf("prefixed signature should verify")
	}
	if !VerifyHMAC("k", body, SignHMAC("k", body)) {
		t.Fatalf("bare hex should verify")
	}
	if VerifyHMAC("k", []byte(`{"a":2}`), sig) {
		t.Fatalf("tampered body must not verify")
	}
	if VerifyHMAC("k", body, "sha256=zz") {
		t.Fatalf("garbage must not verify")
	}
}
