package encryption

import (
	"context"
	"testing"

	"admin-gateway/internal/config"
)

func newLocalManager() *Manager {
	cfg := &config.Config{}
	cfg.KMS.Enabled = false
	return NewManager(cfg, nil)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m := newLocalManager()
	ctx := context.Background()

	data, err := m.EncryptField(ctx, `{"userAgent":"Mozilla/5.0","ipAddress":"203.0.113.7"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.EncryptedValue == "" || data.EncryptedDEK == "" || data.Version != "v1" {
		t.Fatalf("incomplete envelope: %+v", data)
	}

	got, err := m.DecryptField(ctx, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"userAgent":"Mozilla/5.0","ipAddress":"203.0.113.7"}` {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestDecryptAfterCacheClear(t *testing.T) {
	m := newLocalManager()
	ctx := context.Background()

	data, err := m.EncryptField(ctx, "fingerprint")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.ClearCache()
	if m.CacheSize() != 0 {
		t.Fatalf("expected empty cache, got %d", m.CacheSize())
	}

	got, err := m.DecryptField(ctx, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "fingerprint" {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	m := newLocalManager()
	ctx := context.Background()

	data, err := m.EncryptField(ctx, "fingerprint")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data.EncryptedValue = "AAAA" + data.EncryptedValue[4:]

	if _, err := m.DecryptField(ctx, data); err == nil {
		t.Fatal("expected decryption failure for tampered ciphertext")
	}
}
