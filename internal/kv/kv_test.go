package kv

import (
	"bytes"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecgard/roster/internal/crypto"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "kv"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	c, err := crypto.NewCipher(hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef")))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	return map[string]Store{
		"mem":       NewMemStore(),
		"file":      fs,
		"encrypted": NewEncrypted(NewMemStore(), c),
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			if err := s.Set("profile_cache", []byte("v1")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set("profile_cache", []byte("v2")); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			got, err := s.Get("profile_cache")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !bytes.Equal(got, []byte("v2")) {
				t.Errorf("expected v2, got %q", got)
			}

			if err := s.Delete("profile_cache"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Delete("profile_cache"); err != nil {
				t.Fatalf("Delete twice should be a no-op: %v", err)
			}
			if _, err := s.Get("profile_cache"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestInvalidKeys(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"", "..", "a/b", `a\b`} {
				if err := s.Set(key, []byte("x")); !errors.Is(err, ErrInvalidKey) {
					t.Errorf("Set(%q): expected ErrInvalidKey, got %v", key, err)
				}
			}
		})
	}
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "kv")
	a, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := a.Set("session", []byte("token")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	b, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	got, err := b.Get("session")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "token" {
		t.Errorf("expected token, got %q", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestEncryptedRejectsSwappedKeys(t *testing.T) {
	inner := NewMemStore()
	c, _ := crypto.NewCipher(hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef")))
	e := NewEncrypted(inner, c)

	if err := e.Set("session", []byte("secret")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, _ := inner.Get("session")
	if bytes.Contains(raw, []byte("secret")) {
		t.Fatal("value stored in plaintext")
	}

	_ = inner.Set("profile_cache", raw)
	if _, err := e.Get("profile_cache"); err == nil {
		t.Error("expected error opening a value copied under another key")
	}
}
