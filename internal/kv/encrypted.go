package kv

import (
	"fmt"

	"github.com/alecgard/roster/internal/crypto"
)

// Encrypted seals every value with the given cipher before handing it to the
// underlying store. The key is used as additional data, so a value copied
// under another key fails to open. A nil cipher makes it a passthrough.
type Encrypted struct {
	inner  Store
	cipher *crypto.Cipher
}

// NewEncrypted wraps inner with at-rest encryption.
func NewEncrypted(inner Store, c *crypto.Cipher) *Encrypted {
	return &Encrypted{inner: inner, cipher: c}
}

func (e *Encrypted) Get(key string) ([]byte, error) {
	sealed, err := e.inner.Get(key)
	if err != nil {
		return nil, err
	}
	plain, err := e.cipher.Open(sealed, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", key, err)
	}
	return plain, nil
}

func (e *Encrypted) Set(key string, value []byte) error {
	sealed, err := e.cipher.Seal(value, []byte(key))
	if err != nil {
		return fmt.Errorf("sealing %s: %w", key, err)
	}
	return e.inner.Set(key, sealed)
}

func (e *Encrypted) Delete(key string) error {
	return e.inner.Delete(key)
}
