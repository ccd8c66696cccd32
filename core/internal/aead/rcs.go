// Package aead provides the one concrete record.AEADCipher this codebase
// ships: XChaCha20-Poly1305 from golang.org/x/crypto, standing in for the
// spec's abstract RCS authenticated stream cipher. Swapping this file is the
// only change needed to move to a different construction -- record and kex
// never import it directly, only through the record.AEADCipher interface.
package aead

import (
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/qsmplabs/qsmp/core/internal/def"
)

// XChaCha is a record.AEADCipher backed by XChaCha20-Poly1305. One instance
// is good for either encryption or decryption, matching the spec's
// is_encrypt split at Init time.
type XChaCha struct {
	aead      interface {
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
	}
	nonce     [chacha20poly1305.NonceSizeX]byte
	isEncrypt bool
	seq       uint64
}

// New returns a disposed cipher; call Init before use.
func New() *XChaCha { return &XChaCha{} }

// Init keys the cipher with a 32-byte key and loads the first 24 bytes of
// nonce as the per-direction nonce prefix. Per record, the last 8 bytes are
// XORed with this cipher's own counter, which Seal and Open each advance by
// one per call (Open also on a tag failure), so no two records in one
// direction ever reuse a nonce, even though the base nonce is fixed for the
// life of the session. While every record is accepted the counter equals the
// record-layer sequence number.
func (c *XChaCha) Init(key, nonce []byte, isEncrypt bool) error {
	if len(key) != chacha20poly1305.KeySize {
		return errors.Errorf("xchacha: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	if len(nonce) < chacha20poly1305.NonceSizeX {
		return errors.Errorf("xchacha: nonce must be at least %d bytes, got %d", chacha20poly1305.NonceSizeX, len(nonce))
	}

	a, err := chacha20poly1305.NewX(key)
	if err != nil {
		return errors.Wrap(err, "xchacha: init")
	}
	c.aead = a
	copy(c.nonce[:], nonce[:chacha20poly1305.NonceSizeX])
	c.isEncrypt = isEncrypt
	return nil
}

func (c *XChaCha) nonceFor(seq uint64) []byte {
	n := c.nonce
	for i := 0; i < 8; i++ {
		n[len(n)-1-i] ^= byte(seq >> (8 * i))
	}
	return n[:]
}

// Seal encrypts plaintext, returning ciphertext||tag. Only valid on a
// cipher initialized with isEncrypt=true.
func (c *XChaCha) Seal(aad, plaintext []byte) ([]byte, error) {
	if !c.isEncrypt {
		return nil, errors.New("xchacha: Seal called on a decrypt-mode cipher")
	}
	c.seq++
	return c.aead.Seal(nil, c.nonceFor(c.seq), plaintext, aad), nil
}

// Open verifies and decrypts sealed, returning the plaintext. Only valid on
// a cipher initialized with isEncrypt=false.
func (c *XChaCha) Open(aad, sealed []byte) ([]byte, error) {
	if c.isEncrypt {
		return nil, errors.New("xchacha: Open called on an encrypt-mode cipher")
	}
	if len(sealed) < def.TagBytes {
		return nil, errors.New("xchacha: sealed input shorter than the tag")
	}
	c.seq++
	plaintext, err := c.aead.Open(nil, c.nonceFor(c.seq), sealed, aad)
	if err != nil {
		return nil, def.ErrAuthenticationFailure
	}
	return plaintext, nil
}

// Dispose drops this cipher's reference to the keyed AEAD and zeroes the
// nonce prefix and counter. The key copy held inside the chacha20poly1305
// value is not overwritten; it stays in memory until garbage collected.
func (c *XChaCha) Dispose() {
	c.aead = nil
	for i := range c.nonce {
		c.nonce[i] = 0
	}
	c.seq = 0
}

// RandomBytes fills b with cryptographically secure random bytes, used for
// session tokens and ephemeral seeds outside the KEM/SIG collaborators.
func RandomBytes(b []byte) error {
	_, err := rand.Read(b)
	return err
}
