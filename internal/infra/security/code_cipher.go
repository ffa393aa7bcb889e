// Package security holds the vault's cipher: AES-256-GCM for code storage,
// HMAC-SHA256 fingerprints for duplicate detection and fixed-width masks for
// display.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/hkdf"

	"lodge-codevault/internal/domain"
	"lodge-codevault/internal/domain/model"
	"lodge-codevault/internal/domain/ports/adapter"
)

var _ adapter.CodeCipher = (*CodeCipher)(nil)

const (
	// MasterKeySize is the required length of the configured key.
	MasterKeySize = 32

	maskVisible = 2
	maskHidden  = 6
	// MaskLength is the rune length of every mask.
	MaskLength = 2*maskVisible + maskHidden
	// codes shorter than this reveal nothing in their mask
	maskMinReveal = 2*maskVisible + 2
)

var (
	infoEncrypt     = []byte("lodge-codevault/v1/encrypt")
	infoFingerprint = []byte("lodge-codevault/v1/fingerprint")
)

// CodeCipher encrypts, fingerprints and masks access codes. It is stateless
// apart from its derived keys and safe for concurrent use.
type CodeCipher struct {
	gcm   cipher.AEAD
	fpKey []byte
}

// NewCodeCipher derives independent encryption and fingerprint keys from a
// 32-byte master key.
func NewCodeCipher(masterKey []byte) (*CodeCipher, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes; got %d", domain.ErrCrypto, MasterKeySize, len(masterKey))
	}
	encKey, err := deriveKey(masterKey, infoEncrypt)
	if err != nil {
		return nil, err
	}
	fpKey, err := deriveKey(masterKey, infoFingerprint)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("%w: aes.NewCipher: %v", domain.ErrCrypto, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: cipher.NewGCM: %v", domain.ErrCrypto, err)
	}
	return &CodeCipher{gcm: gcm, fpKey: fpKey}, nil
}

func deriveKey(master, info []byte) ([]byte, error) {
	out := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, info), out); err != nil {
		return nil, fmt.Errorf("%w: hkdf: %v", domain.ErrCrypto, err)
	}
	return out, nil
}

// ParseMasterKey accepts the key as 32 raw bytes, base64 (standard or URL,
// padded or not) or hex.
func ParseMasterKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: encryption key is not configured", domain.ErrCrypto)
	}
	if len(s) == MasterKeySize {
		return []byte(s), nil
	}
	if b, err := hex.DecodeString(s); err == nil && len(b) == MasterKeySize {
		return b, nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == MasterKeySize {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: encryption key must decode to %d bytes", domain.ErrCrypto, MasterKeySize)
}

// Encrypt returns base64url(nonce || ciphertext). The nonce is random per call.
func (c *CodeCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: rand nonce: %v", domain.ErrCrypto, err)
	}
	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt accepts output of Encrypt and returns the original plaintext.
// A corrupt value or a key that changed since encryption yields ErrCrypto.
func (c *CodeCipher) Decrypt(encoded string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext is not valid base64", domain.ErrCrypto)
	}
	ns := c.gcm.NonceSize()
	if len(data) < ns+c.gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrCrypto)
	}
	pt, err := c.gcm.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed (corrupt ciphertext or wrong key)", domain.ErrCrypto)
	}
	return string(pt), nil
}

// Fingerprint is a keyed one-way digest of plaintext, 64 hex characters.
// It is only ever compared for equality.
func (c *CodeCipher) Fingerprint(plaintext string) string {
	m := hmac.New(sha256.New, c.fpKey)
	m.Write([]byte(plaintext))
	return hex.EncodeToString(m.Sum(nil))
}

// Mask renders plaintext for display: two leading and two trailing runes
// around a fixed run of model.MaskRune. The result is always MaskLength runes
// long. Plaintext containing model.MaskRune is rejected before it gets here.
func (c *CodeCipher) Mask(plaintext string) string { return Mask(plaintext) }

// Mask is the package-level form of (*CodeCipher).Mask.
func Mask(plaintext string) string {
	if utf8.RuneCountInString(plaintext) < maskMinReveal {
		return strings.Repeat(string(model.MaskRune), MaskLength)
	}
	r := []rune(plaintext)
	return string(r[:maskVisible]) + strings.Repeat(string(model.MaskRune), maskHidden) + string(r[len(r)-maskVisible:])
}
