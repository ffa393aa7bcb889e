package adapter

// CodeCipher seals access codes at rest and derives their display-safe forms.
type CodeCipher interface {
	Encrypt(plaintext string) (string, error)
	// Decrypt fails with an error wrapping domain.ErrCrypto when the
	// ciphertext is corrupt or was sealed under another key.
	Decrypt(ciphertext string) (string, error)
	// Fingerprint is a keyed one-way digest used only for duplicate detection.
	Fingerprint(plaintext string) string
	Mask(plaintext string) string
}
