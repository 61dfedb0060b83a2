// Package cardnumber converts between plaintext PANs and their at-rest
// representation. The stored ciphertext is randomized (AES-CBC, fresh IV
// per call); exact-match lookup and uniqueness checks go through a
// separate deterministic HMAC-SHA256 fingerprint instead.
package cardnumber

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/akulinin/cardvault/internal/domain"
)

const (
	panLength   = 16
	maxAttempts = 100
)

// Codec encrypts, fingerprints, masks and generates card numbers.
// Keys are derived from two independent server-side secrets.
type Codec struct {
	aesKey  []byte
	hmacKey []byte
	prefix  string
}

// New derives the AES and HMAC keys from the given secrets.
// prefix is the fixed 4-digit issuer prefix for generated numbers.
func New(encryptionSecret, fingerprintSecret, prefix string) (*Codec, error) {
	if strings.TrimSpace(encryptionSecret) == "" {
		return nil, fmt.Errorf("encryption secret is not configured")
	}
	if strings.TrimSpace(fingerprintSecret) == "" {
		return nil, fmt.Errorf("fingerprint secret is not configured")
	}
	if len(prefix) != 4 {
		return nil, fmt.Errorf("issuer prefix must be 4 digits, got %q", prefix)
	}
	for i := 0; i < len(prefix); i++ {
		if prefix[i] < '0' || prefix[i] > '9' {
			return nil, fmt.Errorf("issuer prefix must be 4 digits, got %q", prefix)
		}
	}

	aesKey := sha256.Sum256([]byte(encryptionSecret))
	hmacKey := sha256.Sum256([]byte(fingerprintSecret))
	return &Codec{
		aesKey:  aesKey[:],
		hmacKey: hmacKey[:],
		prefix:  prefix,
	}, nil
}

// Encrypt returns base64(iv || AES-CBC(pan)) with PKCS#7 padding and a
// random IV per call. The result is not usable for lookup; use
// Fingerprint for that.
func (c *Codec) Encrypt(pan string) (string, error) {
	if pan == "" {
		return "", fmt.Errorf("card number is empty")
	}

	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate IV: %w", err)
	}

	plaintext := []byte(pan)
	padding := aes.BlockSize - len(plaintext)%aes.BlockSize
	for i := 0; i < padding; i++ {
		plaintext = append(plaintext, byte(padding))
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	return base64.StdEncoding.EncodeToString(append(iv, ciphertext...)), nil
}

// Decrypt is the inverse of Encrypt. Malformed input or data encrypted
// under a different key yields *domain.ErrDecryption.
func (c *Codec) Decrypt(encrypted string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", &domain.ErrDecryption{Err: fmt.Errorf("decode base64: %w", err)}
	}
	if len(raw) < aes.BlockSize {
		return "", &domain.ErrDecryption{Err: fmt.Errorf("ciphertext too short: %d bytes", len(raw))}
	}

	iv := raw[:aes.BlockSize]
	ciphertext := raw[aes.BlockSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", &domain.ErrDecryption{Err: fmt.Errorf("invalid ciphertext length: %d bytes", len(ciphertext))}
	}

	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return "", &domain.ErrDecryption{Err: err}
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	padding := int(plaintext[len(plaintext)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(plaintext) {
		return "", &domain.ErrDecryption{Err: fmt.Errorf("invalid padding value: %d", padding)}
	}
	pad := plaintext[len(plaintext)-padding:]
	ok := 1
	for _, b := range pad {
		ok &= subtle.ConstantTimeByteEq(b, byte(padding))
	}
	if ok != 1 {
		return "", &domain.ErrDecryption{Err: fmt.Errorf("invalid padding bytes")}
	}

	return string(plaintext[:len(plaintext)-padding]), nil
}

// Fingerprint returns the deterministic lookup key for a PAN:
// hex(HMAC-SHA256(canonical pan)). Spaces are stripped so the same card
// always maps to the same fingerprint.
func (c *Codec) Fingerprint(pan string) string {
	clean := strings.ReplaceAll(pan, " ", "")
	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write([]byte(clean))
	return hex.EncodeToString(mac.Sum(nil))
}

// Generate produces a Luhn-valid 16-digit PAN with the configured issuer
// prefix, retrying until its fingerprint is absent from the store.
// exists is consulted once per candidate; after maxAttempts collisions
// the error is *domain.ErrGenerationExhausted.
func (c *Codec) Generate(ctx context.Context, exists func(ctx context.Context, fingerprint string) (bool, error)) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		pan, err := c.randomPAN()
		if err != nil {
			return "", err
		}

		taken, err := exists(ctx, c.Fingerprint(pan))
		if err != nil {
			return "", fmt.Errorf("check card number uniqueness: %w", err)
		}
		if !taken {
			return pan, nil
		}
	}
	return "", &domain.ErrGenerationExhausted{Attempts: maxAttempts}
}

// randomPAN builds prefix + 11 random digits + Luhn check digit.
func (c *Codec) randomPAN() (string, error) {
	random := panLength - len(c.prefix) - 1

	buf := make([]byte, random)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random digits: %w", err)
	}

	var b strings.Builder
	b.WriteString(c.prefix)
	for _, v := range buf {
		b.WriteByte(v%10 + '0')
	}
	b.WriteByte(byte(CheckDigit(b.String())) + '0')
	return b.String(), nil
}

// Mask returns the display form of a PAN: masking groups followed by the
// last four digits. Inputs shorter than four digits collapse to "****".
func Mask(pan string) string {
	clean := strings.ReplaceAll(pan, " ", "")
	if len(clean) < 4 {
		return "****"
	}
	return "**** **** **** " + clean[len(clean)-4:]
}
