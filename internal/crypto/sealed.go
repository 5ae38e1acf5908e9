package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	sealedVersion    = 1
)

// ErrNoSecret is returned by ResolveSecret when no source is configured.
var ErrNoSecret = errors.New("crypto: no secret configured")

type sealedJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// SecretSource describes where a venue API secret comes from. A plain
// Secret wins over SealedPath.
type SecretSource struct {
	Secret     string
	SealedPath string
	Password   string
}

// Seal encrypts secret with a key derived from password using
// PBKDF2-HMAC-SHA256 and AES-256-GCM. The result is the JSON document
// ResolveSecret reads from SealedPath.
func Seal(secret, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: seal: empty password")
	}
	if secret == "" {
		return nil, errors.New("crypto: seal: empty secret")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: seal: salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: seal: nonce: %w", err)
	}

	return json.MarshalIndent(sealedJSON{
		Version:    sealedVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(secret), nil)),
	}, "", "  ")
}

// Open decrypts a document produced by Seal.
func Open(sealed []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: open: empty password")
	}
	var doc sealedJSON
	if err := json.Unmarshal(sealed, &doc); err != nil {
		return "", fmt.Errorf("crypto: open: decode: %w", err)
	}
	if doc.Version != sealedVersion {
		return "", fmt.Errorf("crypto: open: unsupported version %d", doc.Version)
	}

	var salt, nonce, ciphertext []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", doc.Salt, &salt},
		{"nonce", doc.Nonce, &nonce},
		{"ciphertext", doc.Ciphertext, &ciphertext},
	} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto: open: %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: open: nonce length %d", len(nonce))
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: open: wrong password or corrupt file: %w", err)
	}
	return string(plain), nil
}

// ResolveSecret returns the plain secret, or reads and opens SealedPath.
func ResolveSecret(src SecretSource) (string, error) {
	if src.Secret != "" {
		return src.Secret, nil
	}
	if src.SealedPath == "" {
		return "", ErrNoSecret
	}
	data, err := os.ReadFile(src.SealedPath)
	if err != nil {
		return "", fmt.Errorf("crypto: read sealed secret: %w", err)
	}
	return Open(data, src.Password)
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}
