// Package secrets encrypts credential material (API keys, tokens,
// connection strings) that node settings hold for actions such as
// http, slackwebhook, mysqlquery, awss3. Workflows store these values
// at rest as opaque ciphertext; the node executor resolves them back
// to plaintext only for the duration of a single Action invocation.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const refPrefix = "secret:"

// KeySource configures how the AES-256 key is derived.
type KeySource struct {
	Passphrase string
	Salt       string
	Iterations int
}

// Box encrypts and decrypts credential strings with AES-256-GCM.
type Box struct {
	key []byte
}

// NewBox derives a 32-byte key from src via PBKDF2-SHA256.
func NewBox(src KeySource) (*Box, error) {
	if src.Passphrase == "" {
		return nil, fmt.Errorf("secrets: passphrase must not be empty")
	}
	salt := src.Salt
	if salt == "" {
		salt = "prana-secrets"
	}
	iterations := src.Iterations
	if iterations <= 0 {
		iterations = 100000
	}
	key := pbkdf2.Key([]byte(src.Passphrase), []byte(salt), iterations, 32, sha256.New)
	return &Box{key: key}, nil
}

// Seal encrypts plaintext and returns a "secret:" reference suitable
// for storing directly in a node's Params or Settings map.
func (b *Box) Seal(plaintext string) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", fmt.Errorf("secrets: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: creating gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: generating nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return refPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open reverses Seal. It returns the input unchanged if it does not
// carry the "secret:" prefix, so callers can run every rendered param
// value through Open without first checking whether it is a secret.
func (b *Box) Open(value string) (string, error) {
	enc, ok := strings.CutPrefix(value, refPrefix)
	if !ok {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("secrets: invalid reference encoding: %w", err)
	}

	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", fmt.Errorf("secrets: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: creating gcm: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("secrets: reference too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypting reference: %w", err)
	}
	return string(plaintext), nil
}

// OpenAll walks a rendered param map and resolves every string leaf
// through Open, leaving non-secret values untouched. Nested maps and
// slices are resolved recursively so a "secret:" reference buried in a
// request body or header map still gets decrypted.
func (b *Box) OpenAll(params map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		resolved, err := b.openValue(v)
		if err != nil {
			return nil, fmt.Errorf("secrets: resolving %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func (b *Box) openValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return b.Open(val)
	case map[string]interface{}:
		return b.OpenAll(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			resolved, err := b.openValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}
