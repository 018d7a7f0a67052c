// Package filevault implements the file-vault engine.ValueProvider: an
// AES-256-GCM encrypted JSON document read from disk, keyed by a
// caller-supplied passphrase (spec.md §6 "File-vault plugin externals").
//
// No library in the example corpus wraps AES-GCM envelopes of this shape;
// crypto/aes and crypto/cipher are stdlib and used directly here (see
// DESIGN.md for the justification).
package filevault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fracture-labs/fracture/internal/engine"
)

// envelope is the on-disk encrypted document shape.
type envelope struct {
	Encrypted string `json:"_encrypted"`
	IV        string `json:"_iv"`
	AuthTag   string `json:"_authTag"`
	Data      string `json:"_data"`
}

// Provider reads values out of one encrypted vault file.
type Provider struct{}

// New builds a file-vault ValueProvider.
func New() *Provider { return &Provider{} }

func (*Provider) Provider() string { return "file-vault" }

func (*Provider) Validate(config map[string]any) engine.ValidationResult {
	var errs []string
	if _, ok := config["path"].(string); !ok {
		errs = append(errs, "file-vault config requires a string 'path'")
	}
	if _, ok := config["key"].(string); !ok {
		errs = append(errs, "file-vault config requires a string 'key'")
	}
	return engine.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// GetValue decrypts the vault at config.path with config.key and resolves
// key via dot notation into the decrypted JSON document.
func (*Provider) GetValue(dotKey string, config map[string]any, ctx *engine.ExecutionContext) (string, error) {
	path, _ := config["path"].(string)
	passphrase, _ := config["key"].(string)

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading vault file: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("parsing vault envelope: %w", err)
	}
	if env.Encrypted != "aes-256-gcm" {
		return "", fmt.Errorf("unsupported vault encryption %q", env.Encrypted)
	}

	plaintext, err := Decrypt(passphrase, env.IV, env.AuthTag, env.Data)
	if err != nil {
		return "", err
	}

	var doc map[string]any
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return "", fmt.Errorf("parsing decrypted vault document: %w", err)
	}
	v, ok := lookupDotPath(doc, dotKey)
	if !ok {
		return "", nil
	}
	return fmt.Sprintf("%v", v), nil
}

// Encrypt produces a fresh envelope for plaintext under passphrase. Two
// calls with the same inputs differ in IV and ciphertext (spec.md §8
// round-trip property).
func Encrypt(passphrase string, plaintext []byte) (iv, authTag, data string, err error) {
	block, err := newCipherBlock(passphrase)
	if err != nil {
		return "", "", "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", "", "", err
	}
	ivBytes := make([]byte, 12)
	if _, err := rand.Read(ivBytes); err != nil {
		return "", "", "", err
	}
	sealed := gcm.Seal(nil, ivBytes, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-gcm.Overhead()], sealed[len(sealed)-gcm.Overhead():]
	return base64.StdEncoding.EncodeToString(ivBytes),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ciphertext),
		nil
}

// Decrypt reverses Encrypt given a passphrase and the envelope's base64
// fields.
func Decrypt(passphrase, ivB64, authTagB64, dataB64 string) ([]byte, error) {
	block, err := newCipherBlock(passphrase)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, fmt.Errorf("decoding iv: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(authTagB64)
	if err != nil {
		return nil, fmt.Errorf("decoding authTag: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return nil, fmt.Errorf("decoding data: %w", err)
	}
	sealed := append(append([]byte(nil), data...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting vault data: %w", err)
	}
	return plaintext, nil
}

func newCipherBlock(passphrase string) (cipher.Block, error) {
	key := sha256.Sum256([]byte(passphrase))
	return aes.NewCipher(key[:])
}

func lookupDotPath(doc map[string]any, dotKey string) (any, bool) {
	parts := strings.Split(dotKey, ".")
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
