// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/nacl/secretbox"
)

// EncryptedFileBackend resolves secrets from an on-disk file of
// nacl/secretbox-encrypted values keyed by "[service/]key" reference. This
// is the one backend in the chain actually protecting secrets at rest; the
// env and keychain backends defer to the OS/process for that.
type EncryptedFileBackend struct {
	path string
	key  [32]byte
}

// FileRecord is one entry's on-disk representation: a random nonce plus
// the secretbox-sealed ciphertext, both base64-encoded.
type FileRecord struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// NewEncryptedFileBackend opens path (a JSON object of ref → FileRecord)
// using the given 32-byte key, hex-decoded from config's file_key_hex.
func NewEncryptedFileBackend(path, keyHex string) (*EncryptedFileBackend, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("secrets file_key_hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("secrets file_key_hex: expected 32 bytes, got %d", len(raw))
	}
	b := &EncryptedFileBackend{path: path}
	copy(b.key[:], raw)
	return b, nil
}

func (b *EncryptedFileBackend) Name() string { return "encrypted_file" }

func (b *EncryptedFileBackend) Resolve(ref string) (string, error) {
	records, err := b.load()
	if err != nil {
		return "", err
	}
	rec, ok := records[ref]
	if !ok {
		return "", fmt.Errorf("%s: %w", ref, ErrNotFound)
	}

	nonce, err := base64.StdEncoding.DecodeString(rec.Nonce)
	if err != nil || len(nonce) != 24 {
		return "", fmt.Errorf("%s: malformed nonce", ref)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(rec.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%s: malformed ciphertext", ref)
	}

	var nonceArr [24]byte
	copy(nonceArr[:], nonce)
	plain, ok := secretbox.Open(nil, ciphertext, &nonceArr, &b.key)
	if !ok {
		return "", fmt.Errorf("%s: decryption failed", ref)
	}
	return string(plain), nil
}

func (b *EncryptedFileBackend) load() (map[string]FileRecord, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}
	var records map[string]FileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}
	return records, nil
}

// Seal encrypts plaintext with key and returns the FileRecord to persist —
// the counterpart to Resolve. Within the module only tests call it.
func Seal(key [32]byte, nonce [24]byte, plaintext string) FileRecord {
	sealed := secretbox.Seal(nil, []byte(plaintext), &nonce, &key)
	return FileRecord{
		Nonce:      base64.StdEncoding.EncodeToString(nonce[:]),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}
}
