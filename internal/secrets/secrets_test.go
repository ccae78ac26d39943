// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package secrets_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent/internal/secrets"
)

func TestEnvBackend_ResolvesPrefixedVariable(t *testing.T) {
	t.Setenv("DESKTOP_AGENT_SECRET_SMTP_PASSWORD", "hunter2")
	r := secrets.NewResolver(secrets.EnvBackend{})
	val, err := r.Resolve("smtp/password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", val)
}

func TestEnvBackend_MissingReturnsError(t *testing.T) {
	r := secrets.NewResolver(secrets.EnvBackend{})
	_, err := r.Resolve("does/not-exist")
	assert.Error(t, err)
}

func TestResolver_FallsThroughChain(t *testing.T) {
	keychain := secrets.NewKeychainBackend(map[string]string{"svc/key": "from-keychain"})
	r := secrets.NewResolver(secrets.EnvBackend{}, keychain)
	val, err := r.Resolve("svc/key")
	require.NoError(t, err)
	assert.Equal(t, "from-keychain", val)
}

func TestResolver_Mask(t *testing.T) {
	keychain := secrets.NewKeychainBackend(map[string]string{"svc/key": "topsecretvalue"})
	r := secrets.NewResolver(keychain)
	_, err := r.Resolve("svc/key")
	require.NoError(t, err)

	masked := r.Mask("the password is topsecretvalue, ok?")
	assert.NotContains(t, masked, "topsecretvalue")
	assert.Contains(t, masked, secrets.MaskPlaceholder)
}

func TestResolver_MaskValue_Nested(t *testing.T) {
	keychain := secrets.NewKeychainBackend(map[string]string{"svc/key": "nestedsecret"})
	r := secrets.NewResolver(keychain)
	_, err := r.Resolve("svc/key")
	require.NoError(t, err)

	out := r.MaskValue(map[string]interface{}{
		"body": []interface{}{"contains nestedsecret here"},
	})
	m := out.(map[string]interface{})
	list := m["body"].([]interface{})
	assert.NotContains(t, list[0], "nestedsecret")
}

func TestEncryptedFileBackend_RoundTrip(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	var nonce [24]byte
	for i := range nonce {
		nonce[i] = byte(i + 1)
	}
	rec := secrets.Seal(key, nonce, "sealed-value")

	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.json")
	content := `{"svc/key": {"nonce": "` + rec.Nonce + `", "ciphertext": "` + rec.Ciphertext + `"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	keyHex := "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	b, err := secrets.NewEncryptedFileBackend(path, keyHex)
	require.NoError(t, err)

	val, err := b.Resolve("svc/key")
	require.NoError(t, err)
	assert.Equal(t, "sealed-value", val)
}
