// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent/internal/common/config"
	"github.com/Axion-inc/DesktopAgent/internal/trust"
)

func TestRunSign_WritesVerifiableSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	keyFile := filepath.Join(t.TempDir(), "key.hex")
	require.NoError(t, os.WriteFile(keyFile, []byte(hex.EncodeToString(priv)), 0o644))

	planPath := writePlanFile(t, samplePlanYAML)
	outPath := filepath.Join(t.TempDir(), "signed.yaml")

	require.NoError(t, runSign(planPath, "test-key", keyFile, outPath))

	signed, err := loadPlan(outPath)
	require.NoError(t, err)
	require.NotNil(t, signed.Signature)
	assert.Equal(t, "test-key", signed.Signature.KeyID)

	trustStore, err := trust.NewStore(map[string]config.TrustEntryConfig{
		"test-key": {PublicKey: hex.EncodeToString(pub), TrustLevel: "community"},
	})
	require.NoError(t, err)

	result := trust.Verify(signed, trustStore, trust.LevelUnknown, time.Now())
	assert.Nil(t, result.Err)
}

func TestLoadEd25519PrivateKey_RejectsWrongLength(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "bad.hex")
	require.NoError(t, os.WriteFile(keyFile, []byte(hex.EncodeToString([]byte("too-short"))), 0o644))

	_, err := loadEd25519PrivateKey(keyFile)
	assert.Error(t, err)
}
