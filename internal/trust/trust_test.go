// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package trust_test

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent/internal/common/config"
	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/errtaxonomy"
	"github.com/Axion-inc/DesktopAgent/internal/trust"
)

func samplePlan() *dslmodel.Plan {
	return &dslmodel.Plan{
		DSLVersion: "1.1",
		Name:       "sign-me",
		Steps: []*dslmodel.Step{
			{Action: "find_files", Params: map[string]interface{}{"query": "*.pdf"}},
		},
	}
}

func buildStore(t *testing.T, keyID string, pub ed25519.PublicKey, level string, from, until time.Time) *trust.Store {
	t.Helper()
	s, err := trust.NewStore(map[string]config.TrustEntryConfig{
		keyID: {PublicKey: hex.EncodeToString(pub), TrustLevel: level, ValidFrom: from, ValidUntil: until},
	})
	require.NoError(t, err)
	return s
}

func TestSignAndVerify_Success(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	plan := samplePlan()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, trust.Sign(plan, "k1", priv, now))

	store := buildStore(t, "k1", pub, "commercial", time.Time{}, time.Time{})
	res := trust.Verify(plan, store, trust.LevelCommunity, now)
	assert.Nil(t, res.Err)
	assert.Equal(t, trust.LevelCommercial, res.Entry.TrustLevel)
}

func TestVerify_UnsignedPlan(t *testing.T) {
	store := buildStore(t, "k1", make([]byte, ed25519.PublicKeySize), "system", time.Time{}, time.Time{})
	res := trust.Verify(samplePlan(), store, trust.LevelUnknown, time.Now())
	require.NotNil(t, res.Err)
	assert.Equal(t, errtaxonomy.CodeKeyUnknown, res.Err.Code)
}

func TestVerify_TamperedBytesRejected(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	plan := samplePlan()
	now := time.Now()
	require.NoError(t, trust.Sign(plan, "k1", priv, now))
	plan.Name = "tampered"

	store := buildStore(t, "k1", pub, "system", time.Time{}, time.Time{})
	res := trust.Verify(plan, store, trust.LevelUnknown, now)
	require.NotNil(t, res.Err)
	assert.Equal(t, errtaxonomy.CodeSignatureInvalid, res.Err.Code)
}

func TestVerify_ExpiredKeyRejected(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	plan := samplePlan()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, trust.Sign(plan, "k1", priv, now))

	store := buildStore(t, "k1", pub, "system", time.Time{}, now.Add(-24*time.Hour))
	res := trust.Verify(plan, store, trust.LevelUnknown, now)
	require.NotNil(t, res.Err)
	assert.Equal(t, errtaxonomy.CodeSignatureExpired, res.Err.Code)
}

func TestVerify_TrustTooLowRejected(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	plan := samplePlan()
	now := time.Now()
	require.NoError(t, trust.Sign(plan, "k1", priv, now))

	store := buildStore(t, "k1", pub, "community", time.Time{}, time.Time{})
	res := trust.Verify(plan, store, trust.LevelSystem, now)
	require.NotNil(t, res.Err)
	assert.Equal(t, errtaxonomy.CodeTrustTooLow, res.Err.Code)
}

func TestVerify_UnknownKey(t *testing.T) {
	store := buildStore(t, "k1", make([]byte, ed25519.PublicKeySize), "system", time.Time{}, time.Time{})
	plan := samplePlan()
	plan.Signature = &dslmodel.SignatureBlock{Algo: "ed25519", KeyID: "k2", Sig: "YQ=="}
	res := trust.Verify(plan, store, trust.LevelUnknown, time.Now())
	require.NotNil(t, res.Err)
	assert.Equal(t, errtaxonomy.CodeKeyUnknown, res.Err.Code)
}
