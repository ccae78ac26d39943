// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package trust implements Ed25519 plan signing/verification and the
// trust-store lookup that assigns a trust level to a signing key (spec
// §4.C).
package trust

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/Axion-inc/DesktopAgent/internal/common/config"
	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/errtaxonomy"
)

// Level is a trust tier, ordered system > commercial > development >
// community > unknown (spec §4.C).
type Level int

const (
	LevelUnknown Level = iota
	LevelCommunity
	LevelDevelopment
	LevelCommercial
	LevelSystem
)

var levelNames = map[string]Level{
	"unknown":     LevelUnknown,
	"community":   LevelCommunity,
	"development": LevelDevelopment,
	"commercial":  LevelCommercial,
	"system":      LevelSystem,
}

func ParseLevel(s string) (Level, bool) {
	l, ok := levelNames[s]
	return l, ok
}

func (l Level) String() string {
	for name, v := range levelNames {
		if v == l {
			return name
		}
	}
	return "unknown"
}

// Entry is one trust-store record: the public key bound to a key_id, its
// assigned trust level, and its validity window.
type Entry struct {
	KeyID      string
	PublicKey  ed25519.PublicKey
	TrustLevel Level
	ValidFrom  time.Time
	ValidUntil time.Time
}

// Store is the ordered key_id → Entry mapping (spec §4.C). Ordering only
// matters for deterministic listing (e.g. `deskagent templates`); lookup is
// by exact key_id.
type Store struct {
	entries map[string]Entry
	order   []string
}

// NewStore builds a Store from the trust_store section of Config,
// hex-decoding each public key.
func NewStore(cfg map[string]config.TrustEntryConfig) (*Store, error) {
	s := &Store{entries: make(map[string]Entry, len(cfg))}
	for keyID, e := range cfg {
		raw, err := hex.DecodeString(e.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("trust_store[%s].public_key: %w", keyID, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("trust_store[%s].public_key: expected %d bytes, got %d", keyID, ed25519.PublicKeySize, len(raw))
		}
		level, ok := ParseLevel(e.TrustLevel)
		if !ok {
			return nil, fmt.Errorf("trust_store[%s].trust_level: unrecognized %q", keyID, e.TrustLevel)
		}
		s.entries[keyID] = Entry{
			KeyID: keyID, PublicKey: ed25519.PublicKey(raw),
			TrustLevel: level, ValidFrom: e.ValidFrom, ValidUntil: e.ValidUntil,
		}
		s.order = append(s.order, keyID)
	}
	sort.Strings(s.order)
	return s, nil
}

func (s *Store) Lookup(keyID string) (Entry, bool) {
	e, ok := s.entries[keyID]
	return e, ok
}

func (s *Store) KeyIDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// CanonicalHash hashes the plan's canonical (signature-excluded) byte form
// with SHA-256, the digest the Ed25519 signature is computed over.
func CanonicalHash(p *dslmodel.Plan) ([32]byte, error) {
	b, err := dslmodel.CanonicalBytes(p)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// Sign computes and attaches a SignatureBlock to plan using priv, tagged
// with keyID. The caller is responsible for keyID existing in the trust
// store the plan will later be verified against.
func Sign(plan *dslmodel.Plan, keyID string, priv ed25519.PrivateKey, now time.Time) error {
	hash, err := CanonicalHash(plan)
	if err != nil {
		return err
	}
	sig := ed25519.Sign(priv, hash[:])
	plan.Signature = &dslmodel.SignatureBlock{
		Algo:      "ed25519",
		KeyID:     keyID,
		CreatedAt: now.UTC().Format(time.RFC3339),
		Sig:       base64.StdEncoding.EncodeToString(sig),
	}
	return nil
}

// VerifyResult is the outcome of Verify: the resolved trust entry plus any
// taxonomy error that failed it.
type VerifyResult struct {
	Entry Entry
	Err   *errtaxonomy.Error
}

// Verify checks plan's signature against store, at evaluation time now,
// requiring at least minLevel trust. A nil Signature is reported as
// KEY_UNKNOWN (there is nothing to look up), matching the taxonomy's
// closed set of signature failure codes.
func Verify(plan *dslmodel.Plan, store *Store, minLevel Level, now time.Time) VerifyResult {
	if plan.Signature == nil {
		return VerifyResult{Err: errtaxonomy.New(errtaxonomy.CodeKeyUnknown, -1, "plan is unsigned")}
	}
	sig := plan.Signature

	entry, ok := store.Lookup(sig.KeyID)
	if !ok {
		return VerifyResult{Err: errtaxonomy.New(errtaxonomy.CodeKeyUnknown, -1, fmt.Sprintf("unknown signing key %q", sig.KeyID))}
	}

	if !entry.ValidFrom.IsZero() && now.Before(entry.ValidFrom) {
		return VerifyResult{Entry: entry, Err: errtaxonomy.New(errtaxonomy.CodeSignatureExpired, -1, "signing key not yet valid")}
	}
	if !entry.ValidUntil.IsZero() && now.After(entry.ValidUntil) {
		return VerifyResult{Entry: entry, Err: errtaxonomy.New(errtaxonomy.CodeSignatureExpired, -1, "signing key has expired")}
	}

	rawSig, err := base64.StdEncoding.DecodeString(sig.Sig)
	if err != nil {
		return VerifyResult{Entry: entry, Err: errtaxonomy.New(errtaxonomy.CodeSignatureInvalid, -1, "signature is not valid base64")}
	}
	hash, err := CanonicalHash(plan)
	if err != nil {
		return VerifyResult{Entry: entry, Err: errtaxonomy.New(errtaxonomy.CodeSignatureInvalid, -1, err.Error())}
	}
	if !ed25519.Verify(entry.PublicKey, hash[:], rawSig) {
		return VerifyResult{Entry: entry, Err: errtaxonomy.New(errtaxonomy.CodeSignatureInvalid, -1, "signature does not match plan bytes")}
	}

	if entry.TrustLevel < minLevel {
		return VerifyResult{Entry: entry, Err: errtaxonomy.New(errtaxonomy.CodeTrustTooLow, -1,
			fmt.Sprintf("key %q trust level %s is below required %s", sig.KeyID, entry.TrustLevel, minLevel))}
	}

	return VerifyResult{Entry: entry}
}
