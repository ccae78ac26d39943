// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package secrets

import "fmt"

// KeychainBackend resolves secrets from the host OS credential store. The
// concrete per-OS integration (macOS Keychain, Windows Credential Manager,
// libsecret) is a named external collaborator (spec §1 Out of scope: OS-
// specific implementations) — KeychainBackend here is a standalone stand-in
// that looks up an in-process map, so the resolver's ordered-backend
// contract and masking behavior can be built and tested without a real
// per-OS keychain available.
type KeychainBackend struct {
	entries map[string]string
}

// NewKeychainBackend builds a stand-in keychain backend pre-seeded with
// entries, as a production build's OS-specific adapter would be after
// querying the real credential store at startup.
func NewKeychainBackend(entries map[string]string) *KeychainBackend {
	return &KeychainBackend{entries: entries}
}

func (KeychainBackend) Name() string { return "keychain" }

func (k *KeychainBackend) Resolve(ref string) (string, error) {
	val, ok := k.entries[ref]
	if !ok {
		return "", fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return val, nil
}
