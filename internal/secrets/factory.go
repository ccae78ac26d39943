// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"fmt"

	"github.com/Axion-inc/DesktopAgent/internal/common/config"
)

// BuildResolver wires up the ordered backend chain named in cfg.Backends
// (spec §4.F: "pluggable ordered backends"). Recognized names: "env",
// "encrypted_file", "keychain".
func BuildResolver(cfg config.SecretsConfig) (*Resolver, error) {
	var backends []Backend
	for _, name := range cfg.Backends {
		switch name {
		case "env":
			backends = append(backends, EnvBackend{})
		case "encrypted_file":
			fb, err := NewEncryptedFileBackend(cfg.FilePath, cfg.FileKeyHex)
			if err != nil {
				return nil, fmt.Errorf("secrets backend %q: %w", name, err)
			}
			backends = append(backends, fb)
		case "keychain":
			backends = append(backends, NewKeychainBackend(nil))
		default:
			return nil, fmt.Errorf("unrecognized secrets backend %q", name)
		}
	}
	return NewResolver(backends...), nil
}
