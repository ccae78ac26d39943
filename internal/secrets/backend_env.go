// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// EnvBackend resolves secrets from DESKTOP_AGENT_SECRET_*-prefixed
// environment variables (spec §6 Environment). A ref "smtp/password"
// resolves to DESKTOP_AGENT_SECRET_SMTP_PASSWORD; a bare ref "api_key"
// resolves to DESKTOP_AGENT_SECRET_API_KEY.
type EnvBackend struct{}

var envSafeChars = regexp.MustCompile(`[^A-Z0-9_]`)

func (EnvBackend) Name() string { return "env" }

func (EnvBackend) Resolve(ref string) (string, error) {
	envName := "DESKTOP_AGENT_SECRET_" + toEnvSegment(ref)
	val, ok := os.LookupEnv(envName)
	if !ok {
		return "", fmt.Errorf("%s: %w", envName, ErrNotFound)
	}
	return val, nil
}

func toEnvSegment(ref string) string {
	upper := strings.ToUpper(strings.ReplaceAll(ref, "/", "_"))
	return envSafeChars.ReplaceAllString(upper, "_")
}
