// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, yamlBody string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))
	return path
}

func TestBuildServices_OpensInMemoryStoreAndTrustStore(t *testing.T) {
	cfgFile := writeTempConfig(t, `
store:
  driver: sqlite3
  dsn: ":memory:"
artifacts:
  screenshots_dir: ""
  schemas_dir: ""
  audit_log_path: ""
`)

	s, err := buildServices(cfgFile)
	require.NoError(t, err)
	defer s.Close()

	require.NotNil(t, s.Store)
	require.NotNil(t, s.Trust)
	require.NotNil(t, s.Secrets)
	require.NotNil(t, s.Metrics)
}

func TestBuildServices_InvalidConfigFileFails(t *testing.T) {
	_, err := buildServices("/nonexistent/path/config.yaml")
	require.Error(t, err)
}
