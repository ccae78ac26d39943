// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVarFlags_ParsesKeyValuePairs(t *testing.T) {
	out, err := parseVarFlags([]string{"recipient=ops@example.com", "count=3"})
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", out["recipient"])
	assert.Equal(t, "3", out["count"])
}

func TestParseVarFlags_ValueMayContainEquals(t *testing.T) {
	out, err := parseVarFlags([]string{"query=a=b=c"})
	require.NoError(t, err)
	assert.Equal(t, "a=b=c", out["query"])
}

func TestParseVarFlags_RejectsMissingEquals(t *testing.T) {
	_, err := parseVarFlags([]string{"notakeyvalue"})
	assert.Error(t, err)
}

func TestParseVarFlags_RejectsEmptyKey(t *testing.T) {
	_, err := parseVarFlags([]string{"=value"})
	assert.Error(t, err)
}
