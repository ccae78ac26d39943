// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode_NilErrorIsSuccess(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
}

func TestExitCode_ClassifiedErrorReturnsItsCode(t *testing.T) {
	err := fail(ExitPolicyBlocked, fmt.Errorf("blocked"))
	assert.Equal(t, ExitPolicyBlocked, ExitCode(err))
}

func TestExitCode_ClassifiedErrorSurvivesWrapping(t *testing.T) {
	inner := fail(ExitValidationFailed, fmt.Errorf("bad plan"))
	wrapped := fmt.Errorf("validate: %w", inner)
	assert.Equal(t, ExitValidationFailed, ExitCode(wrapped))
}

func TestExitCode_UnclassifiedErrorDefaultsToExecutionFailed(t *testing.T) {
	assert.Equal(t, ExitExecutionFailed, ExitCode(fmt.Errorf("boom")))
}
