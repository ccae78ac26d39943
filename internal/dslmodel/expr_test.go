// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package dslmodel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
)

type stubResolver struct{ values map[string]string }

func (s stubResolver) Resolve(ref string) (string, error) { return s.values[ref], nil }

func TestSubstitute_PlainVariable(t *testing.T) {
	ctx := dslmodel.EvalContext{Variables: map[string]interface{}{"name": "Ada"}}
	out, err := dslmodel.Substitute("hello {{name}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello Ada", out)
}

func TestSubstitute_WholeValuePreservesType(t *testing.T) {
	ctx := dslmodel.EvalContext{Variables: map[string]interface{}{"roots": []interface{}{"a", "b"}}}
	out, err := dslmodel.Substitute("{{roots}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, out)
}

func TestSubstitute_StepOutputReference(t *testing.T) {
	ctx := dslmodel.EvalContext{
		StepOutputs: []map[string]interface{}{
			{"path": "/tmp/report.pdf"},
		},
	}
	out, err := dslmodel.Substitute("{{steps[0].path}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/report.pdf", out)
}

func TestSubstitute_SecretReferenceResolves(t *testing.T) {
	ctx := dslmodel.EvalContext{
		Secrets: stubResolver{values: map[string]string{"smtp/password": "s3cr3t"}},
	}
	out, err := dslmodel.Substitute("{{secrets://smtp/password}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", out)
}

func TestSubstitute_NestedMapAndSlice(t *testing.T) {
	ctx := dslmodel.EvalContext{Variables: map[string]interface{}{"to": "ops@example.com"}}
	params := map[string]interface{}{
		"recipients": []interface{}{"{{to}}", "static@example.com"},
	}
	out, err := dslmodel.Substitute(params, ctx)
	require.NoError(t, err)
	m := out.(map[string]interface{})
	assert.Equal(t, []interface{}{"ops@example.com", "static@example.com"}, m["recipients"])
}

func TestSubstitute_UndefinedVariable(t *testing.T) {
	_, err := dslmodel.Substitute("{{missing}}", dslmodel.EvalContext{})
	assert.Error(t, err)
	var undef *dslmodel.ErrUndefinedVariable
	assert.ErrorAs(t, err, &undef)
}

func TestReferences_CollectsAllForms(t *testing.T) {
	refs := dslmodel.References(map[string]interface{}{
		"a": "{{x}}",
		"b": []interface{}{"{{steps[0].y}}", "{{secrets://svc/key}}"},
	})
	assert.ElementsMatch(t, []string{"x", "steps[0].y", "secrets://svc/key"}, refs)
}
