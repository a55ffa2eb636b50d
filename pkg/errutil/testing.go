// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package errutil

import (
	"testing"

	"github.com/onsi/gomega/gcustom"
	"github.com/onsi/gomega/types"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode fails t unless err carries the oops code, at any depth.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, Code(err), "error: %v", err)
}

// AssertErrorContext asserts that err is an oops error whose context holds
// key with the given value.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	ctx := oopsErr.Context()
	require.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}

// HaveCode is the gomega counterpart of AssertErrorCode for ginkgo suites.
func HaveCode(code string) types.GomegaMatcher {
	return gcustom.MakeMatcher(func(err error) (bool, error) {
		return HasCode(err, code), nil
	}).WithTemplate("Expected:\n{{.FormattedActual}}\n{{.To}} carry oops code {{format .Data 1}}", code)
}
