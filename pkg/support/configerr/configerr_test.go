// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package configerr

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewf(t *testing.T) {
	err := Newf("attention", "unknown attention option %q", "dot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"dot"`)
	assert.Contains(t, err.Error(), "attention")

	cfgErr := As(err)
	require.NotNil(t, cfgErr)
	assert.Equal(t, "attention", cfgErr.Param)
	assert.Equal(t, []any{"dot"}, cfgErr.Values)

	// Still found after wrapping.
	wrapped := errors.WithMessage(err, "building decoder")
	assert.True(t, Is(wrapped))
	assert.False(t, Is(errors.New("something else")))
	assert.Nil(t, As(nil))
}
