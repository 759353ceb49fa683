// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReverseDatasetBatch(t *testing.T) {
	ds, err := NewReverseDataset("test", 16, 2, 6, 10, 2, 7)
	require.NoError(t, err)
	source, lengths, target := ds.Batch(3)
	require.Len(t, source, 16)
	require.Len(t, lengths, 16)
	require.Len(t, target, 16)
	for ii := range source {
		length := int(lengths[ii])
		assert.GreaterOrEqual(t, length, 2)
		assert.LessOrEqual(t, length, 6)
		require.Len(t, source[ii], 6)
		require.Len(t, target[ii], 6)
		for jj := range 6 {
			if jj < length {
				assert.GreaterOrEqual(t, source[ii][jj], int32(firstWordToken))
				assert.Less(t, source[ii][jj], int32(10))
				assert.Equal(t, source[ii][length-1-jj], target[ii][jj])
			} else {
				assert.Equal(t, int32(2), source[ii][jj])
				assert.Equal(t, int32(2), target[ii][jj])
			}
		}
	}

	// Same index, same batch.
	source2, lengths2, target2 := ds.Batch(3)
	assert.Equal(t, source, source2)
	assert.Equal(t, lengths, lengths2)
	assert.Equal(t, target, target2)
}

func TestReverseDatasetYield(t *testing.T) {
	ds := must.M1(NewReverseDataset("eval", 4, 3, 5, 20, 2, 1)).Epoch(2)
	assert.Equal(t, "eval", ds.Name())
	for range 2 {
		spec, inputs, labels, err := ds.Yield()
		require.NoError(t, err)
		assert.Same(t, ds, spec)
		require.Len(t, inputs, 4)
		require.Len(t, labels, 1)
		assert.Equal(t, dtypes.Int32, inputs[0].DType())
		assert.Equal(t, []int{4, 5}, inputs[0].Shape().Dimensions)
		assert.Equal(t, []int{4}, inputs[1].Shape().Dimensions)
		assert.Equal(t, []int{4, 5}, inputs[2].Shape().Dimensions)
		assert.Equal(t, inputs[1].Value(), inputs[3].Value())
		assert.Same(t, inputs[2], labels[0])
	}
	_, _, _, err := ds.Yield()
	require.ErrorIs(t, err, io.EOF)

	ds.Reset()
	_, _, _, err = ds.Yield()
	require.NoError(t, err)
}

func TestNewReverseDatasetErrors(t *testing.T) {
	for _, tc := range []struct {
		name                                       string
		batchSize, minLength, maxLength, vocabSize int
	}{
		{"empty batch", 0, 2, 6, 10},
		{"max shorter than min", 4, 6, 2, 10},
		{"empty sequences", 4, 0, 6, 10},
		{"no words in vocabulary", 4, 2, 6, firstWordToken},
	} {
		ds, err := NewReverseDataset(tc.name, tc.batchSize, tc.minLength, tc.maxLength, tc.vocabSize, 2, 1)
		require.Errorf(t, err, "%s should fail", tc.name)
		assert.Nil(t, ds)
		assert.Contains(t, err.Error(), tc.name)
	}

	// Single length and a single word.
	ds, err := NewReverseDataset("single", 2, 3, 3, firstWordToken+1, 2, 1)
	require.NoError(t, err)
	source, lengths, _ := ds.Batch(0)
	assert.Equal(t, []int32{3, 3}, lengths)
	assert.Equal(t, []int32{firstWordToken, firstWordToken, firstWordToken}, source[0])
}

func TestRenderTable(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)
	rendered := renderTable([]string{"Source", "Prediction"}, [][]string{{"3 4", "4 3"}, {"5", "6"}},
		func(row int) bool { return row == 1 }, 1)
	for _, text := range []string{"Source", "Prediction", "3 4", "4 3", "5", "6"} {
		assert.Contains(t, rendered, text)
	}
}

func TestTrimAtEnd(t *testing.T) {
	assert.Equal(t, []int32{5, 4}, trimAtEnd([]int32{5, 4, 2, 2}, 2))
	assert.Equal(t, []int32{5, 4, 3}, trimAtEnd([]int32{5, 4, 3}, 2))
	assert.Empty(t, trimAtEnd([]int32{2, 2}, 2))
	assert.Equal(t, "5 4 3", formatTokens([]int32{5, 4, 3}))
}
