// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package embeddings

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/seq2seq/pkg/support/configerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestShared(t *testing.T) {
	ctx := context.New()
	encoder, decoder, err := CreateForEncoderAndDecoder(ctx, Spec{
		Share:        true,
		SrcVocabSize: 100, TgtVocabSize: 100,
		SrcEmbedSize: 16, TgtEmbedSize: 32,
	})
	require.NoError(t, err)
	assert.Same(t, encoder, decoder)
	assert.Equal(t, "/embeddings", encoder.Scope())
	assert.Equal(t, SharedName, encoder.Name())
	assert.Equal(t, dtypes.Float32, encoder.Shape().DType)
	assert.Equal(t, []int{100, 16}, encoder.Shape().Dimensions)
	assert.Equal(t, 1, ctx.NumVariables())
}

func TestSharedVocabMismatch(t *testing.T) {
	ctx := context.New()
	encoder, decoder, err := CreateForEncoderAndDecoder(ctx, Spec{
		Share:        true,
		SrcVocabSize: 100, TgtVocabSize: 120,
		SrcEmbedSize: 16, TgtEmbedSize: 16,
	})
	require.Error(t, err)
	assert.Nil(t, encoder)
	assert.Nil(t, decoder)
	cfgErr := configerr.As(err)
	require.NotNil(t, cfgErr)
	assert.Equal(t, ParamShareVocab, cfgErr.Param)
	assert.Equal(t, []any{100, 120}, cfgErr.Values)
	assert.Contains(t, err.Error(), "100 vs. 120")
	assert.Zero(t, ctx.NumVariables())
}

func TestSeparate(t *testing.T) {
	ctx := context.New()
	encoder, decoder, err := CreateForEncoderAndDecoder(ctx.In("model"), Spec{
		SrcVocabSize: 100, TgtVocabSize: 120,
		SrcEmbedSize: 16, TgtEmbedSize: 8,
		DType: dtypes.Float64,
		Scope: "emb",
	})
	require.NoError(t, err)
	assert.NotSame(t, encoder, decoder)
	assert.Equal(t, "/model/emb/encoder", encoder.Scope())
	assert.Equal(t, EncoderName, encoder.Name())
	assert.Equal(t, []int{100, 16}, encoder.Shape().Dimensions)
	assert.Equal(t, "/model/emb/decoder", decoder.Scope())
	assert.Equal(t, DecoderName, decoder.Name())
	assert.Equal(t, []int{120, 8}, decoder.Shape().Dimensions)
	assert.Equal(t, dtypes.Float64, decoder.Shape().DType)

	// Creating again reuses the same variables.
	encoder2, decoder2, err := CreateForEncoderAndDecoder(ctx.In("model"), Spec{
		SrcVocabSize: 100, TgtVocabSize: 120,
		SrcEmbedSize: 16, TgtEmbedSize: 8,
		DType: dtypes.Float64,
		Scope: "emb",
	})
	require.NoError(t, err)
	assert.Same(t, encoder, encoder2)
	assert.Same(t, decoder, decoder2)
}

func TestInvalidSizes(t *testing.T) {
	_, _, err := CreateForEncoderAndDecoder(context.New(), Spec{SrcVocabSize: 10, SrcEmbedSize: 4})
	require.Error(t, err)
	assert.True(t, configerr.Is(err))
}

func TestInitializationAndLookup(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, tokens *Node) []*Node {
		encoder, decoder, err := CreateForEncoderAndDecoder(ctx, Spec{
			SrcVocabSize: 50, TgtVocabSize: 60,
			SrcEmbedSize: 4, TgtEmbedSize: 6,
		})
		if err != nil {
			panic(err)
		}
		g := tokens.Graph()
		encTable := encoder.ValueGraph(g)
		decTable := decoder.ValueGraph(g)
		return []*Node{
			Lookup(encTable, tokens),
			ReduceAllMax(Abs(encTable)),
			ReduceAllMax(Abs(decTable)),
			Gather(encTable, Const(g, [][]int32{{3}})),
		}
	})
	var outputs []*tensors.Tensor
	require.NotPanics(t, func() { outputs = exec.MustExec([][]int32{{1, 3, 0}, {2, 2, 49}}) })
	assert.Equal(t, []int{2, 3, 4}, outputs[0].Shape().Dimensions)
	assert.LessOrEqual(t, outputs[1].Value().(float32), float32(1))
	assert.LessOrEqual(t, outputs[2].Value().(float32), float32(1))

	looked := outputs[0].Value().([][][]float32)
	row3 := outputs[3].Value().([][]float32)[0]
	assert.Equal(t, row3, looked[0][1])
	assert.Equal(t, looked[1][0], looked[1][1])
}
