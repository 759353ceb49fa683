// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seqattention

import (
	"math"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/ctxtest"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/gomlx/seq2seq/pkg/ml/layers/rnn"
	"github.com/gomlx/seq2seq/pkg/support/configerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestParseType(t *testing.T) {
	for ii, name := range []string{"luong", "scaled_luong", "bahdanau", "normed_bahdanau"} {
		attentionType, err := ParseType(name)
		require.NoError(t, err)
		assert.Equal(t, Type(ii), attentionType)
		assert.Equal(t, name, attentionType.String())
	}
	_, err := ParseType("Luong")
	require.Error(t, err)
	assert.True(t, configerr.Is(err))
}

func TestNewUnknownOption(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, "TestNewUnknownOption")
	ctx := context.New()
	memory := Parameter(g, "memory", shapes.Make(dtypes.Float32, 2, 5, 3))
	mech, err := New(ctx, "dot", 4, memory, nil)
	require.Error(t, err)
	assert.Nil(t, mech)
	cfgErr := configerr.As(err)
	require.NotNil(t, cfgErr)
	assert.Equal(t, ParamAttention, cfgErr.Param)
	assert.Contains(t, err.Error(), "dot")
	assert.Zero(t, ctx.NumVariables())
}

// attend builds the memory [[[2,0], [0,1], [1,1]]], with the dense layers weights set to 0.5,
// attention_g set to 2 and attention_v set to [0.5, 1.5], and returns the alignments and context
// for the query [[1, 1]].
//
// The keys are [[1,1], [0.5,0.5], [1,1]], and the processed query of the additive mechanisms is [1,1].
func attend(ctx *context.Context, g *Graph, attentionOption string, withLengths bool) (alignments, contextVector *Node) {
	ctx.VariableWithValue("attention_g", float32(2))
	ctx.VariableWithValue("attention_v", []float32{0.5, 1.5})
	ctx = ctx.WithInitializer(constantInitializer(0.5))
	memory := Const(g, [][][]float32{{{2, 0}, {0, 1}, {1, 1}}})
	var lengths *Node
	if withLengths {
		lengths = Const(g, []int32{2})
	}
	mech, err := New(ctx, attentionOption, 2, memory, lengths)
	if err != nil {
		panic(err)
	}
	return Attend(mech, Const(g, [][]float32{{1, 1}}))
}

func TestLuong(t *testing.T) {
	// Scores [2, 1], the last position is masked.
	ctxtest.RunTestGraphFn(t, "luong", func(ctx *context.Context, g *Graph) (inputs, outputs []*Node) {
		alignments, contextVector := attend(ctx, g, "luong", true)
		return nil, []*Node{alignments, contextVector}
	}, []any{
		[][]float32{{0.7310585786300049, 0.2689414213699951, 0}},
		[][]float32{{1.4621171572600098, 0.2689414213699951}},
	}, xslices.Epsilon)

	// Scores scaled by attention_g: [4, 2].
	ctxtest.RunTestGraphFn(t, "scaled_luong", func(ctx *context.Context, g *Graph) (inputs, outputs []*Node) {
		alignments, contextVector := attend(ctx, g, "scaled_luong", true)
		return nil, []*Node{alignments, contextVector}
	}, []any{
		[][]float32{{0.8807970779778823, 0.11920292202211755, 0}},
		[][]float32{{1.7615941559557646, 0.11920292202211755}},
	}, xslices.Epsilon)

	ctxtest.RunTestGraphFn(t, "luong without lengths", func(ctx *context.Context, g *Graph) (inputs, outputs []*Node) {
		alignments, _ := attend(ctx, g, "luong", false)
		return nil, []*Node{alignments}
	}, []any{
		[][]float32{{0.4223187982515182, 0.1553624034969636, 0.4223187982515182}},
	}, xslices.Epsilon)
}

func TestBahdanau(t *testing.T) {
	// Scores are (v_0+v_1)*[tanh(2), tanh(1.5)].
	ctxtest.RunTestGraphFn(t, "bahdanau", func(ctx *context.Context, g *Graph) (inputs, outputs []*Node) {
		alignments, contextVector := attend(ctx, g, "bahdanau", true)
		return nil, []*Node{alignments, contextVector}
	}, []any{
		[][]float32{{0.5294056900952885, 0.4705943099047115, 0}},
		[][]float32{{1.058811380190577, 0.4705943099047115}},
	}, xslices.Epsilon)

	// v is replaced by 2*v/||v||, with ||v||=sqrt(2.5).
	ctxtest.RunTestGraphFn(t, "normed_bahdanau", func(ctx *context.Context, g *Graph) (inputs, outputs []*Node) {
		alignments, contextVector := attend(ctx, g, "normed_bahdanau", true)
		return nil, []*Node{alignments, contextVector}
	}, []any{
		[][]float32{{0.5371698560410241, 0.4628301439589759, 0}},
		[][]float32{{1.0743397120820481, 0.4628301439589759}},
	}, xslices.Epsilon)
}

func TestDefaultInitialization(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, option := range []string{"luong", "scaled_luong", "bahdanau", "normed_bahdanau"} {
		t.Run(option, func(t *testing.T) {
			ctx := context.New()
			ctx.SetRNGStateFromSeed(42)
			exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
				memory := IotaFull(g, shapes.Make(dtypes.Float32, 2, 4, 3))
				memory = Sin(memory)
				mech, err := New(ctx.In("attention"), option, 5, memory, Const(g, []int32{3, 4}))
				if err != nil {
					panic(err)
				}
				query := Cos(IotaFull(g, shapes.Make(dtypes.Float32, 2, 5)))
				return mech.Alignments(query)
			})
			var alignments [][]float32
			require.NotPanics(t, func() { alignments = exec.MustExec()[0].Value().([][]float32) })
			for example, row := range alignments {
				var sum float64
				for _, p := range row {
					require.False(t, math.IsNaN(float64(p)) || math.IsInf(float64(p), 0),
						"alignments of example %d: %v", example, row)
					sum += float64(p)
				}
				assert.InDelta(t, 1.0, sum, 1e-5)
			}
			assert.Zero(t, alignments[0][3], "masked position")
			// Zero valued attention_v would give uniform alignments.
			assert.NotEqual(t, alignments[1][0], alignments[1][1])
		})
	}
}

func TestVariables(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	wantVars := map[string][]string{
		"luong":           {"/attention/memory_layer/dense/weights"},
		"scaled_luong":    {"/attention/memory_layer/dense/weights", "/attention/attention_g"},
		"bahdanau":        {"/attention/memory_layer/dense/weights", "/attention/query_layer/dense/weights", "/attention/attention_v"},
		"normed_bahdanau": {"/attention/memory_layer/dense/weights", "/attention/query_layer/dense/weights", "/attention/attention_v", "/attention/attention_g", "/attention/attention_b"},
	}
	for option, want := range wantVars {
		t.Run(option, func(t *testing.T) {
			ctx := context.New()
			g := NewGraph(backend, option)
			require.NotPanics(t, func() {
				memory := Parameter(g, "memory", shapes.Make(dtypes.Float32, 2, 5, 3))
				mech, err := New(ctx.In("attention"), option, 4, memory, nil)
				require.NoError(t, err)
				query := Parameter(g, "query", shapes.Make(dtypes.Float32, 2, 4))
				alignments := mech.Alignments(query)
				assert.Equal(t, []int{2, 5}, alignments.Shape().Dimensions)
				// A second query must reuse the variables.
				_ = mech.Alignments(query)
			})
			var got []string
			ctx.EnumerateVariables(func(v *context.Variable) {
				got = append(got, v.Scope()+"/"+v.Name())
			})
			assert.ElementsMatch(t, want, got)
		})
	}
}

func TestLuongQueryWidth(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, "TestLuongQueryWidth")
	require.Panics(t, func() {
		memory := Parameter(g, "memory", shapes.Make(dtypes.Float32, 2, 5, 3))
		mech, _ := New(context.New(), "luong", 4, memory, nil)
		_ = mech.Alignments(Parameter(g, "query", shapes.Make(dtypes.Float32, 2, 3)))
	})
}

func TestWrap(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	g := NewGraph(backend, "TestWrap")
	var outputs *Node
	var finalState []*Node
	var cell *Cell
	require.NotPanics(t, func() {
		memory := Parameter(g, "memory", shapes.Make(dtypes.Float32, 2, 5, 6))
		lengths := Parameter(g, "lengths", shapes.Make(dtypes.Int32, 2))
		mech, err := New(ctx.In("attention"), "normed_bahdanau", 4, memory, lengths)
		require.NoError(t, err)
		cell = Wrap(ctx.In("attention"), rnn.NewCell(ctx.In("decoder"), "lstm", 4), mech, 3)
		inputs := Parameter(g, "inputs", shapes.Make(dtypes.Float32, 2, 7, 8))
		outputs, finalState = rnn.Unroll(cell, inputs, lengths, nil)
	})
	assert.Equal(t, 3, cell.NumUnits())
	assert.Equal(t, 3, cell.StateSize())
	assert.Equal(t, []int{2, 7, 3}, outputs.Shape().Dimensions)
	require.Len(t, finalState, 3)
	assert.Equal(t, []int{2, 3}, finalState[2].Shape().Dimensions)
	assert.IsType(t, &rnn.LSTMCell{}, rnn.Base(cell))

	// The wrapped cell sees the input concatenated with the previous attention: 8 + 3 features,
	// plus its own 4 hidden units.
	kernel := ctx.GetVariableByScopeAndName("/decoder", "kernel")
	require.NotNil(t, kernel)
	assert.Equal(t, []int{8 + 3 + 4, 4, 4}, kernel.Shape().Dimensions)

	// Attention layer projects [cellOutput, context] without bias.
	weights := ctx.GetVariableByScopeAndName("/attention/attention_layer/dense", "weights")
	require.NotNil(t, weights)
	assert.Equal(t, []int{4 + 6, 3}, weights.Shape().Dimensions)
	assert.Nil(t, ctx.GetVariableByScopeAndName("/attention/attention_layer/dense", "biases"))
}

func TestTileBatch(t *testing.T) {
	graphtest.RunTestGraphFn(t, "TileBatch", func(g *Graph) (inputs, outputs []*Node) {
		x := Const(g, [][]float32{{1, 2}, {3, 4}})
		return []*Node{x}, []*Node{TileBatch(x, 2), TileBatch(x, 1)}
	}, []any{
		[][]float32{{1, 2}, {1, 2}, {3, 4}, {3, 4}},
		[][]float32{{1, 2}, {3, 4}},
	}, -1)
}
