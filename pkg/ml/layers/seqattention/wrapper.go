// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seqattention

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/seq2seq/pkg/ml/layers/rnn"
)

// Cell wraps an rnn.Cell with attention over a Mechanism's memory.
//
// At each step the previous attention vector is concatenated to the input of the wrapped cell,
// the cell output queries the mechanism, and the attention vector is the projection of
// [cellOutput, context] with a dense layer without bias. The attention vector is both the
// output of the step and the last element of its state.
type Cell struct {
	ctx                *context.Context
	cell               rnn.Cell
	mechanism          Mechanism
	attentionLayerSize int
}

var _ rnn.Wrapper = (*Cell)(nil)

// Wrap cell with attention given by mechanism. The attention layer variables are created in
// ctx's current scope.
//
// If attentionLayerSize is 0 the context vector is used as attention, without projection.
func Wrap(ctx *context.Context, cell rnn.Cell, mechanism Mechanism, attentionLayerSize int) *Cell {
	if attentionLayerSize < 0 {
		Panicf("seqattention.Wrap requires attentionLayerSize >= 0, got %d", attentionLayerSize)
	}
	return &Cell{
		ctx:                ctx.Checked(false),
		cell:               cell,
		mechanism:          mechanism,
		attentionLayerSize: attentionLayerSize,
	}
}

// Mechanism used by the cell.
func (c *Cell) Mechanism() Mechanism { return c.mechanism }

// Unwrap implements rnn.Wrapper.
func (c *Cell) Unwrap() rnn.Cell { return c.cell }

// NumUnits implements rnn.Cell: it's the size of the attention vector.
func (c *Cell) NumUnits() int {
	if c.attentionLayerSize > 0 {
		return c.attentionLayerSize
	}
	return c.mechanism.Values().Shape().Dim(-1)
}

// StateSize implements rnn.Cell: the wrapped cell state plus the previous attention.
func (c *Cell) StateSize() int { return c.cell.StateSize() + 1 }

// ZeroState implements rnn.Cell.
func (c *Cell) ZeroState(g *Graph, dtype dtypes.DType, batchSize int) []*Node {
	state := c.cell.ZeroState(g, dtype, batchSize)
	return append(state, Zeros(g, shapes.Make(dtype, batchSize, c.NumUnits())))
}

// WithCellState returns the zero state of the attention cell with the wrapped cell state
// replaced by cellState.
func (c *Cell) WithCellState(cellState []*Node) []*Node {
	if len(cellState) != c.cell.StateSize() {
		Panicf("attention cell requires a cell state with %d tensors, got %d", c.cell.StateSize(), len(cellState))
	}
	ref := cellState[0]
	attention := Zeros(ref.Graph(), shapes.Make(ref.DType(), ref.Shape().Dim(0), c.NumUnits()))
	return append(slices.Clone(cellState), attention)
}

// Step implements rnn.Cell.
func (c *Cell) Step(x *Node, state []*Node) (*Node, []*Node) {
	if len(state) != c.StateSize() {
		Panicf("attention cell requires a state with %d tensors, got %d", c.StateSize(), len(state))
	}
	cellState, prevAttention := state[:len(state)-1], state[len(state)-1]
	cellOutput, newCellState := c.cell.Step(Concatenate([]*Node{x, prevAttention}, -1), cellState)
	_, contextVector := Attend(c.mechanism, cellOutput)
	attention := contextVector
	if c.attentionLayerSize > 0 {
		attention = layers.Dense(c.ctx.In("attention_layer"), Concatenate([]*Node{cellOutput, contextVector}, -1),
			false, c.attentionLayerSize)
	}
	return attention, append(slices.Clone(newCellState), attention)
}

// Attend returns the alignments for query, shaped [batchSize, maxTime], and the resulting context
// vector: the alignments weighted sum of the mechanism values, shaped [batchSize, depth].
func Attend(mechanism Mechanism, query *Node) (alignments, contextVector *Node) {
	alignments = mechanism.Alignments(query)
	contextVector = Einsum("bt,btd->bd", alignments, mechanism.Values())
	return
}

// TileBatch repeats each example of x, shaped [batchSize, ...], multiplier times in a row,
// returning a tensor shaped [batchSize*multiplier, ...].
func TileBatch(x *Node, multiplier int) *Node {
	if multiplier < 1 {
		Panicf("TileBatch requires multiplier >= 1, got %d", multiplier)
	}
	if multiplier == 1 {
		return x
	}
	dims := x.Shape().Dimensions
	tiledDims := slices.Insert(slices.Clone(dims), 1, multiplier)
	tiled := BroadcastToDims(InsertAxes(x, 1), tiledDims...)
	newDims := slices.Clone(dims)
	newDims[0] *= multiplier
	return Reshape(tiled, newDims...)
}
