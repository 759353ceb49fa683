// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rnn

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
)

// NewCell creates a base cell from its name: "GRU", "LSTM" (case-insensitive), and anything
// else falls back to a basic tanh cell.
//
// Variables are created in ctx's current scope.
func NewCell(ctx *context.Context, cellType string, numUnits int) Cell {
	return NewCellWithType(ctx, ParseCellType(cellType), numUnits)
}

// NewCellWithType creates a base cell of the given type.
func NewCellWithType(ctx *context.Context, cellType CellType, numUnits int) Cell {
	if numUnits <= 0 {
		Panicf("rnn cells require numUnits > 0, got %d", numUnits)
	}
	switch cellType {
	case CellGRU:
		return NewGRUCell(ctx, numUnits)
	case CellLSTM:
		return NewLSTMCell(ctx, numUnits)
	default:
		return NewBasicCell(ctx, numUnits)
	}
}

// stepContext returns the context used by cells to create and then reuse their variables
// at every step.
func stepContext(ctx *context.Context) *context.Context {
	return ctx.Checked(false)
}

// zeroState returns n zero tensors shaped [batchSize, numUnits].
func zeroState(g *Graph, dtype dtypes.DType, batchSize, numUnits, n int) []*Node {
	state := make([]*Node, n)
	for ii := range state {
		state[ii] = Zeros(g, shapes.Make(dtype, batchSize, numUnits))
	}
	return state
}

// assertState checks the state given to a Step.
func assertState(cell Cell, state []*Node) {
	if len(state) != cell.StateSize() {
		Panicf("%T.Step() requires a state with %d tensors, got %d", cell, cell.StateSize(), len(state))
	}
}

// BasicCell is the vanilla recurrent cell: h' = tanh(W·[x, h] + b).
type BasicCell struct {
	ctx      *context.Context
	numUnits int
}

var _ Cell = (*BasicCell)(nil)

// NewBasicCell creates a basic tanh recurrent cell.
func NewBasicCell(ctx *context.Context, numUnits int) *BasicCell {
	return &BasicCell{ctx: stepContext(ctx), numUnits: numUnits}
}

// NumUnits implements Cell.
func (c *BasicCell) NumUnits() int { return c.numUnits }

// StateSize implements Cell.
func (c *BasicCell) StateSize() int { return 1 }

// ZeroState implements Cell.
func (c *BasicCell) ZeroState(g *Graph, dtype dtypes.DType, batchSize int) []*Node {
	return zeroState(g, dtype, batchSize, c.numUnits, 1)
}

// Step implements Cell.
func (c *BasicCell) Step(x *Node, state []*Node) (*Node, []*Node) {
	assertState(c, state)
	g := x.Graph()
	dtype := x.DType()
	xh := Concatenate([]*Node{x, state[0]}, -1)
	inputSize := xh.Shape().Dim(-1)
	kernel := c.ctx.VariableWithShape("kernel", shapes.Make(dtype, inputSize, c.numUnits)).ValueGraph(g)
	bias := c.ctx.WithInitializer(initializers.Zero).
		VariableWithShape("bias", shapes.Make(dtype, c.numUnits)).ValueGraph(g)
	h := Tanh(Add(Einsum("bi,ih->bh", xh, kernel), ExpandLeftToRank(bias, 2)))
	return h, []*Node{h}
}

// GRUCell is a gated recurrent unit cell [1].
//
// Its update and reset gates have their biases initialized to 1, so the cell starts
// mostly carrying over the previous state.
//
// [1] https://arxiv.org/abs/1406.1078, Cho et al., 2014
type GRUCell struct {
	ctx      *context.Context
	numUnits int
}

var _ Cell = (*GRUCell)(nil)

// NewGRUCell creates a GRU cell.
func NewGRUCell(ctx *context.Context, numUnits int) *GRUCell {
	return &GRUCell{ctx: stepContext(ctx), numUnits: numUnits}
}

// NumUnits implements Cell.
func (c *GRUCell) NumUnits() int { return c.numUnits }

// StateSize implements Cell.
func (c *GRUCell) StateSize() int { return 1 }

// ZeroState implements Cell.
func (c *GRUCell) ZeroState(g *Graph, dtype dtypes.DType, batchSize int) []*Node {
	return zeroState(g, dtype, batchSize, c.numUnits, 1)
}

// Step implements Cell.
func (c *GRUCell) Step(x *Node, state []*Node) (*Node, []*Node) {
	assertState(c, state)
	g := x.Graph()
	dtype := x.DType()
	h := state[0]
	inputSize := x.Shape().Dim(-1) + c.numUnits

	// Reset (r) and update (u) gates.
	gatesCtx := c.ctx.In("gates")
	gatesKernel := gatesCtx.VariableWithShape("kernel", shapes.Make(dtype, inputSize, 2*c.numUnits)).ValueGraph(g)
	gatesBias := gatesCtx.WithInitializer(initializers.One).
		VariableWithShape("bias", shapes.Make(dtype, 2*c.numUnits)).ValueGraph(g)
	gates := Einsum("bi,ih->bh", Concatenate([]*Node{x, h}, -1), gatesKernel)
	gates = Sigmoid(Add(gates, ExpandLeftToRank(gatesBias, 2)))
	parts := Split(gates, -1, 2)
	r, u := parts[0], parts[1]

	// Candidate state, computed over the reset previous state.
	candidateCtx := c.ctx.In("candidate")
	candidateKernel := candidateCtx.VariableWithShape("kernel", shapes.Make(dtype, inputSize, c.numUnits)).ValueGraph(g)
	candidateBias := candidateCtx.WithInitializer(initializers.Zero).
		VariableWithShape("bias", shapes.Make(dtype, c.numUnits)).ValueGraph(g)
	candidate := Einsum("bi,ih->bh", Concatenate([]*Node{x, Mul(r, h)}, -1), candidateKernel)
	candidate = Tanh(Add(candidate, ExpandLeftToRank(candidateBias, 2)))

	newH := Add(Mul(u, h), Mul(OneMinus(u), candidate))
	return newH, []*Node{newH}
}
