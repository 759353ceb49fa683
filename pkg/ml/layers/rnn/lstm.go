// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rnn

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
)

// DefaultForgetBias is added to the forget gate pre-activation of LSTMCell, so
// the cell starts by remembering its cell state.
const DefaultForgetBias = 1.0

// LSTMCell is a "Long Short-Term Memory" cell [1], without peepholes.
//
// Its state holds two tensors: the cell state c and the hidden state h (in this order),
// both shaped [batchSize, numUnits]. The output of a step is the new hidden state.
//
// [1] https://www.bioinf.jku.at/publications/older/2604.pdf, Hochreiter & Schmidhuber, 1997
type LSTMCell struct {
	ctx        *context.Context
	numUnits   int
	forgetBias float64
}

var _ Cell = (*LSTMCell)(nil)

// NewLSTMCell creates an LSTM cell with DefaultForgetBias.
func NewLSTMCell(ctx *context.Context, numUnits int) *LSTMCell {
	return &LSTMCell{ctx: stepContext(ctx), numUnits: numUnits, forgetBias: DefaultForgetBias}
}

// WithForgetBias configures the value added to the forget gate. It returns itself.
func (c *LSTMCell) WithForgetBias(forgetBias float64) *LSTMCell {
	c.forgetBias = forgetBias
	return c
}

// NumUnits implements Cell.
func (c *LSTMCell) NumUnits() int { return c.numUnits }

// StateSize implements Cell: cell state and hidden state.
func (c *LSTMCell) StateSize() int { return 2 }

// ZeroState implements Cell.
func (c *LSTMCell) ZeroState(g *Graph, dtype dtypes.DType, batchSize int) []*Node {
	return zeroState(g, dtype, batchSize, c.numUnits, 2)
}

// Step implements Cell.
func (c *LSTMCell) Step(x *Node, state []*Node) (*Node, []*Node) {
	assertState(c, state)
	g := x.Graph()
	dtype := x.DType()
	prevCell, prevHidden := state[0], state[1]
	numUnits := c.numUnits

	// kernel: [inputSize, 4, numUnits], bias: [4, numUnits].
	xh := Concatenate([]*Node{x, prevHidden}, -1)
	inputSize := xh.Shape().Dim(-1)
	kernel := c.ctx.VariableWithShape("kernel", shapes.Make(dtype, inputSize, 4, numUnits)).ValueGraph(g)
	bias := c.ctx.WithInitializer(initializers.Zero).
		VariableWithShape("bias", shapes.Make(dtype, 4, numUnits)).ValueGraph(g)

	// b->batchSize, i->inputSize, n=4, h->numUnits.
	proj := Einsum("bi,inh->nbh", xh, kernel)
	proj = Add(proj, ExpandAxes(bias, 1))

	// elemIdx: 0 input; 1 output; 2 forget; 3 cell candidate.
	gate := func(elemIdx int) *Node {
		return Squeeze(Slice(proj, AxisElem(elemIdx)), 0)
	}
	iT := Sigmoid(gate(0))
	oT := Sigmoid(gate(1))
	fT := Sigmoid(AddScalar(gate(2), c.forgetBias))
	cT := Tanh(gate(3))

	cellState := Add(
		Mul(prevCell, fT),
		Mul(cT, iT))
	hiddenState := Mul(oT, Tanh(cellState))
	return hiddenState, []*Node{cellState, hiddenState}
}
