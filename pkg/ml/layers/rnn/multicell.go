// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rnn

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
)

// MultiCell chains cells: the output of each layer is the input of the next.
//
// Its state is the concatenation of the states of each layer, in order.
type MultiCell struct {
	cells []Cell
}

var _ Cell = (*MultiCell)(nil)

// NewMultiCell creates a MultiCell with the given layers. At least one is required.
func NewMultiCell(cells ...Cell) *MultiCell {
	if len(cells) == 0 {
		Panicf("rnn.NewMultiCell requires at least one cell")
	}
	return &MultiCell{cells: cells}
}

// Cells returns the layers.
func (c *MultiCell) Cells() []Cell { return c.cells }

// NumUnits implements Cell: it's the NumUnits of the last layer.
func (c *MultiCell) NumUnits() int { return c.cells[len(c.cells)-1].NumUnits() }

// StateSize implements Cell.
func (c *MultiCell) StateSize() int {
	var size int
	for _, cell := range c.cells {
		size += cell.StateSize()
	}
	return size
}

// ZeroState implements Cell.
func (c *MultiCell) ZeroState(g *Graph, dtype dtypes.DType, batchSize int) []*Node {
	state := make([]*Node, 0, c.StateSize())
	for _, cell := range c.cells {
		state = append(state, cell.ZeroState(g, dtype, batchSize)...)
	}
	return state
}

// LayerState returns the part of state that belongs to layer layerIndex.
func (c *MultiCell) LayerState(state []*Node, layerIndex int) []*Node {
	var start int
	for _, cell := range c.cells[:layerIndex] {
		start += cell.StateSize()
	}
	return state[start : start+c.cells[layerIndex].StateSize()]
}

// Step implements Cell.
func (c *MultiCell) Step(x *Node, state []*Node) (*Node, []*Node) {
	if len(state) != c.StateSize() {
		Panicf("MultiCell.Step() requires a state with %d tensors, got %d", c.StateSize(), len(state))
	}
	newState := make([]*Node, 0, len(state))
	for ii, cell := range c.cells {
		var layerState []*Node
		x, layerState = cell.Step(x, c.LayerState(state, ii))
		newState = append(newState, layerState...)
	}
	return x, newState
}
