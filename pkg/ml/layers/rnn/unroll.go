// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rnn

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
)

// Unroll applies cell over each step of inputs, shaped [batchSize, maxTime, features].
//
// lengths, shaped [batchSize] with an integer dtype, holds the number of valid steps of each
// example. Outputs past an example's length are set to zero and its state is held, so the
// final state is the one at the example's last valid step. If lengths is nil, all steps
// are valid.
//
// initialState can be nil, in which case cell.ZeroState is used.
//
// It returns the outputs, shaped [batchSize, maxTime, cell.NumUnits()], and the final state.
func Unroll(cell Cell, inputs, lengths *Node, initialState []*Node) (outputs *Node, finalState []*Node) {
	return unroll(cell, inputs, lengths, initialState, false)
}

// UnrollBidirectional runs the forward cell from the start and the backward cell from the
// end of each sequence.
//
// Since the padding is at the end, the backward cell starts at each example's last valid
// step: its state is held at zero (or at initialState) while over the padding.
//
// It returns the outputs of both directions, each shaped [batchSize, maxTime, units], with
// the backward outputs aligned to the input steps, and the final state of each direction.
func UnrollBidirectional(forward, backward Cell, inputs, lengths *Node, initialForwardState, initialBackwardState []*Node) (
	forwardOutputs, backwardOutputs *Node, forwardState, backwardState []*Node) {
	forwardOutputs, forwardState = unroll(forward, inputs, lengths, initialForwardState, false)
	backwardOutputs, backwardState = unroll(backward, inputs, lengths, initialBackwardState, true)
	return
}

func unroll(cell Cell, inputs, lengths *Node, initialState []*Node, reverse bool) (*Node, []*Node) {
	if inputs.Rank() != 3 {
		Panicf("rnn.Unroll requires inputs shaped [batchSize, maxTime, features], got %s", inputs.Shape())
	}
	g := inputs.Graph()
	dtype := inputs.DType()
	batchSize, maxTime := inputs.Shape().Dim(0), inputs.Shape().Dim(1)
	if lengths != nil && (lengths.Rank() != 1 || lengths.Shape().Dim(0) != batchSize) {
		Panicf("rnn.Unroll requires lengths shaped [%d], got %s", batchSize, lengths.Shape())
	}
	state := initialState
	if state == nil {
		state = cell.ZeroState(g, dtype, batchSize)
	} else if len(state) != cell.StateSize() {
		Panicf("rnn.Unroll: cell requires a state with %d tensors, got %d", cell.StateSize(), len(state))
	}

	outputs := make([]*Node, maxTime)
	for ii := range maxTime {
		t := ii
		if reverse {
			t = maxTime - 1 - ii
		}
		x := Squeeze(SliceAxis(inputs, 1, AxisElem(t)), 1)
		output, newState := cell.Step(x, state)
		if lengths != nil {
			step := BroadcastToDims(Scalar(g, lengths.DType(), t), batchSize)
			valid := LessThan(step, lengths) // [batchSize]
			output = Where(valid, output, ZerosLike(output))
			for jj := range newState {
				newState[jj] = Where(valid, newState[jj], state[jj])
			}
		}
		outputs[t] = output
		state = newState
	}
	return Stack(outputs, 1), state
}
