// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rnn

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
)

// DropoutCell applies dropout to the inputs and outputs of the wrapped cell.
// Create it with WithDropout.
type DropoutCell struct {
	cell     Cell
	ctx      *context.Context
	keepProb float64
}

var _ Wrapper = (*DropoutCell)(nil)

// WithDropout wraps cell with input and output dropout, each with rate 1-keepProb,
// if trainPhase is set and keepProb < 1. Otherwise, cell is returned unchanged.
//
// The dropout itself follows layers.Dropout: it is only applied in graphs where
// ctx.IsTraining(g) is true, and values kept are scaled by 1/keepProb.
func WithDropout(ctx *context.Context, cell Cell, trainPhase bool, keepProb float64) Cell {
	if !trainPhase || keepProb >= 1.0 {
		return cell
	}
	if keepProb <= 0 {
		Panicf("rnn.WithDropout requires keepProb in (0, 1], got %g", keepProb)
	}
	return &DropoutCell{cell: cell, ctx: stepContext(ctx), keepProb: keepProb}
}

// KeepProb returns the probability of keeping each value.
func (c *DropoutCell) KeepProb() float64 { return c.keepProb }

// Unwrap implements Wrapper.
func (c *DropoutCell) Unwrap() Cell { return c.cell }

// NumUnits implements Cell.
func (c *DropoutCell) NumUnits() int { return c.cell.NumUnits() }

// StateSize implements Cell.
func (c *DropoutCell) StateSize() int { return c.cell.StateSize() }

// ZeroState implements Cell.
func (c *DropoutCell) ZeroState(g *Graph, dtype dtypes.DType, batchSize int) []*Node {
	return c.cell.ZeroState(g, dtype, batchSize)
}

// Step implements Cell.
func (c *DropoutCell) Step(x *Node, state []*Node) (*Node, []*Node) {
	g := x.Graph()
	rate := Scalar(g, x.DType(), 1.0-c.keepProb)
	x = layers.Dropout(c.ctx.In("input_dropout"), x, rate)
	output, newState := c.cell.Step(x, state)
	output = layers.Dropout(c.ctx.In("output_dropout"), output, rate)
	return output, newState
}

// ResidualCell adds the input of the wrapped cell to its output.
// Create it with WithResidual.
type ResidualCell struct {
	cell Cell
}

var _ Wrapper = (*ResidualCell)(nil)

// WithResidual wraps cell with a residual (skip) connection if enabled, otherwise cell is
// returned unchanged.
//
// The input features dimension must match the cell's NumUnits.
func WithResidual(cell Cell, enabled bool) Cell {
	if !enabled {
		return cell
	}
	return &ResidualCell{cell: cell}
}

// Unwrap implements Wrapper.
func (c *ResidualCell) Unwrap() Cell { return c.cell }

// NumUnits implements Cell.
func (c *ResidualCell) NumUnits() int { return c.cell.NumUnits() }

// StateSize implements Cell.
func (c *ResidualCell) StateSize() int { return c.cell.StateSize() }

// ZeroState implements Cell.
func (c *ResidualCell) ZeroState(g *Graph, dtype dtypes.DType, batchSize int) []*Node {
	return c.cell.ZeroState(g, dtype, batchSize)
}

// Step implements Cell.
func (c *ResidualCell) Step(x *Node, state []*Node) (*Node, []*Node) {
	output, newState := c.cell.Step(x, state)
	if !x.Shape().Equal(output.Shape()) {
		Panicf("residual connection requires the cell input and output to have the same shape: input=%s, output=%s",
			x.Shape(), output.Shape())
	}
	return Add(x, output), newState
}

// DeviceCell pins the wrapped cell to a device. Create it with WithDevice.
//
// The device is metadata for whoever executes the graph: GoMLX compiles a graph for
// the device(s) chosen at execution time, so it is not enforced while building.
type DeviceCell struct {
	cell   Cell
	device string
}

var _ Wrapper = (*DeviceCell)(nil)

// WithDevice wraps cell with a device placement, like "/gpu:1". If device is empty
// cell is returned unchanged.
func WithDevice(cell Cell, device string) Cell {
	if device == "" {
		return cell
	}
	return &DeviceCell{cell: cell, device: device}
}

// Device where the cell should run.
func (c *DeviceCell) Device() string { return c.device }

// Unwrap implements Wrapper.
func (c *DeviceCell) Unwrap() Cell { return c.cell }

// NumUnits implements Cell.
func (c *DeviceCell) NumUnits() int { return c.cell.NumUnits() }

// StateSize implements Cell.
func (c *DeviceCell) StateSize() int { return c.cell.StateSize() }

// ZeroState implements Cell.
func (c *DeviceCell) ZeroState(g *Graph, dtype dtypes.DType, batchSize int) []*Node {
	return c.cell.ZeroState(g, dtype, batchSize)
}

// Step implements Cell.
func (c *DeviceCell) Step(x *Node, state []*Node) (*Node, []*Node) {
	return c.cell.Step(x, state)
}

// DeviceOf returns the device cell is pinned to, searching through its wrappers.
// It returns "" if there is no device placement.
func DeviceOf(cell Cell) string {
	for {
		switch c := cell.(type) {
		case *DeviceCell:
			return c.device
		case Wrapper:
			cell = c.Unwrap()
		default:
			return ""
		}
	}
}
