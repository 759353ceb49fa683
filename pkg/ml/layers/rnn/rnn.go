// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package rnn provides recurrent cells (GRU, LSTM and a basic tanh cell), wrappers that
// decorate them with dropout, residual connections and device placement, and builders
// that stack them into multi-layer cells.
//
// A Cell computes one time step. Use Unroll (or UnrollBidirectional) to apply a cell over
// a whole sequence: since GoMLX graphs are static, each step is instantiated as its own
// graph nodes, so graph size is O(N) on the sequence length.
//
// Cells own their variables in the context they were created with: the first Step creates
// them, and subsequent steps (and other graphs built with the same context) reuse them.
//
// Typical usage:
//
//	cfg := rnn.DefaultStackConfig()
//	cfg.CellType = "lstm"
//	cfg.NumUnits = 128
//	cfg.NumLayers = 4
//	cfg.NumResidualLayers = 2
//	cell := rnn.MultiLayerCell(ctx.In("encoder"), cfg)
//	outputs, finalState := rnn.Unroll(cell, embeddedInputs, inputLengths, nil)
package rnn

import (
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// Cell is one recurrent unit, applied once per time step.
type Cell interface {
	// NumUnits is the size of the output of each step.
	NumUnits() int

	// StateSize is the number of state tensors carried from one step to the next
	// (e.g.: 1 for GRU, 2 for LSTM). Each state tensor is shaped [batchSize, units].
	StateSize() int

	// ZeroState returns the initial state filled with zeros.
	ZeroState(g *Graph, dtype dtypes.DType, batchSize int) []*Node

	// Step applies the cell to x, shaped [batchSize, features], and the previous state.
	// It returns the output, shaped [batchSize, NumUnits()], and the new state.
	//
	// This is a graph building function and panics on error.
	Step(x *Node, state []*Node) (output *Node, newState []*Node)
}

// Wrapper is a Cell that decorates another Cell.
type Wrapper interface {
	Cell

	// Unwrap returns the decorated cell.
	Unwrap() Cell
}

// Base returns the innermost cell, after removing all wrappers.
func Base(cell Cell) Cell {
	for {
		w, ok := cell.(Wrapper)
		if !ok {
			return cell
		}
		cell = w.Unwrap()
	}
}

// CellType enumerates the supported base cells.
type CellType int

const (
	// CellBasic is a vanilla recurrent cell: h' = tanh(W·[x, h] + b).
	CellBasic CellType = iota

	// CellGRU is a gated recurrent unit cell.
	CellGRU

	// CellLSTM is a long short-term memory cell.
	CellLSTM
)

// String implements fmt.Stringer.
func (t CellType) String() string {
	switch t {
	case CellGRU:
		return "GRU"
	case CellLSTM:
		return "LSTM"
	default:
		return "Basic"
	}
}

// ParseCellType converts a name to a CellType. Matching is case-insensitive.
//
// Unknown names are not an error: they map to CellBasic.
func ParseCellType(name string) CellType {
	switch strings.ToUpper(name) {
	case "GRU":
		return CellGRU
	case "LSTM":
		return CellLSTM
	default:
		return CellBasic
	}
}
