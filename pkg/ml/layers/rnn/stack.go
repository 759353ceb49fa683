// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rnn

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/ml/context"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
	"k8s.io/klog/v2"
)

// CellConfig describes one fully wrapped cell, see NewSingleCell.
type CellConfig struct {
	// CellType is the name of the base cell: "GRU", "LSTM" or anything else for a basic cell.
	CellType string

	// NumUnits of the cell. Required.
	NumUnits int

	// TrainPhase enables dropout, if KeepProb < 1.
	TrainPhase bool

	// KeepProb is the probability of keeping each value in the input and output dropout.
	KeepProb float64

	// Device where to place the cell, e.g. "/gpu:0". Empty for no placement.
	Device string

	// Residual adds a residual connection around the cell.
	Residual bool
}

// DefaultCellConfig returns a CellConfig for a basic cell in training phase with KeepProb 0.75.
// NumUnits still needs to be set.
func DefaultCellConfig() CellConfig {
	return CellConfig{
		TrainPhase: true,
		KeepProb:   0.75,
	}
}

// NewSingleCell creates the base cell described by cfg and wraps it, in order, with dropout,
// residual connection and device placement, each only if configured.
func NewSingleCell(ctx *context.Context, cfg CellConfig) Cell {
	cell := NewCell(ctx, cfg.CellType, cfg.NumUnits)
	cell = WithDropout(ctx, cell, cfg.TrainPhase, cfg.KeepProb)
	cell = WithResidual(cell, cfg.Residual)
	cell = WithDevice(cell, cfg.Device)
	klog.V(1).Infof("rnn: %s cell in %q: units=%d, trainPhase=%v, keepProb=%g, residual=%v, device=%q",
		ParseCellType(cfg.CellType), ctx.Scope(), cfg.NumUnits, cfg.TrainPhase, cfg.KeepProb, cfg.Residual, cfg.Device)
	return cell
}

// DeviceString returns the device for the layer: layers are spread round-robin over numGPUs
// starting at baseGPU, e.g. "/gpu:1". If numGPUs is 0, it returns "/cpu:0".
func DeviceString(layerIndex, baseGPU, numGPUs int) string {
	if numGPUs <= 0 {
		return "/cpu:0"
	}
	return fmt.Sprintf("/gpu:%d", (layerIndex+baseGPU)%numGPUs)
}

// StackConfig describes a stack of cells, see CellList and MultiLayerCell.
type StackConfig struct {
	// CellType of every layer: "GRU", "LSTM" or anything else for a basic cell.
	CellType string

	// NumUnits of every layer. Required.
	NumUnits int

	// NumLayers in the stack, at least 1.
	NumLayers int

	// NumResidualLayers is the number of top layers that get a residual connection.
	NumResidualLayers int

	// TrainPhase enables dropout, if KeepProb < 1.
	TrainPhase bool

	// NumGPUs to spread the layers over. If 0, all layers are placed on "/cpu:0".
	NumGPUs int

	// BaseGPU is the GPU of the first layer.
	BaseGPU int

	// KeepProb is the probability of keeping each value in the input and output dropout.
	KeepProb float64
}

// DefaultStackConfig returns a StackConfig with 1 layer, no residual layers, training phase,
// 1 GPU starting at 0 and KeepProb 0.8. NumUnits still needs to be set.
func DefaultStackConfig() StackConfig {
	return StackConfig{
		NumLayers:  1,
		TrainPhase: true,
		NumGPUs:    1,
		KeepProb:   0.8,
	}
}

// IsResidualLayer returns whether the layer gets a residual connection: only the top
// NumResidualLayers layers do.
func (cfg StackConfig) IsResidualLayer(layerIndex int) bool {
	return layerIndex >= cfg.NumLayers-cfg.NumResidualLayers
}

// CellConfig returns the configuration of the layer's cell.
func (cfg StackConfig) CellConfig(layerIndex int) CellConfig {
	return CellConfig{
		CellType:   cfg.CellType,
		NumUnits:   cfg.NumUnits,
		TrainPhase: cfg.TrainPhase,
		KeepProb:   cfg.KeepProb,
		Device:     DeviceString(layerIndex, cfg.BaseGPU, cfg.NumGPUs),
		Residual:   cfg.IsResidualLayer(layerIndex),
	}
}

// CellList creates one fully wrapped cell per layer, in order. Layer i has its variables
// in the scope "cell_<i>".
func CellList(ctx *context.Context, cfg StackConfig) []Cell {
	if cfg.NumLayers < 1 {
		Panicf("rnn.CellList requires NumLayers >= 1, got %d", cfg.NumLayers)
	}
	if cfg.NumResidualLayers < 0 || cfg.NumResidualLayers > cfg.NumLayers {
		Panicf("rnn.CellList requires 0 <= NumResidualLayers <= NumLayers, got %d residual layers for %d layers",
			cfg.NumResidualLayers, cfg.NumLayers)
	}
	cells := make([]Cell, cfg.NumLayers)
	for ii := range cells {
		cells[ii] = NewSingleCell(ctx.Inf("cell_%d", ii), cfg.CellConfig(ii))
	}
	return cells
}

// MultiLayerCell creates the stack of cells described by cfg. A single layer is returned
// as is, otherwise the layers are combined in a MultiCell.
func MultiLayerCell(ctx *context.Context, cfg StackConfig) Cell {
	cells := CellList(ctx, cfg)
	if len(cells) == 1 {
		return cells[0]
	}
	return NewMultiCell(cells...)
}
