// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizer selects the optimizer used to train sequence-to-sequence models by name.
//
// Only "adam" and "sgd" are supported. An unknown name is a programming error, and it panics
// instead of returning an error: names are expected to be validated when the configuration
// is parsed (see NameString).
//
// Both optimizers clip each update step with the optimizers.ParamClipStepByValue hyperparameter,
// and Schedule adds a cosine annealing of the learning rate, see cosineschedule.ParamPeriodSteps.
package optimizer

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers/cosineschedule"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
	"golang.org/x/exp/maps"
	"k8s.io/klog/v2"
)

// Name of a supported optimizer.
//
//go:generate go tool enumer -type=Name -trimprefix=Name -transform=snake -values -text -json -yaml -output=gen_name_enumer.go optimizer.go
type Name int

const (
	// NameAdam is the Adam optimizer, configured with the optimizers.Adam hyperparameters in the context.
	NameAdam Name = iota

	// NameSGD is plain stochastic gradient descent, without learning rate decay.
	NameSGD
)

// DefaultLearningRate used by FromContext if optimizers.ParamLearningRate is not set.
const DefaultLearningRate = 1e-3

// Constructor creates an optimizer with the given learning rate.
type Constructor func(ctx *context.Context, learningRate float64) optimizers.Interface

// Constructors maps each Name to its Constructor.
var Constructors = map[Name]Constructor{
	NameAdam: func(ctx *context.Context, learningRate float64) optimizers.Interface {
		return optimizers.Adam().FromContext(ctx).LearningRate(learningRate).Done()
	},
	NameSGD: func(_ *context.Context, learningRate float64) optimizers.Interface {
		return optimizers.StochasticGradientDescent().WithDecay(false).WithLearningRate(learningRate)
	},
}

// Get returns the constructor for the optimizer named name: "adam" or "sgd".
//
// It panics for any other name.
func Get(name string) Constructor {
	n, err := NameString(name)
	if err != nil || n.String() != name {
		Panicf("unknown optimizer %q, valid values are %q", name, NameStrings())
	}
	constructor, found := Constructors[n]
	if !found {
		registered := maps.Keys(Constructors)
		slices.Sort(registered)
		Panicf("optimizer %q has no constructor registered, registered values are %v", name, registered)
	}
	return constructor
}

// FromContext creates the optimizer named by the optimizers.ParamOptimizer hyperparameter
// (default "adam") with the optimizers.ParamLearningRate hyperparameter (default DefaultLearningRate).
//
// It panics if the optimizer name is unknown.
func FromContext(ctx *context.Context) optimizers.Interface {
	name := context.GetParamOr(ctx, optimizers.ParamOptimizer, NameAdam.String())
	learningRate := context.GetParamOr(ctx, optimizers.ParamLearningRate, DefaultLearningRate)
	klog.V(1).Infof("optimizer: %s with learning rate %g, steps clipped to %g", name, learningRate,
		context.GetParamOr(ctx, optimizers.ParamClipStepByValue, 0.0))
	return Get(name)(ctx, learningRate)
}

// Schedule builds the update of the learning rate for the current training step, following a
// cosine annealing from learningRate down to cosineschedule.ParamMinLearningRate, with a period
// given by cosineschedule.ParamPeriodSteps (negative values are fractions of the training steps).
//
// It must be called while building the model graph, before the optimizer reads the learning rate.
// It does nothing if the period is 0 (the default) or if the graph is not training.
func Schedule(ctx *context.Context, g *Graph, dtype dtypes.DType, learningRate float64) {
	if period := context.GetParamOr(ctx, cosineschedule.ParamPeriodSteps, 0); period != 0 && ctx.IsTraining(g) {
		klog.V(2).Infof("cosine learning rate schedule: period=%d, learning rate %g", period, learningRate)
	}
	cosineschedule.New(ctx, g, dtype).FromContext().LearningRate(learningRate).Done()
}
