// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"math"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers/cosineschedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestGet(t *testing.T) {
	ctx := context.New()
	require.NotNil(t, Get("adam"))
	require.NotNil(t, Get("sgd"))
	assert.NotNil(t, Get("adam")(ctx, 0.01))
	sgd, ok := Get("sgd")(ctx, 0.01).(*optimizers.SGDConfig)
	require.True(t, ok)
	assert.NotNil(t, sgd)

	for _, name := range []string{"", "adamw", "ADAM", "rmsprop"} {
		assert.Panics(t, func() { Get(name) }, "optimizer %q should panic", name)
	}
}

func TestGetUnregistered(t *testing.T) {
	adam := Constructors[NameAdam]
	delete(Constructors, NameAdam)
	defer func() { Constructors[NameAdam] = adam }()
	assert.PanicsWithError(t, `optimizer "adam" has no constructor registered, registered values are [sgd]`,
		func() { Get("adam") })
	assert.NotNil(t, Get("sgd"))
}

func TestName(t *testing.T) {
	assert.Equal(t, []string{"adam", "sgd"}, NameStrings())
	assert.Equal(t, "sgd", NameSGD.String())
	n, err := NameString("adam")
	require.NoError(t, err)
	assert.Equal(t, NameAdam, n)
	_, err = NameString("momentum")
	require.Error(t, err)
	for _, n := range NameValues() {
		assert.Contains(t, Constructors, n)
	}
}

// minimizeSquare runs one optimizer step on loss=x^2, with x initialized to 1, and returns
// the new value of x.
func minimizeSquare(t *testing.T, ctx *context.Context, opt optimizers.Interface) float32 {
	backend := graphtest.BuildTestBackend()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		x := ctx.WithInitializer(initializers.One).
			VariableWithShape("x", shapes.Make(dtypes.Float32)).ValueGraph(g)
		loss := Square(x)
		opt.UpdateGraph(ctx, g, loss)
		return loss
	})
	require.NotPanics(t, func() { _ = exec.MustExec() })
	xVar := ctx.GetVariableByScopeAndName(context.RootScope, "x")
	require.NotNil(t, xVar)
	return xVar.MustValue().Value().(float32)
}

func TestSGDStep(t *testing.T) {
	ctx := context.New()
	// x - lr * dLoss/dx = 1 - 0.1*2
	assert.InDelta(t, 0.8, minimizeSquare(t, ctx, Get("sgd")(ctx, 0.1)), 1e-4)
}

func TestFromContext(t *testing.T) {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		optimizers.ParamOptimizer:    "sgd",
		optimizers.ParamLearningRate: 0.25,
	})
	// 1 - 0.25*2
	assert.InDelta(t, 0.5, minimizeSquare(t, ctx, FromContext(ctx)), 1e-4)

	// Adam's first step moves each variable by about the learning rate.
	ctx = context.New()
	ctx.SetParam(optimizers.ParamLearningRate, 0.1)
	assert.InDelta(t, 0.9, minimizeSquare(t, ctx, FromContext(ctx)), 1e-3)

	ctx = context.New()
	ctx.SetParam(optimizers.ParamOptimizer, "adagrad")
	assert.Panics(t, func() { FromContext(ctx) })
}

func TestClipStepByValue(t *testing.T) {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		optimizers.ParamOptimizer:       "sgd",
		optimizers.ParamLearningRate:    0.1,
		optimizers.ParamClipStepByValue: 0.05,
	})
	// The step 0.1*2 is clipped to 0.05.
	assert.InDelta(t, 0.95, minimizeSquare(t, ctx, FromContext(ctx)), 1e-4)
}

func TestSchedule(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	const period = 10
	const minLearningRate = 0.1
	ctx := context.New()
	ctx.SetParams(map[string]any{
		cosineschedule.ParamPeriodSteps:     period,
		cosineschedule.ParamMinLearningRate: minLearningRate,
	})
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		ctx.SetTraining(g, true)
		Schedule(ctx, g, dtypes.Float32, 1.0)
		return optimizers.LearningRateVar(ctx, dtypes.Float32, 1e3).ValueGraph(g)
	})
	for step := range 2 * period {
		lr := exec.MustExec()[0].Value().(float32)
		cycle := float64(step%period) / period
		want := (math.Cos(cycle*math.Pi)+1)/2*(1.0-minLearningRate) + minLearningRate
		require.InDeltaf(t, want, lr, 1e-4, "step=%d", step)
	}

	// Not training: the learning rate is left untouched.
	ctx = context.New()
	ctx.SetParam(cosineschedule.ParamPeriodSteps, period)
	exec = context.MustNewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		Schedule(ctx, g, dtypes.Float32, 1.0)
		return optimizers.LearningRateVar(ctx, dtypes.Float32, 0.5).ValueGraph(g)
	})
	for range 3 {
		assert.InDelta(t, float32(0.5), exec.MustExec()[0].Value().(float32), 1e-6)
	}
}
