// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package seqattention implements the additive (Bahdanau) and multiplicative (Luong) attention
// mechanisms used by sequence-to-sequence decoders, and an rnn.Cell wrapper that attends over
// the encoder outputs at every decoding step.
//
// A Mechanism is created once per encoded batch, with the encoder outputs as its memory. It then
// scores each decoder query against every memory position:
//
//	mech, err := seqattention.New(ctx.In("attention"), "normed_bahdanau", numUnits, encoderOutputs, srcLengths)
//	if err != nil { ... }
//	cell := seqattention.Wrap(ctx.In("attention"), decoderCell, mech, numUnits)
package seqattention

import (
	"math"
	"strings"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/seq2seq/pkg/support/configerr"
	"k8s.io/klog/v2"
)

// ParamAttention is the context hyperparameter with the attention type name, see ParseType.
const ParamAttention = "attention"

// Type of attention mechanism.
type Type int

const (
	// TypeLuong is multiplicative attention: score = query · keys.
	TypeLuong Type = iota

	// TypeScaledLuong is TypeLuong with the score multiplied by a learned scalar.
	TypeScaledLuong

	// TypeBahdanau is additive attention: score = v · tanh(keys + W·query).
	TypeBahdanau

	// TypeNormedBahdanau is TypeBahdanau with weight normalization of v and a learned bias.
	TypeNormedBahdanau
)

var typeNames = []string{"luong", "scaled_luong", "bahdanau", "normed_bahdanau"}

// String implements fmt.Stringer. It returns the name accepted by ParseType.
func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "unknown"
	}
	return typeNames[t]
}

// ParseType converts one of "luong", "scaled_luong", "bahdanau" or "normed_bahdanau" to a Type.
//
// Any other name returns a *configerr.ConfigurationError.
func ParseType(name string) (Type, error) {
	for ii, typeName := range typeNames {
		if name == typeName {
			return Type(ii), nil
		}
	}
	return 0, configerr.Newf(ParamAttention, "unknown attention option %q, valid values are %s",
		name, strings.Join(typeNames, ", "))
}

// Mechanism scores queries against the memory of an encoded batch.
type Mechanism interface {
	// Type of the mechanism.
	Type() Type

	// NumUnits is the depth of the keys. Luong mechanisms require queries of this width.
	NumUnits() int

	// Keys are the memory projected to NumUnits, shaped [batchSize, maxTime, numUnits].
	Keys() *Node

	// Values are the memory with the positions past each example's length zeroed,
	// shaped [batchSize, maxTime, depth].
	Values() *Node

	// Mask of valid memory positions, shaped [batchSize, maxTime], or nil if all positions are valid.
	Mask() *Node

	// Alignments returns the attention probabilities for query, shaped [batchSize, maxTime].
	// Positions past each example's length get 0.
	//
	// This is a graph building function and panics on error.
	Alignments(query *Node) *Node
}

// New creates the attention mechanism named by attentionOption (see ParseType) over memory,
// shaped [batchSize, maxTime, depth].
//
// memoryLengths, shaped [batchSize] with an integer dtype, is the number of valid positions of
// each example. It can be nil if all positions are valid.
//
// The variables are created in ctx's current scope. An unknown attentionOption returns a
// *configerr.ConfigurationError, and no variables are created.
func New(ctx *context.Context, attentionOption string, numUnits int, memory, memoryLengths *Node) (Mechanism, error) {
	attentionType, err := ParseType(attentionOption)
	if err != nil {
		return nil, err
	}
	return NewWithType(ctx, attentionType, numUnits, memory, memoryLengths), nil
}

// NewWithType creates the attention mechanism of the given type, see New.
//
// It panics if memory or memoryLengths have invalid shapes.
func NewWithType(ctx *context.Context, attentionType Type, numUnits int, memory, memoryLengths *Node) Mechanism {
	if numUnits <= 0 {
		Panicf("attention requires numUnits > 0, got %d", numUnits)
	}
	base := newBaseMechanism(ctx.Checked(false), attentionType, numUnits, memory, memoryLengths)
	klog.V(1).Infof("seqattention: %s attention in %q with %d units over memory %s",
		attentionType, ctx.Scope(), numUnits, memory.Shape())
	switch attentionType {
	case TypeLuong, TypeScaledLuong:
		return &luong{baseMechanism: base, scaled: attentionType == TypeScaledLuong}
	case TypeBahdanau, TypeNormedBahdanau:
		return &bahdanau{baseMechanism: base, normalize: attentionType == TypeNormedBahdanau}
	default:
		Panicf("unknown attention type %d", attentionType)
	}
	return nil
}

// baseMechanism holds what is common to all mechanisms: the masked memory and its keys.
type baseMechanism struct {
	ctx           *context.Context
	attentionType Type
	numUnits      int
	keys, values  *Node
	mask          *Node
}

func newBaseMechanism(ctx *context.Context, attentionType Type, numUnits int, memory, memoryLengths *Node) baseMechanism {
	if memory.Rank() != 3 {
		Panicf("attention memory must be shaped [batchSize, maxTime, depth], got %s", memory.Shape())
	}
	b := baseMechanism{ctx: ctx, attentionType: attentionType, numUnits: numUnits, values: memory}
	if memoryLengths != nil {
		b.mask = SequenceMask(memoryLengths, memory.Shape().Dim(1))
		if !b.mask.Shape().Equal(shapes.Make(b.mask.DType(), memory.Shape().Dimensions[:2]...)) {
			Panicf("attention memoryLengths must be shaped [%d], got %s", memory.Shape().Dim(0), memoryLengths.Shape())
		}
		b.values = Where(b.mask, memory, ZerosLike(memory))
	}
	b.keys = layers.Dense(ctx.In("memory_layer"), b.values, false, numUnits)
	return b
}

// SequenceMask returns a boolean mask shaped [batchSize, maxLength], true for the positions
// smaller than the example's length.
func SequenceMask(lengths *Node, maxLength int) *Node {
	if lengths.Rank() != 1 {
		Panicf("SequenceMask requires lengths shaped [batchSize], got %s", lengths.Shape())
	}
	g := lengths.Graph()
	batchSize := lengths.Shape().Dim(0)
	positions := Iota(g, shapes.Make(lengths.DType(), batchSize, maxLength), 1)
	return LessThan(positions, BroadcastToDims(InsertAxes(lengths, -1), batchSize, maxLength))
}

func (b *baseMechanism) Type() Type { return b.attentionType }
func (b *baseMechanism) NumUnits() int { return b.numUnits }
func (b *baseMechanism) Keys() *Node { return b.keys }
func (b *baseMechanism) Values() *Node { return b.values }
func (b *baseMechanism) Mask() *Node { return b.mask }

func (b *baseMechanism) checkQuery(query *Node, width int) {
	if query.Rank() != 2 || query.Shape().Dim(0) != b.keys.Shape().Dim(0) || (width > 0 && query.Shape().Dim(1) != width) {
		Panicf("%s attention query must be shaped [%d, %d], got %s",
			b.attentionType, b.keys.Shape().Dim(0), width, query.Shape())
	}
}

// probabilities normalizes the scores over the valid memory positions.
func (b *baseMechanism) probabilities(scores *Node) *Node {
	if b.mask == nil {
		return Softmax(scores, -1)
	}
	return MaskedSoftmax(scores, b.mask, -1)
}

// constantInitializer fills variables with value.
func constantInitializer(value float64) initializers.VariableInitializer {
	return func(g *Graph, shape shapes.Shape) *Node {
		if shape.IsScalar() {
			return Scalar(g, shape.DType, value)
		}
		return BroadcastToDims(Scalar(g, shape.DType, value), shape.Dimensions...)
	}
}

// luong implements TypeLuong and TypeScaledLuong.
type luong struct {
	baseMechanism
	scaled bool
}

// Alignments implements Mechanism.
func (m *luong) Alignments(query *Node) *Node {
	m.checkQuery(query, m.numUnits)
	scores := Einsum("bu,btu->bt", query, m.keys)
	if m.scaled {
		g := query.Graph()
		scale := m.ctx.WithInitializer(initializers.One).
			VariableWithShape("attention_g", shapes.Make(query.DType())).ValueGraph(g)
		scores = Mul(scores, scale)
	}
	return m.probabilities(scores)
}

// normEpsilon keeps the norm of attention_v away from 0.
const normEpsilon = 1e-12

// bahdanau implements TypeBahdanau and TypeNormedBahdanau.
type bahdanau struct {
	baseMechanism
	normalize bool
}

// Alignments implements Mechanism.
func (m *bahdanau) Alignments(query *Node) *Node {
	m.checkQuery(query, 0)
	g := query.Graph()
	dtype := query.DType()
	processedQuery := layers.Dense(m.ctx.In("query_layer"), query, false, m.numUnits)
	// The default initializer gives zeros to rank-1 variables.
	limit := math.Sqrt(3.0 / float64(m.numUnits))
	v := m.ctx.WithInitializer(initializers.RandomUniformFn(m.ctx, -limit, limit)).
		VariableWithShape("attention_v", shapes.Make(dtype, m.numUnits)).ValueGraph(g)
	features := Add(m.keys, InsertAxes(processedQuery, 1)) // [batchSize, maxTime, numUnits]
	if m.normalize {
		norm := m.ctx.WithInitializer(constantInitializer(math.Sqrt(1.0/float64(m.numUnits)))).
			VariableWithShape("attention_g", shapes.Make(dtype)).ValueGraph(g)
		bias := m.ctx.WithInitializer(initializers.Zero).
			VariableWithShape("attention_b", shapes.Make(dtype, m.numUnits)).ValueGraph(g)
		v = Mul(norm, Div(v, Sqrt(AddScalar(ReduceAllSum(Square(v)), normEpsilon))))
		features = Add(features, ExpandLeftToRank(bias, 3))
	}
	scores := ReduceSum(Mul(Tanh(features), ExpandLeftToRank(v, 3)), -1)
	return m.probabilities(scores)
}
