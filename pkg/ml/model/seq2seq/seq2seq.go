// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package seq2seq builds an attention based sequence-to-sequence model: a multi-layer
// (optionally bidirectional) recurrent encoder, and a multi-layer recurrent decoder whose
// first layer attends over the encoder outputs.
//
// The model is configured with a Config, usually read from the context hyperparameters
// (see Config.FromContext), and provides the graph building functions for training
// (TrainLogits, Loss, ModelFn) and decoding (GreedyDecode, BeamSearchDecode).
//
// Tokens are int32 tensors shaped [batchSize, maxLength], padded at the end, with the
// lengths of each example given separately, shaped [batchSize].
package seq2seq

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers/cosineschedule"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/seq2seq/pkg/ml/layers/embeddings"
	"github.com/gomlx/seq2seq/pkg/ml/layers/rnn"
	"github.com/gomlx/seq2seq/pkg/ml/layers/seqattention"
	"github.com/gomlx/seq2seq/pkg/ml/train/optimizer"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Scopes of the model variables, under the context's current scope.
const (
	EmbeddingsScope        = "embeddings"
	EncoderScope           = "encoder"
	DecoderScope           = "decoder"
	AttentionScope         = "attention"
	OutputLayerScope       = "output_layer"
	BiEncodeStateConvScope = "bi_encode_state_convert"
)

// Model is a sequence-to-sequence model. Create it with New or NewFromContext.
type Model struct {
	cfg  *Config
	mode Mode
}

// New creates a model with the given configuration.
//
// An invalid mode is a programming error, and it panics. Other configuration errors, like an
// unknown attention option, are returned: see Config.Validate.
func New(cfg *Config) (*Model, error) {
	mode, err := ModeString(cfg.Mode)
	if err != nil || mode.String() != cfg.Mode {
		Panicf("invalid seq2seq mode %q, valid values are %q", cfg.Mode, ModeStrings())
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "seq2seq model in %s mode", mode)
	}
	klog.V(1).Infof("seq2seq: %s mode, vocab %d -> %d (shared=%v), %d units, encoder %d x %s (bidirectional=%v), "+
		"decoder %d x %s, %s attention", mode, cfg.SrcVocabSize, cfg.TgtVocabSize, cfg.ShareVocab, cfg.NumUnits,
		cfg.EncodeLayerNum, cfg.EncodeCellType, cfg.UseBidirection, cfg.DecodeLayerNum, cfg.DecodeCellType,
		cfg.AttentionOption)
	return &Model{cfg: cfg, mode: mode}, nil
}

// NewFromContext creates a model configured by DefaultConfig overwritten by the context
// hyperparameters.
func NewFromContext(ctx *context.Context) (*Model, error) {
	cfg, err := DefaultConfig().FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// Config returns the model configuration.
func (m *Model) Config() *Config { return m.cfg }

// Mode returns the mode the model was created with.
func (m *Model) Mode() Mode { return m.mode }

// TrainPhase returns whether the model is in training mode, in which case dropout is enabled.
func (m *Model) TrainPhase() bool { return m.mode == ModeTrain }

// Optimizer returns the optimizer configured for the model. Use it with the same context given
// to ModelFn, since the clipping of the steps and the learning rate schedule are read from it.
//
// It panics if the optimizer name is unknown.
func (m *Model) Optimizer(ctx *context.Context) optimizers.Interface {
	m.setTrainingParams(ctx)
	return optimizer.Get(m.cfg.Optimizer)(ctx, m.cfg.LearningRate)
}

// setTrainingParams sets in the context the hyperparameters the optimizers and the learning rate
// schedule read while building the training graph.
func (m *Model) setTrainingParams(ctx *context.Context) {
	if m.cfg.ClipStepByValue > 0 {
		ctx.SetParam(optimizers.ParamClipStepByValue, m.cfg.ClipStepByValue)
	}
	if m.cfg.SchedulePeriodSteps != 0 {
		ctx.SetParam(cosineschedule.ParamPeriodSteps, m.cfg.SchedulePeriodSteps)
		ctx.SetParam(cosineschedule.ParamMinLearningRate, m.cfg.MinLearningRate)
	}
}

// Embeddings returns the encoder and decoder embedding tables, creating them if needed.
// If the vocabulary is shared, both are the same variable.
func (m *Model) Embeddings(ctx *context.Context) (encoder, decoder *context.Variable) {
	encoder, decoder, err := embeddings.CreateForEncoderAndDecoder(ctx, embeddings.Spec{
		Share:        m.cfg.ShareVocab,
		SrcVocabSize: m.cfg.SrcVocabSize,
		TgtVocabSize: m.cfg.TgtVocabSize,
		SrcEmbedSize: m.cfg.EmbeddingSize,
		TgtEmbedSize: m.cfg.EmbeddingSize,
		DType:        m.cfg.DType,
		Scope:        EmbeddingsScope,
	})
	if err != nil {
		panic(errors.WithMessagef(err, "seq2seq: failed to create embeddings"))
	}
	return
}

// stackConfig returns the configuration of a stack of recurrent cells.
func (m *Model) stackConfig(cellType string, numLayers, baseGPU int) rnn.StackConfig {
	cfg := rnn.DefaultStackConfig()
	cfg.CellType = cellType
	cfg.NumUnits = m.cfg.NumUnits
	cfg.NumLayers = numLayers
	cfg.TrainPhase = m.TrainPhase()
	cfg.KeepProb = m.cfg.KeepProb
	cfg.NumGPUs = m.cfg.NumGPUs
	cfg.BaseGPU = baseGPU
	return cfg
}

// lastLayerState returns the state of the last layer of cell.
func lastLayerState(cell rnn.Cell, state []*Node) []*Node {
	if multi, ok := cell.(*rnn.MultiCell); ok {
		return multi.LayerState(state, len(multi.Cells())-1)
	}
	return state
}

// Encoded is the output of the encoder.
type Encoded struct {
	// Outputs shaped [batchSize, maxTime, depth], where depth is NumUnits, or 2*NumUnits
	// for a bidirectional encoder. It is zero past each example's length.
	Outputs *Node

	// Lengths of the source sequences, shaped [batchSize].
	Lengths *Node

	// FinalState of the last encoder layer, used as the initial state of every decoder layer.
	// Each tensor is shaped [batchSize, NumUnits].
	FinalState []*Node
}

// Tile repeats each example multiplier times, to decode with beams.
func (e *Encoded) Tile(multiplier int) *Encoded {
	tiled := &Encoded{
		Outputs:    seqattention.TileBatch(e.Outputs, multiplier),
		Lengths:    seqattention.TileBatch(e.Lengths, multiplier),
		FinalState: make([]*Node, len(e.FinalState)),
	}
	for ii, s := range e.FinalState {
		tiled.FinalState[ii] = seqattention.TileBatch(s, multiplier)
	}
	return tiled
}

// Encode runs the encoder over srcTokens, shaped [batchSize, maxTime], with srcLengths shaped [batchSize].
//
// A bidirectional encoder uses EncodeLayerNum/2 layers in each direction, with the backward
// layers placed on the GPUs following the forward ones. Their outputs are concatenated,
// and the final states of both directions are merged by a dense layer into one state.
func (m *Model) Encode(ctx *context.Context, srcTokens, srcLengths *Node) *Encoded {
	ctx = ctx.Checked(false)
	if srcTokens.Rank() != 2 || !srcTokens.DType().IsInt() {
		Panicf("seq2seq: source tokens must be integers shaped [batchSize, maxTime], got %s", srcTokens.Shape())
	}
	g := srcTokens.Graph()
	encTable, _ := m.Embeddings(ctx)
	inputs := embeddings.Lookup(encTable.ValueGraph(g), srcTokens)
	encCtx := ctx.In(EncoderScope)

	if !m.cfg.UseBidirection {
		cell := rnn.MultiLayerCell(encCtx, m.stackConfig(m.cfg.EncodeCellType, m.cfg.EncodeLayerNum, 0))
		outputs, state := rnn.Unroll(cell, inputs, srcLengths, nil)
		return &Encoded{Outputs: outputs, Lengths: srcLengths, FinalState: lastLayerState(cell, state)}
	}

	numBiLayers := m.cfg.EncodeLayerNum / 2
	forward := rnn.MultiLayerCell(encCtx.In("forward"), m.stackConfig(m.cfg.EncodeCellType, numBiLayers, 0))
	backward := rnn.MultiLayerCell(encCtx.In("backward"), m.stackConfig(m.cfg.EncodeCellType, numBiLayers, numBiLayers))
	fwOutputs, bwOutputs, fwState, bwState := rnn.UnrollBidirectional(forward, backward, inputs, srcLengths, nil, nil)
	fwState, bwState = lastLayerState(forward, fwState), lastLayerState(backward, bwState)

	convCtx := ctx.In(BiEncodeStateConvScope)
	finalState := make([]*Node, len(fwState))
	for ii := range finalState {
		finalState[ii] = layers.Dense(convCtx.Inf("state_%d", ii),
			Concatenate([]*Node{fwState[ii], bwState[ii]}, -1), true, m.cfg.NumUnits)
	}
	return &Encoded{
		Outputs:    Concatenate([]*Node{fwOutputs, bwOutputs}, -1),
		Lengths:    srcLengths,
		FinalState: finalState,
	}
}

// DecoderInputs returns the decoder inputs, with the start token prepended to targets,
// and the decoder targets, with the end token appended, both shaped [batchSize, maxTime+1],
// and their lengths (targetLengths+1).
//
// Positions of the decoder targets past each example's length are set to the end token.
func (m *Model) DecoderInputs(targets, targetLengths *Node) (inputs, outputs, lengths *Node) {
	if targets.Rank() != 2 || !targets.DType().IsInt() {
		Panicf("seq2seq: target tokens must be integers shaped [batchSize, maxTime], got %s", targets.Shape())
	}
	g := targets.Graph()
	batchSize, maxTime := targets.Shape().Dim(0), targets.Shape().Dim(1)
	start := BroadcastToDims(Scalar(g, targets.DType(), m.cfg.StartToken), batchSize, 1)
	end := BroadcastToDims(Scalar(g, targets.DType(), m.cfg.EndToken), batchSize, 1)
	inputs = Concatenate([]*Node{start, targets}, 1)
	outputs = Concatenate([]*Node{targets, end}, 1)
	mask := seqattention.SequenceMask(targetLengths, maxTime+1)
	outputs = Where(mask, outputs, BroadcastToDims(end, batchSize, maxTime+1))
	lengths = AddScalar(targetLengths, 1)
	return
}

// decoder returns the decoder cell and its initial state, for the encoded source.
//
// The first decoder layer is wrapped with attention over the encoder outputs. Every layer
// starts from the encoder's final state: if the encoder and decoder cells carry a different
// number of state tensors, the encoder's hidden state is used for each of them.
func (m *Model) decoder(ctx *context.Context, encoded *Encoded) (rnn.Cell, []*Node) {
	decCtx := ctx.In(DecoderScope)
	cells := rnn.CellList(decCtx, m.stackConfig(m.cfg.DecodeCellType, m.cfg.DecodeLayerNum, 0))
	attnCtx := decCtx.In(AttentionScope)
	mechanism, err := seqattention.New(attnCtx, m.cfg.AttentionOption, m.cfg.NumUnits, encoded.Outputs, encoded.Lengths)
	if err != nil {
		panic(errors.WithMessagef(err, "seq2seq: failed to create attention"))
	}
	attnCell := seqattention.Wrap(attnCtx, cells[0], mechanism, m.cfg.NumUnits)

	var initialState []*Node
	for ii, cell := range cells {
		layerState := fitState(encoded.FinalState, cell.StateSize())
		if ii == 0 {
			layerState = attnCell.WithCellState(layerState)
		}
		initialState = append(initialState, layerState...)
	}
	cells[0] = attnCell
	if len(cells) == 1 {
		return attnCell, initialState
	}
	return rnn.NewMultiCell(cells...), initialState
}

// fitState adapts state to a cell with stateSize tensors.
func fitState(state []*Node, stateSize int) []*Node {
	if len(state) == stateSize {
		return state
	}
	hidden := state[len(state)-1]
	fitted := make([]*Node, stateSize)
	for ii := range fitted {
		fitted[ii] = hidden
	}
	return fitted
}

// project converts decoder outputs to logits over the target vocabulary.
func (m *Model) project(ctx *context.Context, x *Node) *Node {
	outCtx := ctx.In(DecoderScope).In(OutputLayerScope).WithInitializer(initializers.RandomNormalFn(ctx, 0.1))
	return layers.Dense(outCtx, x, true, m.cfg.TgtVocabSize)
}

// TrainLogits builds the decoder with teacher forcing over the target tokens.
//
// It returns the logits, shaped [batchSize, maxTargetTime+1, TgtVocabSize], the targets (see
// DecoderInputs) and the mask of the valid target positions, both shaped [batchSize, maxTargetTime+1].
func (m *Model) TrainLogits(ctx *context.Context, srcTokens, srcLengths, tgtTokens, tgtLengths *Node) (
	logits, targets, mask *Node) {
	ctx = ctx.Checked(false)
	g := srcTokens.Graph()
	encoded := m.Encode(ctx, srcTokens, srcLengths)
	decInputs, targets, decLengths := m.DecoderInputs(tgtTokens, tgtLengths)
	_, decTable := m.Embeddings(ctx)
	cell, initialState := m.decoder(ctx, encoded)
	outputs, _ := rnn.Unroll(cell, embeddings.Lookup(decTable.ValueGraph(g), decInputs), decLengths, initialState)
	logits = m.project(ctx, outputs)
	mask = seqattention.SequenceMask(decLengths, targets.Shape().Dim(1))
	return
}

// Loss returns the sum of the cross-entropy of the valid target positions, divided by the
// batch size.
func (m *Model) Loss(logits, targets, mask *Node) *Node {
	return SequenceLoss(logits, targets, mask)
}

// SequenceLoss is the sparse softmax cross-entropy of logits, shaped [batchSize, maxTime, vocabSize],
// with respect to the targets, shaped [batchSize, maxTime], summed over the positions where mask
// is true, and divided by batchSize.
func SequenceLoss(logits, targets, mask *Node) *Node {
	g := logits.Graph()
	dims := logits.Shape().Dimensions
	batchSize := dims[0]
	logProbs := LogSoftmax(logits, -1)
	vocab := Iota(g, shapes.Make(targets.DType(), dims...), len(dims)-1)
	oneHot := Equal(vocab, BroadcastToDims(InsertAxes(targets, -1), dims...))
	crossEntropy := Neg(ReduceSum(Where(oneHot, logProbs, ZerosLike(logProbs)), -1))
	crossEntropy = Mul(crossEntropy, ConvertDType(mask, crossEntropy.DType()))
	return DivScalar(ReduceAllSum(crossEntropy), float64(batchSize))
}

// ModelFn returns a train.ModelFn that builds the training graph.
//
// The inputs are source tokens, source lengths, target tokens and target lengths. It returns
// the logits, the targets and the mask, see TrainLogits. Use it with LossFn.
//
// When training, it also updates the learning rate following the configured schedule.
func (m *Model) ModelFn() train.ModelFn {
	return func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		_ = spec
		if len(inputs) != 4 {
			Panicf("seq2seq model requires 4 inputs (source tokens and lengths, target tokens and lengths), got %d",
				len(inputs))
		}
		m.setTrainingParams(ctx)
		optimizer.Schedule(ctx, inputs[0].Graph(), m.cfg.DType, m.cfg.LearningRate)
		logits, targets, mask := m.TrainLogits(ctx, inputs[0], inputs[1], inputs[2], inputs[3])
		return []*Node{logits, targets, mask}
	}
}

// LossFn is the loss for the predictions returned by ModelFn. Labels are not used, since the
// targets are derived from the inputs.
func LossFn(labels, predictions []*Node) *Node {
	_ = labels
	return SequenceLoss(predictions[0], predictions[1], predictions[2])
}

// TokenAccuracy returns the fraction of the valid target positions where the most likely
// token is the target.
func TokenAccuracy(logits, targets, mask *Node) *Node {
	predicted := ArgMax(logits, -1, targets.DType())
	correct := ConvertDType(LogicalAnd(Equal(predicted, targets), mask), dtypes.Float32)
	return Div(ReduceAllSum(correct), ReduceAllSum(ConvertDType(mask, dtypes.Float32)))
}
