// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seq2seq

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/decode/sample"
	"github.com/gomlx/seq2seq/pkg/ml/layers/embeddings"
	"k8s.io/klog/v2"
)

// Decode generates the target tokens for the source: with beam search if BeamSize > 1,
// greedily otherwise. See GreedyDecode and BeamSearchDecode.
func (m *Model) Decode(ctx *context.Context, srcTokens, srcLengths *Node) *Node {
	if m.cfg.BeamSize > 1 {
		return m.BeamSearchDecode(ctx, srcTokens, srcLengths)
	}
	return m.GreedyDecode(ctx, srcTokens, srcLengths)
}

// decodeStep feeds tokens to the decoder cell and returns the logits of the next token.
type decodeStep func(tokens *Node, state []*Node) (logits *Node, newState []*Node)

// decodeSetup encodes the source, with each example repeated beamSize times, and returns
// the decoder initial state and step function.
func (m *Model) decodeSetup(ctx *context.Context, srcTokens, srcLengths *Node, beamSize int) ([]*Node, decodeStep) {
	ctx = ctx.Checked(false)
	g := srcTokens.Graph()
	encoded := m.Encode(ctx, srcTokens, srcLengths)
	if beamSize > 1 {
		encoded = encoded.Tile(beamSize)
	}
	cell, initialState := m.decoder(ctx, encoded)
	_, decTable := m.Embeddings(ctx)
	table := decTable.ValueGraph(g)
	step := func(tokens *Node, state []*Node) (*Node, []*Node) {
		output, newState := cell.Step(embeddings.Lookup(table, tokens), state)
		return m.project(ctx, output), newState
	}
	return initialState, step
}

// GreedyDecode generates MaxInferenceLength tokens for each source, picking the most likely
// token at each step.
//
// It returns the predicted ids, shaped [batchSize, MaxInferenceLength] with dtype Int32.
// Once an example generates the end token, the following positions are filled with it.
func (m *Model) GreedyDecode(ctx *context.Context, srcTokens, srcLengths *Node) *Node {
	g := srcTokens.Graph()
	batchSize := srcTokens.Shape().Dim(0)
	state, step := m.decodeSetup(ctx, srcTokens, srcLengths, 1)

	endTokens := BroadcastToDims(Scalar(g, dtypes.Int32, m.cfg.EndToken), batchSize)
	tokens := BroadcastToDims(Scalar(g, dtypes.Int32, m.cfg.StartToken), batchSize)
	finished := BroadcastToDims(Const(g, false), batchSize)
	predictions := make([]*Node, m.cfg.MaxInferenceLength)
	for t := range predictions {
		var logits *Node
		logits, state = step(tokens, state)
		tokens = Where(finished, endTokens, sample.Greedy(logits))
		finished = LogicalOr(finished, Equal(tokens, endTokens))
		predictions[t] = tokens
	}
	klog.V(1).Infof("seq2seq: greedy decoding of %d tokens for batch of %d", m.cfg.MaxInferenceLength, batchSize)
	return Stack(predictions, 1)
}

// BeamSearchDecode generates MaxInferenceLength tokens for each source with a beam search of
// BeamSize beams, with no length penalty.
//
// It returns only the ids of the best beam of each example, shaped [batchSize, MaxInferenceLength]
// with dtype Int32. Once a beam generates the end token, the following positions are filled with it.
// See BeamSearchDecodeAll to get every beam.
func (m *Model) BeamSearchDecode(ctx *context.Context, srcTokens, srcLengths *Node) *Node {
	best, _ := m.beamSearch(ctx, srcTokens, srcLengths, 1)
	return best
}

// BeamSearchDecodeAll is like BeamSearchDecode, but it returns every beam: the ids shaped
// [batchSize, BeamSize, MaxInferenceLength], and the beams log-probabilities shaped
// [batchSize, BeamSize]. The beams of each example are sorted from the most likely.
func (m *Model) BeamSearchDecodeAll(ctx *context.Context, srcTokens, srcLengths *Node) (sequences, scores *Node) {
	batchSize := srcTokens.Shape().Dim(0)
	beamSize := m.cfg.BeamSize
	sequences, scores = m.beamSearch(ctx, srcTokens, srcLengths, beamSize)
	sequences = Reshape(sequences, batchSize, beamSize, m.cfg.MaxInferenceLength)
	scores = Reshape(scores, batchSize, beamSize)
	return
}

// beamSearch returns the numReturned most likely beams of each example, shaped
// [batchSize*numReturned, MaxInferenceLength], and their scores shaped [batchSize*numReturned].
func (m *Model) beamSearch(ctx *context.Context, srcTokens, srcLengths *Node, numReturned int) (sequences, scores *Node) {
	g := srcTokens.Graph()
	beamSize := m.cfg.BeamSize
	batchSize := srcTokens.Shape().Dim(0)
	numRows := batchSize * beamSize
	vocabSize := m.cfg.TgtVocabSize
	state, step := m.decodeSetup(ctx, srcTokens, srcLengths, beamSize)
	search := sample.NewBeamSearch(beamSize, m.cfg.EndToken).
		WithMaxLength(m.cfg.MaxInferenceLength).
		WithNumReturnSequences(numReturned)

	// Only the first beam of each example starts alive, so the first step picks different tokens.
	dtype := m.cfg.DType
	beamIndices := Iota(g, shapes.Make(dtypes.Int32, batchSize, beamSize), 1)
	scores = Where(Equal(beamIndices, ZerosLike(beamIndices)),
		Zeros(g, shapes.Make(dtype, batchSize, beamSize)),
		BroadcastToDims(Scalar(g, dtype, -1e9), batchSize, beamSize))
	scores = Reshape(scores, numRows)

	// Column 0 of the sequences holds the row index before each step, so after the step it
	// holds the row of the parent beam, used to reorder the decoder state.
	rowIndices := Iota(g, shapes.Make(dtypes.Int32, numRows, 1), 0)
	sequences = rowIndices
	tokens := BroadcastToDims(Scalar(g, dtypes.Int32, m.cfg.StartToken), numRows)
	finished := BroadcastToDims(Const(g, false), numRows)

	eosMask := Equal(Iota(g, shapes.Make(dtypes.Int32, numRows, vocabSize), 1),
		BroadcastToDims(Scalar(g, dtypes.Int32, m.cfg.EndToken), numRows, vocabSize))
	var finishedLogits *Node
	for t := range m.cfg.MaxInferenceLength {
		var logits *Node
		logits, state = step(tokens, state)
		if finishedLogits == nil {
			finishedLogits = Where(eosMask, ZerosLike(logits), BroadcastToDims(Scalar(g, logits.DType(), -1e9), numRows, vocabSize))
		}
		logits = Where(finished, finishedLogits, logits)
		if t > 0 {
			sequences = Concatenate([]*Node{rowIndices, SliceAxis(sequences, 1, AxisRange(1))}, 1)
		}
		var isEOS *Node
		sequences, scores, isEOS = search.Step(logits, sequences, scores, t)

		parents := SliceAxis(sequences, 1, AxisElem(0)) // [numRows, 1]
		for ii := range state {
			state[ii] = Gather(state[ii], parents)
		}
		parentFinished := Gather(ConvertDType(finished, dtypes.Int32), parents)
		finished = LogicalOr(NotEqual(parentFinished, ZerosLike(parentFinished)), isEOS)
		tokens = Squeeze(SliceAxis(sequences, 1, AxisElem(t+1)), 1)
	}
	sequences, scores = search.SelectBest(sequences, scores)
	klog.V(1).Infof("seq2seq: beam search decoding of %d tokens with %d beams for batch of %d",
		m.cfg.MaxInferenceLength, beamSize, batchSize)
	return SliceAxis(sequences, 1, AxisRange(1)), scores
}
