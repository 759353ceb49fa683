// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package embeddings creates the token embedding tables of the encoder and decoder of a
// sequence-to-sequence model, either shared or one per side.
package embeddings

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/seq2seq/pkg/support/configerr"
	"k8s.io/klog/v2"
)

const (
	// DefaultScope where the embedding tables are created, if Spec.Scope is empty.
	DefaultScope = "embeddings"

	// SharedName is the variable name of the shared embedding table.
	SharedName = "embedding_share"

	// EncoderScope and EncoderName are the scope and variable name of the encoder table, if not shared.
	EncoderScope = "encoder"
	EncoderName  = "embedding_encoder"

	// DecoderScope and DecoderName are the scope and variable name of the decoder table, if not shared.
	DecoderScope = "decoder"
	DecoderName  = "embedding_decoder"

	// ParamShareVocab is the name of the configuration checked when sharing embeddings.
	ParamShareVocab = "share_vocab"
)

// Spec describes the embedding tables. The zero values of DType and Scope select
// dtypes.Float32 and DefaultScope.
type Spec struct {
	// Share a single table between encoder and decoder. It requires SrcVocabSize == TgtVocabSize,
	// and uses SrcEmbedSize as the embedding size.
	Share bool

	SrcVocabSize, TgtVocabSize int
	SrcEmbedSize, TgtEmbedSize int

	DType dtypes.DType
	Scope string
}

// CreateForEncoderAndDecoder creates the embedding tables for the encoder and decoder, with
// values initialized uniformly in [-1, 1].
//
// If spec.Share is set, one table "embedding_share" shaped [SrcVocabSize, SrcEmbedSize] is
// created, and the same variable is returned for both encoder and decoder. Otherwise, the tables
// are "encoder/embedding_encoder" shaped [SrcVocabSize, SrcEmbedSize] and
// "decoder/embedding_decoder" shaped [TgtVocabSize, TgtEmbedSize].
//
// Tables are created under spec.Scope, in ctx's current scope. If the tables already exist
// (e.g. loaded from a checkpoint), they are reused.
//
// It returns a *configerr.ConfigurationError if sharing with different vocabulary sizes, or if
// any size is not positive. In which case no variables are created.
func CreateForEncoderAndDecoder(ctx *context.Context, spec Spec) (encoder, decoder *context.Variable, err error) {
	if err = spec.validate(); err != nil {
		return nil, nil, err
	}
	dtype := spec.DType
	if dtype == dtypes.InvalidDType {
		dtype = dtypes.Float32
	}
	scope := spec.Scope
	if scope == "" {
		scope = DefaultScope
	}
	ctx = ctx.In(scope).Checked(false).WithInitializer(initializers.RandomUniformFn(ctx, -1, 1))

	if spec.Share {
		klog.V(1).Infof("embeddings: sharing %d x %d table between encoder and decoder", spec.SrcVocabSize, spec.SrcEmbedSize)
		encoder = ctx.VariableWithShape(SharedName, shapes.Make(dtype, spec.SrcVocabSize, spec.SrcEmbedSize))
		return encoder, encoder, nil
	}
	klog.V(1).Infof("embeddings: encoder table %d x %d, decoder table %d x %d",
		spec.SrcVocabSize, spec.SrcEmbedSize, spec.TgtVocabSize, spec.TgtEmbedSize)
	encoder = ctx.In(EncoderScope).VariableWithShape(EncoderName, shapes.Make(dtype, spec.SrcVocabSize, spec.SrcEmbedSize))
	decoder = ctx.In(DecoderScope).VariableWithShape(DecoderName, shapes.Make(dtype, spec.TgtVocabSize, spec.TgtEmbedSize))
	return encoder, decoder, nil
}

func (spec Spec) validate() error {
	if spec.Share && spec.SrcVocabSize != spec.TgtVocabSize {
		return configerr.Newf(ParamShareVocab,
			"share embedding but different src/tgt vocab sizes %d vs. %d", spec.SrcVocabSize, spec.TgtVocabSize)
	}
	if spec.SrcVocabSize <= 0 || spec.SrcEmbedSize <= 0 {
		return configerr.Newf("src_vocab_size", "source vocab size and embed size must be positive, got %d and %d",
			spec.SrcVocabSize, spec.SrcEmbedSize)
	}
	if !spec.Share && (spec.TgtVocabSize <= 0 || spec.TgtEmbedSize <= 0) {
		return configerr.Newf("tgt_vocab_size", "target vocab size and embed size must be positive, got %d and %d",
			spec.TgtVocabSize, spec.TgtEmbedSize)
	}
	return nil
}

// Lookup returns the embeddings of tokens, given the table shaped [vocabSize, embedSize].
//
// tokens must have an integer dtype, and the result is shaped [<tokens dimensions...>, embedSize].
func Lookup(table, tokens *Node) *Node {
	if table.Rank() != 2 {
		Panicf("embeddings table must be shaped [vocabSize, embedSize], got %s", table.Shape())
	}
	if !tokens.DType().IsInt() {
		Panicf("embeddings lookup requires integer tokens, got %s", tokens.Shape())
	}
	return Gather(table, InsertAxes(tokens, -1))
}
