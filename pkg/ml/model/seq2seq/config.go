// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seq2seq

import (
	computedtypes "github.com/gomlx/compute/dtypes"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers/cosineschedule"
	"github.com/gomlx/seq2seq/pkg/ml/layers/seqattention"
	"github.com/gomlx/seq2seq/pkg/ml/train/optimizer"
	"github.com/gomlx/seq2seq/pkg/support/configerr"
	"github.com/pkg/errors"
)

// Hyperparameter keys for context configuration.
//
// The optimizer, learning rate and step clipping use the optimizers.ParamOptimizer,
// optimizers.ParamLearningRate and optimizers.ParamClipStepByValue keys. The learning rate
// schedule uses cosineschedule.ParamPeriodSteps and cosineschedule.ParamMinLearningRate.
const (
	ParamMode               = "s2s_mode"
	ParamShareVocab         = "s2s_share_vocab"
	ParamSrcVocabSize       = "s2s_src_vocab_size"
	ParamTgtVocabSize       = "s2s_tgt_vocab_size"
	ParamEmbeddingSize      = "s2s_embedding_size"
	ParamNumUnits           = "s2s_num_units"
	ParamEncodeCellType     = "s2s_encode_cell_type"
	ParamDecodeCellType     = "s2s_decode_cell_type"
	ParamEncodeLayerNum     = "s2s_encode_layer_num"
	ParamDecodeLayerNum     = "s2s_decode_layer_num"
	ParamKeepProb           = "s2s_keep_prob"
	ParamNumGPUs            = "s2s_num_gpus"
	ParamUseBidirection     = "s2s_use_bidirection"
	ParamAttentionOption    = "s2s_attention_option"
	ParamStartToken         = "s2s_start_token"
	ParamEndToken           = "s2s_end_token"
	ParamMaxInferenceLength = "s2s_max_inference_length"
	ParamBeamSize           = "s2s_beam_size"
	ParamDType              = "s2s_dtype"
)

// Mode in which the model graph is built.
//
//go:generate go tool enumer -type=Mode -trimprefix=Mode -transform=snake -values -text -json -yaml -output=gen_mode_enumer.go config.go
type Mode int

const (
	// ModeTrain enables dropout in the recurrent cells and builds the training graph.
	ModeTrain Mode = iota

	// ModeEval builds the training graph without dropout, to evaluate the loss.
	ModeEval

	// ModeInference builds the decoding graph.
	ModeInference
)

// Config holds the hyperparameters of a sequence-to-sequence model.
type Config struct {
	// Mode is one of "train", "eval" or "inference".
	Mode string

	ShareVocab   bool
	SrcVocabSize int
	TgtVocabSize int

	// EmbeddingSize of both the source and target embeddings.
	EmbeddingSize int

	// NumUnits of every recurrent cell and of the attention.
	NumUnits int

	EncodeCellType string
	DecodeCellType string
	EncodeLayerNum int
	DecodeLayerNum int

	// KeepProb of the dropout in the recurrent cells, only used in training mode.
	KeepProb float64

	// NumGPUs to spread the recurrent layers over. Device placement is recorded in the cells only.
	NumGPUs int

	// UseBidirection uses a bidirectional encoder, with EncodeLayerNum/2 layers in each direction.
	UseBidirection bool

	// AttentionOption is one of "luong", "scaled_luong", "bahdanau" or "normed_bahdanau".
	AttentionOption string

	Optimizer    string
	LearningRate float64

	// ClipStepByValue clips each value of the update steps to [-ClipStepByValue, ClipStepByValue].
	// If 0 there is no clipping.
	ClipStepByValue float64

	// SchedulePeriodSteps of the cosine annealing of the learning rate, from LearningRate down to
	// MinLearningRate. Negative values are fractions of the training steps (-1 for one period over
	// the whole training) and 0 keeps the learning rate constant.
	SchedulePeriodSteps int
	MinLearningRate     float64

	StartToken int
	EndToken   int

	// MaxInferenceLength is the number of tokens generated when decoding.
	MaxInferenceLength int

	// BeamSize used by the beam search decoder. If 1 decoding is greedy.
	BeamSize int

	DType dtypes.DType
}

// DefaultConfig returns the default configuration. Vocabulary sizes still need to be set.
func DefaultConfig() *Config {
	return &Config{
		Mode:               ModeTrain.String(),
		EmbeddingSize:      128,
		NumUnits:           128,
		EncodeCellType:     "lstm",
		DecodeCellType:     "lstm",
		EncodeLayerNum:     2,
		DecodeLayerNum:     2,
		KeepProb:           0.8,
		NumGPUs:            1,
		AttentionOption:    seqattention.TypeLuong.String(),
		Optimizer:          optimizer.NameAdam.String(),
		LearningRate:       optimizer.DefaultLearningRate,
		StartToken:         0,
		EndToken:           1,
		MaxInferenceLength: 20,
		BeamSize:           1,
		DType:              dtypes.Float32,
	}
}

// FromContext overwrites the configuration with the hyperparameters set in the context.
//
// Example usage:
//
//	ctx.SetParams(map[string]any{
//	    "s2s_src_vocab_size": 10000,
//	    "s2s_tgt_vocab_size": 10000,
//	    "s2s_attention_option": "bahdanau",
//	})
//	cfg, err := seq2seq.DefaultConfig().FromContext(ctx)
//
// It returns an error if the dtype is not a float.
func (c *Config) FromContext(ctx *context.Context) (*Config, error) {
	c.Mode = context.GetParamOr(ctx, ParamMode, c.Mode)
	c.ShareVocab = context.GetParamOr(ctx, ParamShareVocab, c.ShareVocab)
	c.SrcVocabSize = context.GetParamOr(ctx, ParamSrcVocabSize, c.SrcVocabSize)
	c.TgtVocabSize = context.GetParamOr(ctx, ParamTgtVocabSize, c.TgtVocabSize)
	c.EmbeddingSize = context.GetParamOr(ctx, ParamEmbeddingSize, c.EmbeddingSize)
	c.NumUnits = context.GetParamOr(ctx, ParamNumUnits, c.NumUnits)
	c.EncodeCellType = context.GetParamOr(ctx, ParamEncodeCellType, c.EncodeCellType)
	c.DecodeCellType = context.GetParamOr(ctx, ParamDecodeCellType, c.DecodeCellType)
	c.EncodeLayerNum = context.GetParamOr(ctx, ParamEncodeLayerNum, c.EncodeLayerNum)
	c.DecodeLayerNum = context.GetParamOr(ctx, ParamDecodeLayerNum, c.DecodeLayerNum)
	c.KeepProb = context.GetParamOr(ctx, ParamKeepProb, c.KeepProb)
	c.NumGPUs = context.GetParamOr(ctx, ParamNumGPUs, c.NumGPUs)
	c.UseBidirection = context.GetParamOr(ctx, ParamUseBidirection, c.UseBidirection)
	c.AttentionOption = context.GetParamOr(ctx, ParamAttentionOption, c.AttentionOption)
	c.Optimizer = context.GetParamOr(ctx, optimizers.ParamOptimizer, c.Optimizer)
	c.LearningRate = context.GetParamOr(ctx, optimizers.ParamLearningRate, c.LearningRate)
	c.ClipStepByValue = context.GetParamOr(ctx, optimizers.ParamClipStepByValue, c.ClipStepByValue)
	c.SchedulePeriodSteps = context.GetParamOr(ctx, cosineschedule.ParamPeriodSteps, c.SchedulePeriodSteps)
	c.MinLearningRate = context.GetParamOr(ctx, cosineschedule.ParamMinLearningRate, c.MinLearningRate)
	c.StartToken = context.GetParamOr(ctx, ParamStartToken, c.StartToken)
	c.EndToken = context.GetParamOr(ctx, ParamEndToken, c.EndToken)
	c.MaxInferenceLength = context.GetParamOr(ctx, ParamMaxInferenceLength, c.MaxInferenceLength)
	c.BeamSize = context.GetParamOr(ctx, ParamBeamSize, c.BeamSize)

	dtypeStr := context.GetParamOr(ctx, ParamDType, "")
	if dtypeStr != "" {
		dtype, err := computedtypes.DTypeString(dtypeStr)
		if err != nil || !dtype.IsFloat() {
			return nil, errors.Errorf("invalid hyperparameter value %s=%q", ParamDType, dtypeStr)
		}
		c.DType = dtype
	}
	return c, nil
}

// WithMode sets the mode: "train", "eval" or "inference".
func (c *Config) WithMode(mode Mode) *Config {
	c.Mode = mode.String()
	return c
}

// WithVocab sets the source and target vocabulary sizes, and whether they share the embedding table.
func (c *Config) WithVocab(srcVocabSize, tgtVocabSize int, share bool) *Config {
	c.SrcVocabSize = srcVocabSize
	c.TgtVocabSize = tgtVocabSize
	c.ShareVocab = share
	return c
}

// WithSizes sets the embedding size and the number of units of the cells.
func (c *Config) WithSizes(embeddingSize, numUnits int) *Config {
	c.EmbeddingSize = embeddingSize
	c.NumUnits = numUnits
	return c
}

// WithEncoder configures the encoder cells.
func (c *Config) WithEncoder(cellType string, numLayers int, bidirectional bool) *Config {
	c.EncodeCellType = cellType
	c.EncodeLayerNum = numLayers
	c.UseBidirection = bidirectional
	return c
}

// WithDecoder configures the decoder cells.
func (c *Config) WithDecoder(cellType string, numLayers int) *Config {
	c.DecodeCellType = cellType
	c.DecodeLayerNum = numLayers
	return c
}

// WithAttention sets the attention option.
func (c *Config) WithAttention(option string) *Config {
	c.AttentionOption = option
	return c
}

// WithKeepProb sets the dropout keep probability used in training.
func (c *Config) WithKeepProb(keepProb float64) *Config {
	c.KeepProb = keepProb
	return c
}

// WithOptimizer sets the optimizer, its learning rate and the clipping of the update steps.
func (c *Config) WithOptimizer(name string, learningRate, clipStepByValue float64) *Config {
	c.Optimizer = name
	c.LearningRate = learningRate
	c.ClipStepByValue = clipStepByValue
	return c
}

// WithSchedule sets the cosine annealing of the learning rate, see SchedulePeriodSteps.
func (c *Config) WithSchedule(periodSteps int, minLearningRate float64) *Config {
	c.SchedulePeriodSteps = periodSteps
	c.MinLearningRate = minLearningRate
	return c
}

// WithTokens sets the start and end tokens.
func (c *Config) WithTokens(start, end int) *Config {
	c.StartToken = start
	c.EndToken = end
	return c
}

// WithDecoding sets the number of tokens generated and the beam size used when decoding.
func (c *Config) WithDecoding(maxInferenceLength, beamSize int) *Config {
	c.MaxInferenceLength = maxInferenceLength
	c.BeamSize = beamSize
	return c
}

// Validate the configuration, except the mode, which is checked by New.
//
// Invalid attention options and vocabulary sharing with different sizes return a
// *configerr.ConfigurationError.
func (c *Config) Validate() error {
	if _, err := seqattention.ParseType(c.AttentionOption); err != nil {
		return err
	}
	if c.ShareVocab && c.SrcVocabSize != c.TgtVocabSize {
		return configerr.Newf(ParamShareVocab,
			"share embedding but different src/tgt vocab sizes %d vs. %d", c.SrcVocabSize, c.TgtVocabSize)
	}
	if c.SrcVocabSize <= 0 || c.TgtVocabSize <= 0 {
		return configerr.Newf(ParamSrcVocabSize, "vocab sizes must be positive, got %d and %d",
			c.SrcVocabSize, c.TgtVocabSize)
	}
	if c.EmbeddingSize <= 0 || c.NumUnits <= 0 {
		return configerr.Newf(ParamNumUnits, "embedding size and num units must be positive, got %d and %d",
			c.EmbeddingSize, c.NumUnits)
	}
	if c.EncodeLayerNum < 1 || c.DecodeLayerNum < 1 {
		return configerr.Newf(ParamEncodeLayerNum, "encoder and decoder require at least 1 layer, got %d and %d",
			c.EncodeLayerNum, c.DecodeLayerNum)
	}
	if c.UseBidirection && c.EncodeLayerNum < 2 {
		return configerr.Newf(ParamEncodeLayerNum, "bidirectional encoder requires at least 2 layers, got %d",
			c.EncodeLayerNum)
	}
	if c.BeamSize < 1 || c.MaxInferenceLength < 1 {
		return configerr.Newf(ParamBeamSize, "beam size and max inference length must be at least 1, got %d and %d",
			c.BeamSize, c.MaxInferenceLength)
	}
	if c.LearningRate <= 0 || c.ClipStepByValue < 0 {
		return configerr.Newf(optimizers.ParamLearningRate,
			"learning rate must be positive and step clipping non-negative, got %g and %g",
			c.LearningRate, c.ClipStepByValue)
	}
	if c.SchedulePeriodSteps != 0 && (c.MinLearningRate < 0 || c.MinLearningRate > c.LearningRate) {
		return configerr.Newf(cosineschedule.ParamMinLearningRate,
			"minimum learning rate must be in [0, %g], got %g", c.LearningRate, c.MinLearningRate)
	}
	for _, token := range []int{c.StartToken, c.EndToken} {
		if token < 0 || token >= c.TgtVocabSize {
			return configerr.Newf(ParamEndToken, "start/end tokens must be in the target vocabulary [0, %d), got %d",
				c.TgtVocabSize, token)
		}
	}
	return nil
}
