// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"math/rand/v2"
	"slices"
	"sync/atomic"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// firstWordToken is the first token used for words: lower tokens are reserved for
// padding and the start and end tokens.
const firstWordToken = 3

// ReverseDataset generates batches of random sequences of tokens, where the target is the
// source reversed.
//
// Yield is safe for concurrent use, so it can be wrapped with datasets.Parallel.
type ReverseDataset struct {
	name                 string
	batchSize            int
	minLength, maxLength int
	vocabSize            int
	padToken             int32
	seed                 uint64

	// numBatches per epoch. If 0, the dataset loops forever.
	numBatches int64
	count      atomic.Int64
}

var _ train.Dataset = (*ReverseDataset)(nil)

// NewReverseDataset creates a dataset of sequences with lengths in [minLength, maxLength] and
// tokens in [3, vocabSize). Sequences are padded with padToken up to maxLength.
//
// It returns an error if the batch is empty, the lengths are not 1 <= minLength <= maxLength,
// or the vocabulary has no tokens for words.
func NewReverseDataset(name string, batchSize, minLength, maxLength, vocabSize, padToken int, seed uint64) (*ReverseDataset, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("dataset %q: batch size must be positive, got %d", name, batchSize)
	}
	if minLength < 1 || maxLength < minLength {
		return nil, errors.Errorf("dataset %q: invalid sequence lengths, min_length=%d and max_length=%d",
			name, minLength, maxLength)
	}
	if vocabSize <= firstWordToken {
		return nil, errors.Errorf("dataset %q: vocabulary size must be larger than %d, got %d",
			name, firstWordToken, vocabSize)
	}
	return &ReverseDataset{
		name:      name,
		batchSize: batchSize,
		minLength: minLength,
		maxLength: maxLength,
		vocabSize: vocabSize,
		padToken:  int32(padToken),
		seed:      seed,
	}, nil
}

// Epoch limits the dataset to numBatches batches per epoch.
func (ds *ReverseDataset) Epoch(numBatches int) *ReverseDataset {
	ds.numBatches = int64(numBatches)
	return ds
}

// Name implements train.Dataset.
func (ds *ReverseDataset) Name() string { return ds.name }

// Reset implements train.Dataset: it restarts the epoch with the same sequences.
func (ds *ReverseDataset) Reset() { ds.count.Store(0) }

// Yield implements train.Dataset.
//
// The inputs are the source tokens, source lengths, target tokens and target lengths. The
// target tokens are also returned as labels.
func (ds *ReverseDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	batchIdx := ds.count.Add(1) - 1
	if ds.numBatches > 0 && batchIdx >= ds.numBatches {
		return nil, nil, nil, io.EOF
	}
	source, sourceLengths, target := ds.Batch(batchIdx)
	tgt := tensors.FromValue(target)
	inputs = []*tensors.Tensor{
		tensors.FromValue(source), tensors.FromValue(sourceLengths),
		tgt, tensors.FromValue(slices.Clone(sourceLengths)),
	}
	labels = []*tensors.Tensor{tgt}
	return ds, inputs, labels, nil
}

// Batch returns the source sequences, their lengths and the reversed target sequences of the
// batch with the given index. The same index always returns the same batch.
func (ds *ReverseDataset) Batch(batchIdx int64) (source [][]int32, lengths []int32, target [][]int32) {
	rng := rand.New(rand.NewPCG(ds.seed, uint64(batchIdx)))
	source = make([][]int32, ds.batchSize)
	target = make([][]int32, ds.batchSize)
	lengths = make([]int32, ds.batchSize)
	for ii := range ds.batchSize {
		length := ds.minLength + rng.IntN(ds.maxLength-ds.minLength+1)
		lengths[ii] = int32(length)
		source[ii] = make([]int32, ds.maxLength)
		target[ii] = make([]int32, ds.maxLength)
		for jj := range ds.maxLength {
			if jj < length {
				source[ii][jj] = int32(firstWordToken + rng.IntN(ds.vocabSize-firstWordToken))
			} else {
				source[ii][jj] = ds.padToken
			}
			target[ii][jj] = ds.padToken
		}
		for jj := range length {
			target[ii][jj] = source[ii][length-1-jj]
		}
	}
	return
}
