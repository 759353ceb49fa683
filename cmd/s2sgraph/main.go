// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// s2sgraph builds the sequence-to-sequence model graphs, trains it on a toy task (reversing
// random sequences of tokens) and decodes a few samples.
//
// The hyperparameters are set with -set, e.g.:
//
//	$ s2sgraph -set="s2s_attention_option=bahdanau;s2s_use_bidirection=true;train_steps=3000"
//
// The learning rate follows a cosine schedule over the training steps, disabled with
// -set="cosine_schedule_steps=0", and each update step is clipped by "clip_step_by_value".
//
// Use -vars to list the model variables, and -checkpoint to save (and continue) the training.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers/cosineschedule"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/seq2seq/pkg/ml/model/seq2seq"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagCheckpoint = flag.String("checkpoint", "", "Directory to save and load checkpoints from. If left empty, no checkpoints are created.")
	flagVars       = flag.Bool("vars", false, "Lists the model variables after training.")
	flagNumSamples = flag.Int("samples", 8, "Number of samples to decode after training.")
	flagPlain      = flag.Bool("plain", false, "Disable colors in the output.")
	flagVerbosity  = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
)

// ParamsExcludedFromLoading are parameters not loaded from a checkpoint, so they can be changed when
// continuing a training.
var ParamsExcludedFromLoading = []string{"train_steps", "num_checkpoints", "batch_size", seq2seq.ParamMode}

// CreateDefaultContext returns a context with the default hyperparameters for the toy task.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		"train_steps":     2000,
		"num_checkpoints": 3,
		"batch_size":      32,
		"min_length":      3,
		"max_length":      8,

		seq2seq.ParamSrcVocabSize:       20,
		seq2seq.ParamTgtVocabSize:       20,
		seq2seq.ParamShareVocab:         true,
		seq2seq.ParamEmbeddingSize:      32,
		seq2seq.ParamNumUnits:           64,
		seq2seq.ParamEncodeCellType:     "lstm",
		seq2seq.ParamDecodeCellType:     "lstm",
		seq2seq.ParamEncodeLayerNum:     2,
		seq2seq.ParamDecodeLayerNum:     2,
		seq2seq.ParamUseBidirection:     false,
		seq2seq.ParamAttentionOption:    "luong",
		seq2seq.ParamKeepProb:           0.9,
		seq2seq.ParamStartToken:         1,
		seq2seq.ParamEndToken:           2,
		seq2seq.ParamMaxInferenceLength: 10,
		seq2seq.ParamBeamSize:           3,

		optimizers.ParamOptimizer:           "adam",
		optimizers.ParamLearningRate:        0.005,
		optimizers.ParamClipStepByValue:     0.05,
		cosineschedule.ParamPeriodSteps:     -1, // One period over train_steps.
		cosineschedule.ParamMinLearningRate: 1e-4,
	})
	return ctx
}

func main() {
	ctx := CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "set")
	klog.InitFlags(nil)
	flag.Parse()
	if *flagPlain {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	err := exceptions.TryCatch[error](func() { run(ctx, paramsSet) })
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

func run(ctx *context.Context, paramsSet []string) {
	backend := backends.MustNew()
	if *flagVerbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}

	var checkpoint *checkpoints.Handler
	if *flagCheckpoint != "" {
		checkpoint = must.M1(checkpoints.Build(ctx).
			Dir(*flagCheckpoint).
			Keep(context.GetParamOr(ctx, "num_checkpoints", 3)).
			ExcludeParams(append(paramsSet, ParamsExcludedFromLoading...)...).
			Done())
		fmt.Printf("Checkpoint: %q\n", checkpoint.Dir())
	}
	if *flagVerbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
	}

	ctx.SetParam(seq2seq.ParamMode, seq2seq.ModeTrain.String())
	model := must.M1(seq2seq.NewFromContext(ctx))
	cfg := model.Config()

	batchSize := context.GetParamOr(ctx, "batch_size", 32)
	minLength := context.GetParamOr(ctx, "min_length", 3)
	maxLength := context.GetParamOr(ctx, "max_length", 8)
	trainDS := datasets.Parallel(
		must.M1(NewReverseDataset("train", batchSize, minLength, maxLength, cfg.SrcVocabSize, cfg.EndToken, 1)))
	evalDS := must.M1(NewReverseDataset("eval", batchSize, minLength, maxLength, cfg.SrcVocabSize, cfg.EndToken, 2)).
		Epoch(10)

	accuracyFn := func(_ *context.Context, _, predictions []*Node) *Node {
		return seq2seq.TokenAccuracy(predictions[0], predictions[1], predictions[2])
	}
	meanAccuracy := metrics.NewMeanMetric("Mean Token Accuracy", "#acc", metrics.AccuracyMetricType, accuracyFn, nil)
	movingAccuracy := metrics.NewExponentialMovingAverageMetric("Moving Average Token Accuracy", "~acc",
		metrics.AccuracyMetricType, accuracyFn, nil, 0.01)

	modelCtx := ctx.In("model")
	trainer := train.NewTrainer(backend, modelCtx, model.ModelFn(), seq2seq.LossFn,
		model.Optimizer(modelCtx),
		[]metrics.Interface{movingAccuracy}, // trainMetrics
		[]metrics.Interface{meanAccuracy})   // evalMetrics
	loop := train.NewLoop(trainer)
	if *flagVerbosity >= 0 {
		commandline.AttachProgressBar(loop)
	}
	if checkpoint != nil {
		train.PeriodicCallback(loop, time.Minute, true, "saving checkpoint", 100,
			func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return checkpoint.Save()
			})
	}

	numTrainSteps := context.GetParamOr(ctx, "train_steps", 0)
	globalStep := int(optimizers.GetGlobalStep(modelCtx))
	if globalStep > 0 {
		trainer.SetContext(modelCtx.Reuse())
	}
	if globalStep < numTrainSteps {
		_ = must.M1(loop.RunSteps(trainDS, numTrainSteps-globalStep))
		if *flagVerbosity >= 1 {
			fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
				loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())
		}
	} else {
		fmt.Printf("\t - target train_steps=%d already reached.\n", numTrainSteps)
	}
	must.M(commandline.ReportEval(trainer, evalDS))

	if *flagVars {
		PrintVariables(modelCtx)
	}
	if *flagNumSamples > 0 {
		decodeSamples(backend, modelCtx, cfg, *flagNumSamples, minLength, maxLength)
	}
}

// decodeSamples decodes a batch of new sequences with the model in inference mode, and prints them.
func decodeSamples(backend backends.Backend, ctx *context.Context, trainCfg *seq2seq.Config, numSamples, minLength, maxLength int) {
	inferenceCfg := *trainCfg
	inferenceCfg.WithMode(seq2seq.ModeInference)
	inferenceCfg.MaxInferenceLength = max(inferenceCfg.MaxInferenceLength, maxLength+1)
	model := must.M1(seq2seq.New(&inferenceCfg))

	ds := must.M1(NewReverseDataset("samples", numSamples, minLength, maxLength, trainCfg.SrcVocabSize, trainCfg.EndToken, 3))
	source, lengths, target := ds.Batch(0)
	exec := context.MustNewExec(backend, ctx.Reuse(), func(ctx *context.Context, src, srcLengths *Node) *Node {
		return model.Decode(ctx, src, srcLengths)
	})
	predictions := exec.MustExec(source, lengths)[0]
	PrintSamples(source, lengths, target, predictions.Value().([][]int32), int32(trainCfg.EndToken))
}
