// Package train runs the epoch/batch loop over paired batches: both towers,
// cosine embedding loss, backward pass and an SGD step per batch.
package train

import (
	"context"
	"fmt"
	"math"
	"time"

	"docembed/internal/dataset"
	"docembed/internal/domain"
	"docembed/internal/logger"
	"docembed/internal/metrics"
	"docembed/internal/model"
)

const (
	DeviceCPU = "cpu"

	PhaseTrain      = "train"
	PhaseValidation = "validation"
)

// Config holds training hyperparameters.
type Config struct {
	Device       string
	MaxEpochs    int
	LearningRate float64
	Margin       float64
	// LogEvery logs running loss every n batches; zero disables it.
	LogEvery int
}

// Batches is a source of paired batches, one pass per epoch.
type Batches interface {
	Epoch(ctx context.Context, epoch int, fn func(dataset.PairBatch) error) error
	NumBatches() int
}

// Progress is the running state of one phase of an epoch.
type Progress struct {
	Phase      string
	Epoch      int
	MaxEpochs  int
	Batch      int
	NumBatches int
	Samples    int
	// Loss is the mean of the batch losses seen so far.
	Loss float64
	// Accuracy is the fraction of samples whose rounded similarity has the sign of the label.
	Accuracy float64
}

// Reporter receives progress after every batch.
type Reporter interface {
	Report(Progress)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Progress)

func (f ReporterFunc) Report(p Progress) { f(p) }

// EpochResult summarises a finished epoch.
type EpochResult struct {
	Epoch      int
	Train      Progress
	Validation *Progress
}

// StepResult is the outcome of a single batch.
type StepResult struct {
	Loss    float64
	Matches int
	Samples int
}

type Trainer struct {
	model    *model.Model
	grads    *model.Gradients
	opt      model.SGD
	loss     model.CosineEmbeddingLoss
	cfg      Config
	reporter Reporter
}

// New creates a trainer for m. reporter may be nil.
func New(m *model.Model, cfg Config, reporter Reporter) (*Trainer, error) {
	if cfg.Device == "" {
		cfg.Device = DeviceCPU
	}
	if cfg.Device != DeviceCPU {
		return nil, fmt.Errorf("unsupported device %q, only %q is available", cfg.Device, DeviceCPU)
	}
	if cfg.MaxEpochs <= 0 {
		return nil, fmt.Errorf("max epochs must be positive, got %d", cfg.MaxEpochs)
	}
	return &Trainer{
		model:    m,
		grads:    m.NewGradients(),
		opt:      model.SGD{LR: cfg.LearningRate},
		loss:     model.CosineEmbeddingLoss{Margin: cfg.Margin},
		cfg:      cfg,
		reporter: reporter,
	}, nil
}

// Model returns the model being trained.
func (t *Trainer) Model() *model.Model { return t.model }

// Step trains on one batch.
func (t *Trainer) Step(pb dataset.PairBatch) (StepResult, error) {
	start := time.Now()
	defer func() { metrics.BatchDuration.Observe(time.Since(start).Seconds()) }()

	vecA, traceA, err := t.model.Forward(pb.A)
	if err != nil {
		return StepResult{}, fmt.Errorf("forward A: %w", err)
	}
	vecB, traceB, err := t.model.Forward(pb.B)
	if err != nil {
		return StepResult{}, fmt.Errorf("forward B: %w", err)
	}
	res, err := t.loss.Compute(vecA, vecB, pb.Labels)
	if err != nil {
		return StepResult{}, err
	}
	if math.IsNaN(res.Loss) || math.IsInf(res.Loss, 0) {
		return StepResult{}, fmt.Errorf("loss is %v: %w", res.Loss, domain.ErrDiverged)
	}

	t.grads.Zero()
	t.model.Backward(traceA, res.DA, t.grads)
	t.model.Backward(traceB, res.DB, t.grads)
	t.opt.Step(t.model, t.grads)

	return StepResult{
		Loss:    res.Loss,
		Matches: model.CountMatches(vecA, vecB, pb.Labels),
		Samples: pb.Size(),
	}, nil
}

// Evaluate scores one batch without touching the weights.
func (t *Trainer) Evaluate(pb dataset.PairBatch) (StepResult, error) {
	vecA, err := t.model.Embed(pb.A)
	if err != nil {
		return StepResult{}, fmt.Errorf("forward A: %w", err)
	}
	vecB, err := t.model.Embed(pb.B)
	if err != nil {
		return StepResult{}, fmt.Errorf("forward B: %w", err)
	}
	res, err := t.loss.Compute(vecA, vecB, pb.Labels)
	if err != nil {
		return StepResult{}, err
	}
	if math.IsNaN(res.Loss) || math.IsInf(res.Loss, 0) {
		return StepResult{}, fmt.Errorf("validation loss is %v: %w", res.Loss, domain.ErrDiverged)
	}
	return StepResult{
		Loss:    res.Loss,
		Matches: model.CountMatches(vecA, vecB, pb.Labels),
		Samples: pb.Size(),
	}, nil
}

// RunEpoch makes one pass over batches. Weights are updated only in the
// training phase.
func (t *Trainer) RunEpoch(ctx context.Context, epoch int, phase string, batches Batches) (Progress, error) {
	p := Progress{
		Phase:      phase,
		Epoch:      epoch,
		MaxEpochs:  t.cfg.MaxEpochs,
		NumBatches: batches.NumBatches(),
	}
	var lossSum float64
	var matches int
	err := batches.Epoch(ctx, epoch, func(pb dataset.PairBatch) error {
		var res StepResult
		var err error
		if phase == PhaseTrain {
			res, err = t.Step(pb)
		} else {
			res, err = t.Evaluate(pb)
		}
		if err != nil {
			return fmt.Errorf("epoch %d batch %d: %w", epoch, p.Batch, err)
		}
		p.Batch++
		p.Samples += res.Samples
		lossSum += res.Loss
		matches += res.Matches
		p.Loss = lossSum / float64(p.Batch)
		p.Accuracy = float64(matches) / float64(p.Samples)

		metrics.RunningLoss.WithLabelValues(phase).Set(p.Loss)
		metrics.RunningAccuracy.WithLabelValues(phase).Set(p.Accuracy)
		if t.reporter != nil {
			t.reporter.Report(p)
		}
		if t.cfg.LogEvery > 0 && p.Batch%t.cfg.LogEvery == 0 {
			logger.Info("Running loss", "phase", phase, "epoch", epoch, "batch", p.Batch, "loss", p.Loss, "accuracy", p.Accuracy)
		}
		return nil
	})
	return p, err
}

// Run trains from startEpoch until MaxEpochs, validating after every epoch when
// validation is not nil. onEpoch, if set, is called after each epoch and may
// stop training by returning an error.
func (t *Trainer) Run(ctx context.Context, startEpoch int, training, validation Batches, onEpoch func(EpochResult) error) error {
	for epoch := startEpoch; epoch < t.cfg.MaxEpochs; epoch++ {
		metrics.Epoch.Set(float64(epoch))
		logger.Info("Starting epoch", "epoch", epoch, "batches", training.NumBatches())

		trained, err := t.RunEpoch(ctx, epoch, PhaseTrain, training)
		if err != nil {
			return err
		}
		result := EpochResult{Epoch: epoch, Train: trained}

		if validation != nil {
			validated, err := t.RunEpoch(ctx, epoch, PhaseValidation, validation)
			if err != nil {
				return err
			}
			result.Validation = &validated
			logger.Info("Finished epoch", "epoch", epoch,
				"loss", trained.Loss, "accuracy", trained.Accuracy,
				"val_loss", validated.Loss, "val_accuracy", validated.Accuracy)
		} else {
			logger.Info("Finished epoch", "epoch", epoch, "loss", trained.Loss, "accuracy", trained.Accuracy)
		}

		if onEpoch != nil {
			if err := onEpoch(result); err != nil {
				return err
			}
		}
	}
	return nil
}
