// Package checkpoint persists model state between epochs and runs.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docembed/internal/model"
)

var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the model state after an epoch together with the numbers that
// describe it.
type Checkpoint struct {
	RunID              string      `json:"run_id"`
	Epoch              int         `json:"epoch"`
	CreatedAt          time.Time   `json:"created_at"`
	TrainLoss          float64     `json:"train_loss"`
	TrainAccuracy      float64     `json:"train_accuracy"`
	ValidationLoss     *float64    `json:"validation_loss,omitempty"`
	ValidationAccuracy *float64    `json:"validation_accuracy,omitempty"`
	Model              model.State `json:"model"`
}

// Store reads and writes checkpoints by key.
type Store interface {
	Save(ctx context.Context, key string, cp *Checkpoint) error
	Load(ctx context.Context, key string) (*Checkpoint, error)
}

// EpochKey names the checkpoint of one epoch of a run.
func EpochKey(runID string, epoch int) string {
	return fmt.Sprintf("%s/epoch-%04d", runID, epoch)
}

// LatestKey names the most recent checkpoint of a run.
func LatestKey(runID string) string {
	return runID + "/latest"
}

// Write saves cp under its epoch key and as the run's latest checkpoint.
func Write(ctx context.Context, store Store, cp *Checkpoint) error {
	if err := store.Save(ctx, EpochKey(cp.RunID, cp.Epoch), cp); err != nil {
		return err
	}
	return store.Save(ctx, LatestKey(cp.RunID), cp)
}
