// Package service wires the graph source, datasets, model, checkpoints and
// vector store into the operations the CLI exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"docembed/internal/checkpoint"
	"docembed/internal/dataset"
	"docembed/internal/domain"
	"docembed/internal/features"
	"docembed/internal/logger"
	"docembed/internal/model"
	"docembed/internal/partition"
	"docembed/internal/train"
	"docembed/internal/util"
)

// exportBatchSize is how many documents are embedded per forward pass.
const exportBatchSize = 256

// Options configure a TrainingService.
type Options struct {
	MinLikes int
	Seed     uint64
	// TagTableSize is shared by the encoder and the tag embedding table.
	TagTableSize      int
	Dataset           dataset.Options
	Loader            dataset.LoaderConfig
	ValidationBatches int
	Trainer           train.Config
	// Resume is a checkpoint key to restore before training or export.
	Resume string
}

// SplitStats counts the active users per split.
type SplitStats struct {
	Documents  int
	Users      int
	Training   int
	Validation int
}

// TrainingService owns the snapshot and the model of one run.
type TrainingService struct {
	connect     domain.Connector
	checkpoints checkpoint.Store
	store       domain.EmbeddingStore
	opts        Options

	snapshot   *dataset.Snapshot
	model      *model.Model
	runID      string
	startEpoch int
}

// NewTrainingService creates a service. checkpoints and store may be nil when
// the corresponding operations are not used.
func NewTrainingService(connect domain.Connector, checkpoints checkpoint.Store, store domain.EmbeddingStore, opts Options) *TrainingService {
	if opts.TagTableSize <= 0 {
		opts.TagTableSize = features.TagTableSize
	}
	opts.Dataset.TagTableSize = opts.TagTableSize
	return &TrainingService{connect: connect, checkpoints: checkpoints, store: store, opts: opts}
}

// Prepare loads the snapshot and builds the model, restoring it from
// opts.Resume when set.
func (s *TrainingService) Prepare(ctx context.Context) error {
	src, err := s.connect(ctx)
	if err != nil {
		return fmt.Errorf("connect graph source: %w", err)
	}
	defer src.Close()

	snapshot, err := dataset.LoadSnapshot(ctx, src, s.opts.MinLikes)
	if err != nil {
		return err
	}
	s.snapshot = snapshot

	if s.opts.Resume != "" {
		return s.resume(ctx)
	}
	s.model, err = model.New(snapshot.Index.Len(), s.opts.TagTableSize, s.opts.Seed)
	if err != nil {
		return err
	}
	s.runID, err = util.NewRunID(time.Now())
	if err != nil {
		return err
	}
	s.startEpoch = 0
	logger.Info("Prepared new run", "run", s.runID, "docs", snapshot.Index.Len())
	return nil
}

func (s *TrainingService) resume(ctx context.Context) error {
	if s.checkpoints == nil {
		return errors.New("resume requested but no checkpoint store is configured")
	}
	cp, err := s.checkpoints.Load(ctx, s.opts.Resume)
	if err != nil {
		return fmt.Errorf("load checkpoint %s: %w", s.opts.Resume, err)
	}
	m, err := model.FromState(cp.Model)
	if err != nil {
		return fmt.Errorf("restore checkpoint %s: %w", s.opts.Resume, err)
	}
	if m.NumDocs() != s.snapshot.Index.Len() {
		return fmt.Errorf("checkpoint %s has %d documents, graph has %d", s.opts.Resume, m.NumDocs(), s.snapshot.Index.Len())
	}
	if m.TagTableSize() != s.opts.TagTableSize {
		return fmt.Errorf("checkpoint %s has %d tag buckets, configured %d", s.opts.Resume, m.TagTableSize(), s.opts.TagTableSize)
	}
	s.model = m
	s.runID = cp.RunID
	s.startEpoch = cp.Epoch + 1
	logger.Info("Resumed run", "run", s.runID, "epoch", cp.Epoch, "loss", cp.TrainLoss)
	return nil
}

func (s *TrainingService) Snapshot() *dataset.Snapshot { return s.snapshot }

func (s *TrainingService) Model() *model.Model { return s.model }

func (s *TrainingService) RunID() string { return s.runID }

// StartEpoch is the first epoch Train will run.
func (s *TrainingService) StartEpoch() int { return s.startEpoch }

func (s *TrainingService) prepared() error {
	if s.snapshot == nil || s.model == nil {
		return errors.New("service is not prepared")
	}
	return nil
}

// SplitStats reports how the snapshot's users divide between the splits.
func (s *TrainingService) SplitStats() (SplitStats, error) {
	if s.snapshot == nil {
		return SplitStats{}, errors.New("service is not prepared")
	}
	trainIDs, validationIDs := partition.Split(s.snapshot.Users)
	return SplitStats{
		Documents:  len(s.snapshot.Documents),
		Users:      len(s.snapshot.Users),
		Training:   len(trainIDs),
		Validation: len(validationIDs),
	}, nil
}

// Train runs the remaining epochs, saving a checkpoint after each one when a
// checkpoint store is configured.
func (s *TrainingService) Train(ctx context.Context, reporter train.Reporter) error {
	if err := s.prepared(); err != nil {
		return err
	}
	trainSet := dataset.New(s.snapshot, true, s.connect, s.opts.Dataset)
	if trainSet.Len() == 0 {
		return errors.New("no users in the training split")
	}
	trainCfg := s.opts.Loader
	trainCfg.Shuffle = true
	trainLoader := dataset.NewLoader(trainSet, trainCfg)
	defer trainLoader.Close()

	var validation train.Batches
	valSet := dataset.New(s.snapshot, false, s.connect, s.opts.Dataset)
	if valSet.Len() > 0 {
		valCfg := s.opts.Loader
		valCfg.Shuffle = false
		valCfg.MaxBatches = s.opts.ValidationBatches
		valCfg.Seed = s.opts.Loader.Seed + 1
		valLoader := dataset.NewLoader(valSet, valCfg)
		defer valLoader.Close()
		validation = valLoader
	} else {
		logger.Warn("Validation split is empty, skipping validation")
	}

	trainer, err := train.New(s.model, s.opts.Trainer, reporter)
	if err != nil {
		return err
	}
	logger.Info("Training", "run", s.runID, "train_users", trainSet.Len(), "validation_users", valSet.Len(),
		"start_epoch", s.startEpoch)

	return trainer.Run(ctx, s.startEpoch, trainLoader, validation, func(r train.EpochResult) error {
		s.startEpoch = r.Epoch + 1
		return s.saveCheckpoint(ctx, r)
	})
}

func (s *TrainingService) saveCheckpoint(ctx context.Context, r train.EpochResult) error {
	if s.checkpoints == nil {
		return nil
	}
	cp := &checkpoint.Checkpoint{
		RunID:         s.runID,
		Epoch:         r.Epoch,
		CreatedAt:     time.Now().UTC(),
		TrainLoss:     r.Train.Loss,
		TrainAccuracy: r.Train.Accuracy,
		Model:         s.model.State(),
	}
	if r.Validation != nil {
		cp.ValidationLoss = &r.Validation.Loss
		cp.ValidationAccuracy = &r.Validation.Accuracy
	}
	if err := checkpoint.Write(ctx, s.checkpoints, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	logger.Debug("Saved checkpoint", "key", checkpoint.EpochKey(s.runID, r.Epoch))
	return nil
}

// ExportEmbeddings embeds every snapshot document, L2-normalised, and replaces
// the vector store contents with them. It returns the number of documents
// written.
func (s *TrainingService) ExportEmbeddings(ctx context.Context) (int, error) {
	if err := s.prepared(); err != nil {
		return 0, err
	}
	if s.store == nil {
		return 0, errors.New("no vector store configured")
	}
	src, err := s.connect(ctx)
	if err != nil {
		return 0, fmt.Errorf("connect graph source: %w", err)
	}
	defer src.Close()

	if err := s.store.Init(ctx, model.OutputDim); err != nil {
		return 0, fmt.Errorf("init vector store: %w", err)
	}
	if err := s.store.Clear(ctx); err != nil {
		return 0, fmt.Errorf("clear vector store: %w", err)
	}

	encoder := features.NewEncoder(s.snapshot.Index, s.opts.TagTableSize)
	written := 0
	for chunk := range slices.Chunk(s.snapshot.Documents, exportBatchSize) {
		docs := make([]domain.Document, len(chunk))
		for i, id := range chunk {
			if docs[i], err = src.Document(ctx, id); err != nil {
				return written, err
			}
		}
		vectors, err := s.embed(encoder, docs)
		if err != nil {
			return written, err
		}
		if err := s.store.Upsert(ctx, chunk, vectors); err != nil {
			return written, fmt.Errorf("upsert embeddings: %w", err)
		}
		written += len(chunk)
		logger.Debug("Exported embeddings", "done", written, "total", len(s.snapshot.Documents))
	}
	logger.Info("Exported embeddings", "docs", written)
	return written, nil
}

// Similar returns up to topK documents nearest to id, id itself excluded.
func (s *TrainingService) Similar(ctx context.Context, id domain.EntityID, topK int) ([]domain.SearchResult, error) {
	if err := s.prepared(); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, errors.New("no vector store configured")
	}
	if topK <= 0 {
		topK = 5
	}
	src, err := s.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect graph source: %w", err)
	}
	defer src.Close()

	doc, err := src.Document(ctx, id)
	if err != nil {
		return nil, err
	}
	vectors, err := s.embed(features.NewEncoder(s.snapshot.Index, s.opts.TagTableSize), []domain.Document{doc})
	if err != nil {
		return nil, err
	}
	found, err := s.store.Search(ctx, vectors[0], topK+1)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SearchResult, 0, topK)
	for _, r := range found {
		if r.DocumentID == id {
			continue
		}
		out = append(out, r)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func (s *TrainingService) embed(encoder *features.Encoder, docs []domain.Document) ([][]float64, error) {
	encoded := make([]features.EncodedDocument, len(docs))
	for i, doc := range docs {
		var err error
		if encoded[i], err = encoder.Encode(doc); err != nil {
			return nil, err
		}
	}
	batch, err := features.Collate(encoded)
	if err != nil {
		return nil, err
	}
	out, err := s.model.Embed(batch)
	if err != nil {
		return nil, err
	}
	model.Normalize(out)
	rows, _ := out.Dims()
	vectors := make([][]float64, rows)
	for i := range vectors {
		vectors[i] = append([]float64(nil), out.RawRowView(i)...)
	}
	return vectors, nil
}
