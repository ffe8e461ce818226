package dataset

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"docembed/internal/domain"
	"docembed/internal/logger"
	"docembed/internal/metrics"
	"docembed/internal/util"
)

// Worker samples from a GraphDataset on a single goroutine. It owns its random
// source and, once opened, its GraphSource connection. A Worker must not be
// used concurrently.
type Worker struct {
	id   int
	ds   *GraphDataset
	rng  *rand.Rand
	src  domain.GraphSource
	docs *lru.Cache[domain.EntityID, domain.Document]
}

// NewWorker creates a worker. No connection is opened until first use or Init.
func (d *GraphDataset) NewWorker(id int, seed uint64) *Worker {
	w := &Worker{
		id:  id,
		ds:  d,
		rng: rand.New(rand.NewPCG(seed, uint64(id)+1)),
	}
	if d.opts.DocumentCacheSize > 0 {
		// only fails for a non-positive size
		w.docs, _ = lru.New[domain.EntityID, domain.Document](d.opts.DocumentCacheSize)
	}
	return w
}

// ID returns the worker number.
func (w *Worker) ID() int { return w.id }

// Init opens the worker's connection eagerly. Calling it is optional; sampling
// opens the connection on first use.
func (w *Worker) Init(ctx context.Context) error {
	_, err := w.source(ctx)
	return err
}

func (w *Worker) source(ctx context.Context) (domain.GraphSource, error) {
	if w.src != nil {
		return w.src, nil
	}
	src, err := util.RetryWithContext(ctx, w.ds.opts.ConnectTries, w.ds.opts.ConnectBackoff, func(ctx context.Context) (domain.GraphSource, error) {
		return w.ds.connect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("worker %d: connect graph source: %w", w.id, err)
	}
	logger.Debug("Worker connected to graph source", "worker", w.id, "split", w.ds.split())
	w.src = src
	return src, nil
}

// Close releases the worker's connection, if any.
func (w *Worker) Close() error {
	if w.src == nil {
		return nil
	}
	err := w.src.Close()
	w.src = nil
	return err
}

// RandomIndex draws a user index uniformly from the dataset.
func (w *Worker) RandomIndex() int { return w.rng.IntN(w.ds.Len()) }

// Sample draws a label uniformly from {+1, -1} and builds the pair for user i.
func (w *Worker) Sample(ctx context.Context, i int) (Sample, error) {
	label := Negative
	if w.rng.IntN(2) == 1 {
		label = Positive
	}
	return w.SampleWithLabel(ctx, i, label)
}

// SampleWithLabel builds the pair for user i with a fixed label. docA is a
// uniform draw from the user's likes. For a positive label docB is an
// independent draw from the same likes; for a negative label docB is a uniform
// draw from every document in the snapshot and may happen to be liked.
func (w *Worker) SampleWithLabel(ctx context.Context, i int, label float64) (Sample, error) {
	if i < 0 || i >= w.ds.Len() {
		return Sample{}, fmt.Errorf("user index %d out of range [0, %d)", i, w.ds.Len())
	}
	user, err := w.user(ctx, w.ds.users[i])
	if err != nil {
		return Sample{}, err
	}

	a := user.Likes[w.rng.IntN(len(user.Likes))]
	var b domain.Document
	if label > 0 {
		b = user.Likes[w.rng.IntN(len(user.Likes))]
	} else {
		pool := w.ds.snapshot.Documents
		b, err = w.document(ctx, pool[w.rng.IntN(len(pool))])
		if err != nil {
			return Sample{}, err
		}
	}

	encA, err := w.ds.encoder.Encode(a)
	if err != nil {
		return Sample{}, err
	}
	encB, err := w.ds.encoder.Encode(b)
	if err != nil {
		return Sample{}, err
	}
	metrics.SamplesTotal.WithLabelValues(w.ds.split(), labelName(label)).Inc()
	return Sample{A: encA, B: encB, Label: label}, nil
}

func (w *Worker) user(ctx context.Context, id domain.EntityID) (domain.User, error) {
	src, err := w.source(ctx)
	if err != nil {
		return domain.User{}, err
	}
	start := time.Now()
	records, err := src.LookupUser(ctx, id)
	metrics.ObserveQuery("lookup_user", start)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup user %q: %w", id, err)
	}
	switch {
	case len(records) == 0:
		metrics.SampleAnomalies.WithLabelValues("missing_user").Inc()
		return domain.User{}, &domain.MissingUserError{ID: id}
	case len(records) > 1:
		metrics.SampleAnomalies.WithLabelValues("duplicate_user").Inc()
		logger.Warn("Duplicate user records, using the first", "uid", id, "records", len(records))
	}
	user := records[0]
	if len(user.Likes) == 0 {
		metrics.SampleAnomalies.WithLabelValues("no_likes").Inc()
		return domain.User{}, fmt.Errorf("user %q: %w", id, domain.ErrNoLikes)
	}
	return user, nil
}

func (w *Worker) document(ctx context.Context, id domain.EntityID) (domain.Document, error) {
	if w.docs != nil {
		if doc, ok := w.docs.Get(id); ok {
			return doc, nil
		}
	}
	src, err := w.source(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	start := time.Now()
	doc, err := src.Document(ctx, id)
	metrics.ObserveQuery("document", start)
	if err != nil {
		return domain.Document{}, fmt.Errorf("fetch document %q: %w", id, err)
	}
	if w.docs != nil {
		w.docs.Add(id, doc)
	}
	return doc, nil
}
