package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"golang.org/x/sync/errgroup"

	"docembed/internal/logger"
	"docembed/internal/metrics"
)

// LoaderConfig controls batching and parallelism.
type LoaderConfig struct {
	BatchSize int
	// NumWorkers sampling goroutines; zero samples on the caller's goroutine.
	NumWorkers int
	Shuffle    bool
	// MaxBatches caps batches per epoch; zero means no cap.
	MaxBatches int
	Seed       uint64
	// SampleRetries is how many other users are tried when a user record is
	// missing or has no likes before the sample is skipped.
	SampleRetries int
}

// Loader turns a GraphDataset into a stream of collated PairBatches. Its workers,
// and their connections, live as long as the Loader.
type Loader struct {
	ds      *GraphDataset
	cfg     LoaderConfig
	workers []*Worker
}

// NewLoader creates a loader. BatchSize defaults to 1.
func NewLoader(ds *GraphDataset, cfg LoaderConfig) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.NumWorkers < 0 {
		cfg.NumWorkers = 0
	}
	n := cfg.NumWorkers
	if n == 0 {
		n = 1
	}
	l := &Loader{ds: ds, cfg: cfg, workers: make([]*Worker, n)}
	for i := range l.workers {
		l.workers[i] = ds.NewWorker(i, cfg.Seed)
	}
	return l
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() *GraphDataset { return l.ds }

// NumBatches returns the number of batches one epoch yields before skips.
func (l *Loader) NumBatches() int {
	n := (l.ds.Len() + l.cfg.BatchSize - 1) / l.cfg.BatchSize
	if l.cfg.MaxBatches > 0 && n > l.cfg.MaxBatches {
		n = l.cfg.MaxBatches
	}
	return n
}

// Close closes every worker connection.
func (l *Loader) Close() error {
	var errs []error
	for _, w := range l.workers {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

// Epoch delivers the batches of one epoch to fn in order. A non-recoverable
// sampling error or an error from fn stops the epoch.
func (l *Loader) Epoch(ctx context.Context, epoch int, fn func(PairBatch) error) error {
	batches := l.plan(epoch)
	if len(batches) == 0 {
		return nil
	}
	if l.cfg.NumWorkers == 0 {
		w := l.workers[0]
		for _, indices := range batches {
			pb, ok, err := l.fetch(ctx, w, indices)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := fn(pb); err != nil {
				return err
			}
		}
		return nil
	}
	return l.parallel(ctx, batches, fn)
}

func (l *Loader) plan(epoch int) [][]int {
	order := make([]int, l.ds.Len())
	for i := range order {
		order[i] = i
	}
	if l.cfg.Shuffle {
		rng := rand.New(rand.NewPCG(l.cfg.Seed, uint64(epoch)))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	var batches [][]int
	for start := 0; start < len(order); start += l.cfg.BatchSize {
		end := min(start+l.cfg.BatchSize, len(order))
		batches = append(batches, order[start:end])
		if l.cfg.MaxBatches > 0 && len(batches) == l.cfg.MaxBatches {
			break
		}
	}
	return batches
}

type job struct {
	seq     int
	indices []int
}

type result struct {
	seq   int
	batch PairBatch
	ok    bool
}

func (l *Loader) parallel(ctx context.Context, batches [][]int, fn func(PairBatch) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job)
	results := make(chan result, len(l.workers))
	// bounds batches fetched ahead of the consumer
	inflight := make(chan struct{}, 2*len(l.workers))

	g.Go(func() error {
		defer close(jobs)
		for seq, indices := range batches {
			select {
			case inflight <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case jobs <- job{seq: seq, indices: indices}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for _, w := range l.workers {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for j := range jobs {
				pb, ok, err := l.fetch(gctx, w, j.indices)
				if err != nil {
					return err
				}
				select {
				case results <- result{seq: j.seq, batch: pb, ok: ok}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var consumeErr error
	pending := make(map[int]result)
	next := 0
	for r := range results {
		if consumeErr != nil {
			continue
		}
		pending[r.seq] = r
		for {
			cur, found := pending[next]
			if !found {
				break
			}
			delete(pending, next)
			next++
			<-inflight
			if !cur.ok {
				continue
			}
			if err := fn(cur.batch); err != nil {
				consumeErr = err
				cancel()
				break
			}
		}
	}

	err := g.Wait()
	if consumeErr != nil {
		return consumeErr
	}
	return err
}

// fetch samples every index of a batch on w and collates the result. Users that
// turn out to be missing or without likes are replaced by random users up to
// SampleRetries times, then dropped. ok is false when nothing was left.
func (l *Loader) fetch(ctx context.Context, w *Worker, indices []int) (PairBatch, bool, error) {
	samples := make([]Sample, 0, len(indices))
	for _, i := range indices {
		s, err := w.Sample(ctx, i)
		for attempt := 0; err != nil && Recoverable(err) && attempt < l.cfg.SampleRetries; attempt++ {
			logger.Warn("Resampling after data anomaly", "worker", w.ID(), "uid", l.ds.UserID(i), "err", err)
			i = w.RandomIndex()
			s, err = w.Sample(ctx, i)
		}
		if err != nil {
			if Recoverable(err) {
				metrics.SampleAnomalies.WithLabelValues("skipped").Inc()
				logger.Warn("Skipping sample", "worker", w.ID(), "err", err)
				continue
			}
			return PairBatch{}, false, fmt.Errorf("worker %d: %w", w.ID(), err)
		}
		samples = append(samples, s)
	}
	if len(samples) == 0 {
		return PairBatch{}, false, nil
	}
	pb, err := CollatePairs(samples)
	if err != nil {
		return PairBatch{}, false, err
	}
	return pb, true, nil
}
