package dataset

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docembed/internal/domain"
	"docembed/internal/graphsource/memory"
)

// wideGraph has 10 documents and n users, each liking two neighbouring documents.
func wideGraph(t *testing.T, n int) (*memory.Source, []domain.EntityID, []domain.EntityID) {
	t.Helper()
	var docs []domain.Document
	var docIDs []domain.EntityID
	for i := 0; i < 10; i++ {
		id := domain.EntityID(fmt.Sprintf("d%d", i))
		docs = append(docs, domain.Document{ID: id, WordCount: i})
		docIDs = append(docIDs, id)
	}
	var users []memory.UserRecord
	var userIDs []domain.EntityID
	for i := 0; i < n; i++ {
		id := domain.EntityID(fmt.Sprintf("u%d", i))
		users = append(users, memory.UserRecord{ID: id, Likes: []domain.EntityID{docIDs[i%10], docIDs[(i+1)%10]}})
		userIDs = append(userIDs, id)
	}
	src, err := memory.New(docs, users)
	require.NoError(t, err)
	return src, docIDs, userIDs
}

func trainingSet(t *testing.T, src *memory.Source, docs, users []domain.EntityID) *GraphDataset {
	t.Helper()
	snap, err := NewSnapshot(docs, users)
	require.NoError(t, err)
	return New(snap, true, src.Connector(), Options{DocumentCacheSize: 4})
}

func collect(t *testing.T, l *Loader, epoch int) []PairBatch {
	t.Helper()
	var got []PairBatch
	err := l.Epoch(context.Background(), epoch, func(pb PairBatch) error {
		got = append(got, pb)
		return nil
	})
	require.NoError(t, err)
	return got
}

func TestLoaderDeliversEveryUser(t *testing.T) {
	src, docs, users := wideGraph(t, 300)
	ds := trainingSet(t, src, docs, users)
	l := NewLoader(ds, LoaderConfig{BatchSize: 8, NumWorkers: 4, Shuffle: true, Seed: 7})
	defer l.Close()

	got := collect(t, l, 0)
	require.Len(t, got, l.NumBatches())
	total := 0
	for i, pb := range got {
		if i < len(got)-1 {
			assert.Equal(t, 8, pb.Size())
		}
		require.NoError(t, pb.A.Validate())
		require.NoError(t, pb.B.Validate())
		total += pb.Size()
	}
	assert.Equal(t, ds.Len(), total)
	assert.LessOrEqual(t, src.Opened(), 4)
	assert.GreaterOrEqual(t, src.Opened(), 1)
}

func TestLoaderKeepsBatchOrder(t *testing.T) {
	src, docs, users := wideGraph(t, 200)
	ds := trainingSet(t, src, docs, users)
	l := NewLoader(ds, LoaderConfig{BatchSize: 1, NumWorkers: 4})
	defer l.Close()

	// every user likes d(i%10) and d(i%10+1); with batch size one and no
	// shuffle, docA of batch k belongs to user k
	got := collect(t, l, 0)
	require.Len(t, got, ds.Len())
	for k, pb := range got {
		var n int
		_, err := fmt.Sscanf(string(ds.UserID(k)), "u%d", &n)
		require.NoError(t, err)
		a := pb.A.DocIndices[0]
		assert.Contains(t, []int{n % 10, (n + 1) % 10}, a, "batch %d", k)
	}
}

func TestLoaderConnectionsPersistAcrossEpochs(t *testing.T) {
	src, docs, users := wideGraph(t, 100)
	ds := trainingSet(t, src, docs, users)
	l := NewLoader(ds, LoaderConfig{BatchSize: 4, NumWorkers: 2})

	collect(t, l, 0)
	opened := src.Opened()
	collect(t, l, 1)
	collect(t, l, 2)
	assert.Equal(t, opened, src.Opened())
	require.NoError(t, l.Close())
}

func TestLoaderMaxBatches(t *testing.T) {
	src, docs, users := wideGraph(t, 300)
	ds := trainingSet(t, src, docs, users)
	l := NewLoader(ds, LoaderConfig{BatchSize: 4, NumWorkers: 3, MaxBatches: 5})
	defer l.Close()

	assert.Equal(t, 5, l.NumBatches())
	assert.Len(t, collect(t, l, 0), 5)
}

func TestLoaderSynchronous(t *testing.T) {
	src, docs, users := wideGraph(t, 50)
	ds := trainingSet(t, src, docs, users)
	l := NewLoader(ds, LoaderConfig{BatchSize: 16, NumWorkers: 0, Shuffle: true})
	defer l.Close()

	got := collect(t, l, 0)
	total := 0
	for _, pb := range got {
		total += pb.Size()
	}
	assert.Equal(t, ds.Len(), total)
	assert.Equal(t, 1, src.Opened())
}

func TestLoaderSkipsMissingUsers(t *testing.T) {
	src, docs, users := wideGraph(t, 60)
	var ghosts []domain.EntityID
	for i := 0; i < 40; i++ {
		ghosts = append(ghosts, domain.EntityID(fmt.Sprintf("ghost%d", i)))
	}
	snap, err := NewSnapshot(docs, append(append([]domain.EntityID{}, users...), ghosts...))
	require.NoError(t, err)
	ds := New(snap, true, src.Connector(), Options{})

	valid := 0
	for i := 0; i < ds.Len(); i++ {
		var n int
		if _, err := fmt.Sscanf(string(ds.UserID(i)), "u%d", &n); err == nil {
			valid++
		}
	}

	l := NewLoader(ds, LoaderConfig{BatchSize: 5, NumWorkers: 2})
	defer l.Close()
	total := 0
	for _, pb := range collect(t, l, 0) {
		total += pb.Size()
	}
	assert.Equal(t, valid, total)
}

func TestLoaderResamplesMissingUsers(t *testing.T) {
	src, docs, users := wideGraph(t, 100)
	snap, err := NewSnapshot(docs, append(append([]domain.EntityID{}, users...), "ghost"))
	require.NoError(t, err)
	ds := New(snap, true, src.Connector(), Options{})
	if ds.Len() == len(users) {
		t.Skip("ghost fell into the validation split")
	}

	l := NewLoader(ds, LoaderConfig{BatchSize: 10, NumWorkers: 2, SampleRetries: 8})
	defer l.Close()
	total := 0
	for _, pb := range collect(t, l, 0) {
		total += pb.Size()
	}
	assert.Equal(t, ds.Len(), total)
}

func TestLoaderStopsOnUnknownDocument(t *testing.T) {
	src, docs, users := wideGraph(t, 100)
	// d9 is liked but unknown to the index
	ds := trainingSet(t, src, docs[:9], users)
	l := NewLoader(ds, LoaderConfig{BatchSize: 4, NumWorkers: 3})
	defer l.Close()

	err := l.Epoch(context.Background(), 0, func(PairBatch) error { return nil })
	require.ErrorIs(t, err, domain.ErrUnknownDocument)
}

func TestLoaderPropagatesConsumerError(t *testing.T) {
	src, docs, users := wideGraph(t, 200)
	ds := trainingSet(t, src, docs, users)
	l := NewLoader(ds, LoaderConfig{BatchSize: 2, NumWorkers: 4})
	defer l.Close()

	stop := errors.New("stop")
	seen := 0
	err := l.Epoch(context.Background(), 0, func(PairBatch) error {
		seen++
		if seen == 3 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 3, seen)
}

func TestLoaderHonoursCancellation(t *testing.T) {
	src, docs, users := wideGraph(t, 200)
	ds := trainingSet(t, src, docs, users)
	l := NewLoader(ds, LoaderConfig{BatchSize: 2, NumWorkers: 2})
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Epoch(ctx, 0, func(PairBatch) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
