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
	"docembed/internal/partition"
)

// smallGraph is d1,d2,d3 with u1 liking d1,d2 and u2 liking d3.
func smallGraph(t *testing.T) *memory.Source {
	t.Helper()
	src, err := memory.New(
		[]domain.Document{
			{ID: "d1", WordCount: 100, Tags: []string{"a", "b"}},
			{ID: "d2", ReviewCount: 3},
			{ID: "d3", Complete: true},
		},
		[]memory.UserRecord{
			{ID: "u1", Likes: []domain.EntityID{"d1", "d2"}},
			{ID: "u2", Likes: []domain.EntityID{"d3"}},
		},
	)
	require.NoError(t, err)
	return src
}

// datasetFor builds the dataset of the split uid falls into and returns uid's index.
func datasetFor(t *testing.T, src *memory.Source, docs, users []domain.EntityID, uid domain.EntityID) (*GraphDataset, int) {
	t.Helper()
	snap, err := NewSnapshot(docs, users)
	require.NoError(t, err)
	ds := New(snap, partition.InTraining(uid), src.Connector(), Options{DocumentCacheSize: 8})
	for i := 0; i < ds.Len(); i++ {
		if ds.UserID(i) == uid {
			return ds, i
		}
	}
	t.Fatalf("user %s not retained", uid)
	return nil, 0
}

func docIDs(t *testing.T, ds *GraphDataset, s Sample) (domain.EntityID, domain.EntityID) {
	t.Helper()
	a, ok := ds.snapshot.Index.ID(s.A.DocIndex)
	require.True(t, ok)
	b, ok := ds.snapshot.Index.ID(s.B.DocIndex)
	require.True(t, ok)
	return a, b
}

func TestPositivePairsStayWithinUser(t *testing.T) {
	src := smallGraph(t)
	ds, i := datasetFor(t, src, []domain.EntityID{"d1", "d2", "d3"}, []domain.EntityID{"u1", "u2"}, "u1")
	w := ds.NewWorker(0, 1)
	defer w.Close()

	for n := 0; n < 100; n++ {
		s, err := w.SampleWithLabel(context.Background(), i, Positive)
		require.NoError(t, err)
		assert.Equal(t, Positive, s.Label)
		a, b := docIDs(t, ds, s)
		assert.Contains(t, []domain.EntityID{"d1", "d2"}, a)
		assert.Contains(t, []domain.EntityID{"d1", "d2"}, b)
	}
}

func TestNegativePairsDrawFromGlobalPool(t *testing.T) {
	src := smallGraph(t)
	ds, i := datasetFor(t, src, []domain.EntityID{"d1", "d2", "d3"}, []domain.EntityID{"u1", "u2"}, "u1")
	w := ds.NewWorker(0, 2)
	defer w.Close()

	seen := map[domain.EntityID]bool{}
	for n := 0; n < 200; n++ {
		s, err := w.SampleWithLabel(context.Background(), i, Negative)
		require.NoError(t, err)
		assert.Equal(t, Negative, s.Label)
		a, b := docIDs(t, ds, s)
		assert.Contains(t, []domain.EntityID{"d1", "d2"}, a)
		seen[b] = true
	}
	assert.True(t, seen["d3"], "negative side never reached d3")
}

func TestSampleDrawsBothLabels(t *testing.T) {
	src := smallGraph(t)
	ds, i := datasetFor(t, src, []domain.EntityID{"d1", "d2", "d3"}, []domain.EntityID{"u1", "u2"}, "u1")
	w := ds.NewWorker(0, 3)
	defer w.Close()

	labels := map[float64]int{}
	for n := 0; n < 200; n++ {
		s, err := w.Sample(context.Background(), i)
		require.NoError(t, err)
		labels[s.Label]++
	}
	assert.Len(t, labels, 2)
	assert.Greater(t, labels[Positive], 50)
	assert.Greater(t, labels[Negative], 50)
}

func TestSampleEncodesFeatures(t *testing.T) {
	src := smallGraph(t)
	ds, i := datasetFor(t, src, []domain.EntityID{"d1", "d2", "d3"}, []domain.EntityID{"u1"}, "u1")
	w := ds.NewWorker(0, 4)
	defer w.Close()

	for n := 0; n < 50; n++ {
		s, err := w.SampleWithLabel(context.Background(), i, Positive)
		require.NoError(t, err)
		a, _ := docIDs(t, ds, s)
		switch a {
		case "d1":
			assert.Equal(t, 100.0, s.A.Dense[0])
			assert.Len(t, s.A.TagIndices, 2)
		case "d2":
			assert.Equal(t, 3.0, s.A.Dense[1])
			assert.Empty(t, s.A.TagIndices)
		}
	}
}

func TestDuplicateUserUsesFirstRecord(t *testing.T) {
	src, err := memory.New(
		[]domain.Document{{ID: "d1"}, {ID: "d2"}},
		[]memory.UserRecord{
			{ID: "u1", Likes: []domain.EntityID{"d1"}},
			{ID: "u1", Likes: []domain.EntityID{"d2"}},
		},
	)
	require.NoError(t, err)
	ds, i := datasetFor(t, src, []domain.EntityID{"d1", "d2"}, []domain.EntityID{"u1"}, "u1")
	w := ds.NewWorker(0, 5)
	defer w.Close()

	for n := 0; n < 20; n++ {
		s, err := w.SampleWithLabel(context.Background(), i, Positive)
		require.NoError(t, err)
		a, b := docIDs(t, ds, s)
		assert.Equal(t, domain.EntityID("d1"), a)
		assert.Equal(t, domain.EntityID("d1"), b)
	}
}

func TestMissingUser(t *testing.T) {
	src := smallGraph(t)
	ds, i := datasetFor(t, src, []domain.EntityID{"d1", "d2", "d3"}, []domain.EntityID{"ghost"}, "ghost")
	w := ds.NewWorker(0, 6)
	defer w.Close()

	_, err := w.Sample(context.Background(), i)
	require.ErrorIs(t, err, domain.ErrMissingUser)
	var missing *domain.MissingUserError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, domain.EntityID("ghost"), missing.ID)
	assert.True(t, Recoverable(err))
}

func TestUserWithoutLikes(t *testing.T) {
	src, err := memory.New([]domain.Document{{ID: "d1"}}, []memory.UserRecord{{ID: "u3"}})
	require.NoError(t, err)
	ds, i := datasetFor(t, src, []domain.EntityID{"d1"}, []domain.EntityID{"u3"}, "u3")
	w := ds.NewWorker(0, 7)
	defer w.Close()

	_, err = w.Sample(context.Background(), i)
	require.ErrorIs(t, err, domain.ErrNoLikes)
	assert.True(t, Recoverable(err))
}

func TestUnknownDocumentIsFatal(t *testing.T) {
	src := smallGraph(t)
	// the index does not know d3, which u2 likes
	ds, i := datasetFor(t, src, []domain.EntityID{"d1", "d2"}, []domain.EntityID{"u2"}, "u2")
	w := ds.NewWorker(0, 8)
	defer w.Close()

	_, err := w.SampleWithLabel(context.Background(), i, Positive)
	require.ErrorIs(t, err, domain.ErrUnknownDocument)
	assert.False(t, Recoverable(err))
}

func TestWorkerConnectsLazilyOnce(t *testing.T) {
	src := smallGraph(t)
	ds, i := datasetFor(t, src, []domain.EntityID{"d1", "d2", "d3"}, []domain.EntityID{"u1"}, "u1")
	w := ds.NewWorker(0, 9)
	assert.Equal(t, 0, src.Opened())

	for n := 0; n < 5; n++ {
		_, err := w.Sample(context.Background(), i)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.Opened())

	require.NoError(t, w.Close())
	require.NoError(t, w.Init(context.Background()))
	assert.Equal(t, 2, src.Opened())
	require.NoError(t, w.Close())
}

func TestWorkerConnectRetries(t *testing.T) {
	src := smallGraph(t)
	snap, err := NewSnapshot([]domain.EntityID{"d1", "d2", "d3"}, []domain.EntityID{"u1"})
	require.NoError(t, err)

	calls := 0
	flaky := func(ctx context.Context) (domain.GraphSource, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection refused")
		}
		return src.Connector()(ctx)
	}
	ds := New(snap, partition.InTraining("u1"), flaky, Options{ConnectTries: 3})
	w := ds.NewWorker(0, 10)
	require.NoError(t, w.Init(context.Background()))
	assert.Equal(t, 3, calls)
}

func TestSplitFilteringHappensOnce(t *testing.T) {
	users := make([]domain.EntityID, 400)
	for i := range users {
		users[i] = domain.EntityID(fmt.Sprintf("u%d", i))
	}
	snap, err := NewSnapshot([]domain.EntityID{"d1"}, users)
	require.NoError(t, err)

	train := New(snap, true, nil, Options{})
	val := New(snap, false, nil, Options{})
	assert.Equal(t, len(users), train.Len()+val.Len())
	assert.Greater(t, train.Len(), val.Len())
	assert.True(t, train.Training())
	assert.False(t, val.Training())
}

func TestCollatePairs(t *testing.T) {
	src := smallGraph(t)
	ds, i := datasetFor(t, src, []domain.EntityID{"d1", "d2", "d3"}, []domain.EntityID{"u1"}, "u1")
	w := ds.NewWorker(0, 11)
	defer w.Close()

	var samples []Sample
	for n := 0; n < 4; n++ {
		s, err := w.Sample(context.Background(), i)
		require.NoError(t, err)
		samples = append(samples, s)
	}
	pb, err := CollatePairs(samples)
	require.NoError(t, err)
	assert.Equal(t, 4, pb.Size())
	assert.Equal(t, 4, pb.A.Size())
	assert.Equal(t, 4, pb.B.Size())
	require.NoError(t, pb.A.Validate())
	require.NoError(t, pb.B.Validate())
	for n, s := range samples {
		assert.Equal(t, s.Label, pb.Labels[n])
		assert.Equal(t, s.A.DocIndex, pb.A.DocIndices[n])
	}
}

func TestNewSnapshotRejectsEmptyUniverse(t *testing.T) {
	_, err := NewSnapshot(nil, []domain.EntityID{"u1"})
	require.Error(t, err)
}

func TestLoadSnapshot(t *testing.T) {
	src := smallGraph(t)
	snap, err := LoadSnapshot(context.Background(), src, 2)
	require.NoError(t, err)
	assert.Equal(t, []domain.EntityID{"d1", "d2", "d3"}, snap.Documents)
	assert.Equal(t, []domain.EntityID{"u1"}, snap.Users)
	assert.Equal(t, 3, snap.Index.Len())
}
