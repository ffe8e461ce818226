package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docembed/internal/domain"
)

const fixture = `{
  "documents": [
    {"uid": "d1", "title": "One", "wordcount": 1000, "tags": ["fluff"]},
    {"uid": "d2", "reviews": 4, "complete": true},
    {"uid": "d3"}
  ],
  "users": [
    {"uid": "u1", "likes": ["d1", "d2"]},
    {"uid": "u2", "likes": ["d3"]}
  ]
}`

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	ctx := context.Background()

	docs, err := s.DocumentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.EntityID{"d1", "d2", "d3"}, docs)

	d1, err := s.Document(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1000, d1.WordCount)
	assert.Equal(t, []string{"fluff"}, d1.Tags)

	users, err := s.ActiveUserIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []domain.EntityID{"u1"}, users)

	records, err := s.LookupUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Len(t, records[0].Likes, 2)
	assert.True(t, records[0].Likes[1].Complete)
}

func TestUnknownLikeRejected(t *testing.T) {
	_, err := New([]domain.Document{{ID: "d1"}}, []UserRecord{{ID: "u1", Likes: []domain.EntityID{"d2"}}})
	require.Error(t, err)
}

func TestDuplicateUserRecords(t *testing.T) {
	s, err := New(
		[]domain.Document{{ID: "d1"}, {ID: "d2"}},
		[]UserRecord{
			{ID: "u1", Likes: []domain.EntityID{"d1"}},
			{ID: "u1", Likes: []domain.EntityID{"d2"}},
		},
	)
	require.NoError(t, err)

	records, err := s.LookupUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	none, err := s.LookupUser(context.Background(), "u9")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDocumentNotFound(t *testing.T) {
	s, err := New([]domain.Document{{ID: "d1"}}, nil)
	require.NoError(t, err)
	_, err = s.Document(context.Background(), "d2")
	require.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestConnectorHandles(t *testing.T) {
	s, err := New([]domain.Document{{ID: "d1"}}, nil)
	require.NoError(t, err)
	connect := s.Connector()

	h, err := connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Opened())

	_, err = h.Document(context.Background(), "d1")
	require.NoError(t, err)

	require.NoError(t, h.Close())
	_, err = h.Document(context.Background(), "d1")
	require.Error(t, err)

	_, err = s.Document(context.Background(), "d1")
	require.NoError(t, err)
}
