package postgres

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docembed/internal/domain"
)

func TestGroupLikesKeepsRecordsApart(t *testing.T) {
	likes := []docRow{
		{UserID: 7, UID: "d1", WordCount: 10, Tags: []string{"a"}},
		{UserID: 3, UID: "d2"},
		{UserID: 7, UID: "d3", Complete: true},
		{UserID: 99, UID: "d4"},
	}
	users := groupLikes("u1", []int64{3, 7}, likes)
	require.Len(t, users, 2)
	assert.Equal(t, domain.EntityID("u1"), users[0].ID)
	assert.Equal(t, []domain.Document{{ID: "d2"}}, users[0].Likes)
	assert.Equal(t, []domain.Document{
		{ID: "d1", WordCount: 10, Tags: []string{"a"}},
		{ID: "d3", Complete: true},
	}, users[1].Likes)
}

// TestLiveGraph runs against a database when DOCEMBED_TEST_DATABASE_URL is set.
func TestLiveGraph(t *testing.T) {
	url := os.Getenv("DOCEMBED_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DOCEMBED_TEST_DATABASE_URL not set")
	}
	ctx := t.Context()
	src, err := Open(ctx, Config{URL: url, QueryTimeout: 10 * time.Second})
	require.NoError(t, err)
	defer src.Close()
	require.NoError(t, src.EnsureSchema(ctx))

	_, err = src.conn.Exec(ctx, `INSERT INTO documents (uid, title, tags) VALUES ('pgtest-d1', 'T', '{x,y}')
		ON CONFLICT (uid) DO NOTHING`)
	require.NoError(t, err)

	doc, err := src.Document(ctx, "pgtest-d1")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, doc.Tags)

	_, err = src.Document(ctx, "pgtest-missing")
	require.ErrorIs(t, err, domain.ErrDocumentNotFound)

	users, err := src.LookupUser(ctx, "pgtest-nobody")
	require.NoError(t, err)
	assert.Empty(t, users)
}
