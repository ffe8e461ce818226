package dgraph

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docembed/internal/domain"
)

func TestDecodeUserResponse(t *testing.T) {
	raw := []byte(`{"user":[{"uid":"0x1","likes":[
		{"uid":"0x10","title":"A","wordcount":1200,"reviews":4,"chapters":3,"likecount":9,"complete":true,"tags":["fluff","angst"]},
		{"uid":"0x11"}
	]}]}`)
	var resp struct {
		User []domain.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Len(t, resp.User, 1)
	u := resp.User[0]
	assert.Equal(t, domain.EntityID("0x1"), u.ID)
	require.Len(t, u.Likes, 2)
	assert.Equal(t, domain.Document{
		ID: "0x10", Title: "A", WordCount: 1200, ReviewCount: 4, ChapterCount: 3,
		LikeCount: 9, Complete: true, Tags: []string{"fluff", "angst"},
	}, u.Likes[0])
	assert.Equal(t, domain.Document{ID: "0x11"}, u.Likes[1])
}

func TestUsersQueryCarriesThreshold(t *testing.T) {
	assert.Contains(t, usersQueryFor(2), "ge(count(likes), 2)")
}

func TestUnreachableAlphaTimesOut(t *testing.T) {
	src, err := Open(Config{Addr: "127.0.0.1:1", QueryTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	defer src.Close()

	start := time.Now()
	_, err = src.DocumentIDs(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConnectorOpensIndependentClients(t *testing.T) {
	connect := Connector(Config{Addr: "127.0.0.1:1"})
	a, err := connect(context.Background())
	require.NoError(t, err)
	b, err := connect(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
}
