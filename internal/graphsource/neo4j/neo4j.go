// Package neo4j reads the user/document graph from Neo4j:
// (:User {uid})-[:LIKES]->(:Document {uid, title, wordcount, ...}).
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"docembed/internal/domain"
	"docembed/internal/util"
)

type Config struct {
	URI          string
	User         string
	Password     string
	Database     string
	QueryTimeout time.Duration
}

// Source wraps a driver owned by a single worker.
type Source struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
}

// Open creates a driver and checks connectivity.
func Open(ctx context.Context, cfg Config) (*Source, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("could not create Neo4j driver: %w", err)
	}
	s := &Source{driver: driver, database: cfg.Database, timeout: cfg.QueryTimeout}
	vctx, cancel := util.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j %s: %w", cfg.URI, err)
	}
	return s, nil
}

// Connector opens a fresh driver per call.
func Connector(cfg Config) domain.Connector {
	return func(ctx context.Context) (domain.GraphSource, error) {
		return Open(ctx, cfg)
	}
}

const (
	docsQuery = `MATCH (d:Document) RETURN d.uid AS uid`

	usersQuery = `MATCH (u:User)-[:LIKES]->(d:Document)
		WITH u, count(d) AS likes
		WHERE likes >= $min
		RETURN u.uid AS uid`

	// One row per User node; nodes sharing a uid stay separate.
	userQuery = `MATCH (u:User {uid: $uid})
		OPTIONAL MATCH (u)-[:LIKES]->(d:Document)
		WITH u, collect(d {.*}) AS likes
		RETURN elementId(u) AS node, likes
		ORDER BY node`

	docQuery = `MATCH (d:Document {uid: $uid}) RETURN d {.*} AS doc`
)

func (s *Source) run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	ctx, cancel := util.WithTimeout(ctx, s.timeout)
	defer cancel()
	result, err := neo4j.ExecuteQuery(
		ctx,
		s.driver,
		query,
		params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return nil, fmt.Errorf("error executing neo4j query: %w", err)
	}
	return result, nil
}

func (s *Source) ids(ctx context.Context, query string, params map[string]any) ([]domain.EntityID, error) {
	result, err := s.run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	ids := make([]domain.EntityID, 0, len(result.Records))
	for _, rec := range result.Records {
		uid, _, err := neo4j.GetRecordValue[string](rec, "uid")
		if err != nil {
			return nil, err
		}
		ids = append(ids, domain.EntityID(uid))
	}
	return ids, nil
}

func (s *Source) DocumentIDs(ctx context.Context) ([]domain.EntityID, error) {
	return s.ids(ctx, docsQuery, nil)
}

func (s *Source) ActiveUserIDs(ctx context.Context, minLikes int) ([]domain.EntityID, error) {
	return s.ids(ctx, usersQuery, map[string]any{"min": minLikes})
}

func (s *Source) LookupUser(ctx context.Context, id domain.EntityID) ([]domain.User, error) {
	result, err := s.run(ctx, userQuery, map[string]any{"uid": string(id)})
	if err != nil {
		return nil, err
	}
	return usersFromRecords(id, result.Records)
}

func usersFromRecords(id domain.EntityID, records []*neo4j.Record) ([]domain.User, error) {
	users := make([]domain.User, 0, len(records))
	for _, rec := range records {
		likes, _, err := neo4j.GetRecordValue[[]any](rec, "likes")
		if err != nil {
			return nil, err
		}
		user := domain.User{ID: id, Likes: make([]domain.Document, 0, len(likes))}
		for _, like := range likes {
			props, ok := like.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("user %q: unexpected like value %T", id, like)
			}
			user.Likes = append(user.Likes, documentFromProps(props))
		}
		users = append(users, user)
	}
	return users, nil
}

func (s *Source) Document(ctx context.Context, id domain.EntityID) (domain.Document, error) {
	result, err := s.run(ctx, docQuery, map[string]any{"uid": string(id)})
	if err != nil {
		return domain.Document{}, err
	}
	switch len(result.Records) {
	case 0:
		return domain.Document{}, fmt.Errorf("%q: %w", id, domain.ErrDocumentNotFound)
	case 1:
	default:
		return domain.Document{}, fmt.Errorf("document %q resolved to %d records", id, len(result.Records))
	}
	props, _, err := neo4j.GetRecordValue[map[string]any](result.Records[0], "doc")
	if err != nil {
		return domain.Document{}, err
	}
	return documentFromProps(props), nil
}

func (s *Source) Close() error { return s.driver.Close(context.Background()) }

// documentFromProps maps node properties; missing ones stay zero.
func documentFromProps(props map[string]any) domain.Document {
	doc := domain.Document{
		ID:           domain.EntityID(str(props["uid"])),
		Title:        str(props["title"]),
		WordCount:    integer(props["wordcount"]),
		ReviewCount:  integer(props["reviews"]),
		ChapterCount: integer(props["chapters"]),
		LikeCount:    integer(props["likecount"]),
	}
	doc.Complete, _ = props["complete"].(bool)
	if tags, ok := props["tags"].([]any); ok {
		for _, t := range tags {
			if tag, ok := t.(string); ok {
				doc.Tags = append(doc.Tags, tag)
			}
		}
	}
	return doc
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func integer(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
