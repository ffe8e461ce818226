// Package postgres reads the user/document graph from relational tables:
// documents, users and the likes join table. A uid may appear on several
// users rows; each row is a separate user record.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"docembed/internal/domain"
	"docembed/internal/util"
)

// Schema creates the tables the source reads.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	uid       TEXT PRIMARY KEY,
	title     TEXT NOT NULL DEFAULT '',
	wordcount INTEGER NOT NULL DEFAULT 0,
	reviews   INTEGER NOT NULL DEFAULT 0,
	chapters  INTEGER NOT NULL DEFAULT 0,
	likecount INTEGER NOT NULL DEFAULT 0,
	complete  BOOLEAN NOT NULL DEFAULT FALSE,
	tags      TEXT[] NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS users (
	id  BIGSERIAL PRIMARY KEY,
	uid TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS users_uid_idx ON users (uid);
CREATE TABLE IF NOT EXISTS likes (
	user_id      BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	document_uid TEXT NOT NULL REFERENCES documents (uid) ON DELETE CASCADE,
	PRIMARY KEY (user_id, document_uid)
);`

const (
	docsQuery = `SELECT uid FROM documents ORDER BY uid`

	usersQuery = `SELECT u.uid FROM users u
		JOIN likes l ON l.user_id = u.id
		GROUP BY u.uid
		HAVING count(DISTINCT l.document_uid) >= $1
		ORDER BY u.uid`

	userRowsQuery = `SELECT id FROM users WHERE uid = $1 ORDER BY id`

	likesQuery = `SELECT l.user_id, d.uid, d.title, d.wordcount, d.reviews, d.chapters, d.likecount, d.complete, d.tags
		FROM likes l
		JOIN users u ON u.id = l.user_id
		JOIN documents d ON d.uid = l.document_uid
		WHERE u.uid = $1`

	docQuery = `SELECT 0::BIGINT AS user_id, uid, title, wordcount, reviews, chapters, likecount, complete, tags
		FROM documents WHERE uid = $1`
)

type docRow struct {
	UserID    int64    `db:"user_id"`
	UID       string   `db:"uid"`
	Title     string   `db:"title"`
	WordCount int      `db:"wordcount"`
	Reviews   int      `db:"reviews"`
	Chapters  int      `db:"chapters"`
	LikeCount int      `db:"likecount"`
	Complete  bool     `db:"complete"`
	Tags      []string `db:"tags"`
}

func (r docRow) document() domain.Document {
	return domain.Document{
		ID:           domain.EntityID(r.UID),
		Title:        r.Title,
		WordCount:    r.WordCount,
		ReviewCount:  r.Reviews,
		ChapterCount: r.Chapters,
		LikeCount:    r.LikeCount,
		Complete:     r.Complete,
		Tags:         r.Tags,
	}
}

type Config struct {
	URL          string
	QueryTimeout time.Duration
}

// Source holds a single connection owned by one worker.
type Source struct {
	conn    *pgx.Conn
	timeout time.Duration
}

func Open(ctx context.Context, cfg Config) (*Source, error) {
	cctx, cancel := util.WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()
	conn, err := pgx.Connect(cctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Source{conn: conn, timeout: cfg.QueryTimeout}, nil
}

// Connector opens a fresh connection per call.
func Connector(cfg Config) domain.Connector {
	return func(ctx context.Context) (domain.GraphSource, error) {
		return Open(ctx, cfg)
	}
}

// EnsureSchema creates the graph tables if they are missing.
func (s *Source) EnsureSchema(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, Schema)
	return err
}

func (s *Source) ids(ctx context.Context, query string, args ...any) ([]domain.EntityID, error) {
	ctx, cancel := util.WithTimeout(ctx, s.timeout)
	defer cancel()
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	uids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := make([]domain.EntityID, len(uids))
	for i, uid := range uids {
		out[i] = domain.EntityID(uid)
	}
	return out, nil
}

func (s *Source) DocumentIDs(ctx context.Context) ([]domain.EntityID, error) {
	return s.ids(ctx, docsQuery)
}

func (s *Source) ActiveUserIDs(ctx context.Context, minLikes int) ([]domain.EntityID, error) {
	return s.ids(ctx, usersQuery, minLikes)
}

func (s *Source) LookupUser(ctx context.Context, id domain.EntityID) ([]domain.User, error) {
	ctx, cancel := util.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.conn.Query(ctx, userRowsQuery, string(id))
	if err != nil {
		return nil, err
	}
	rowIDs, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	if len(rowIDs) == 0 {
		return nil, nil
	}

	rows, err = s.conn.Query(ctx, likesQuery, string(id))
	if err != nil {
		return nil, err
	}
	likes, err := pgx.CollectRows(rows, pgx.RowToStructByName[docRow])
	if err != nil {
		return nil, err
	}
	return groupLikes(id, rowIDs, likes), nil
}

// groupLikes builds one user per users row, in row order.
func groupLikes(id domain.EntityID, rowIDs []int64, likes []docRow) []domain.User {
	pos := make(map[int64]int, len(rowIDs))
	users := make([]domain.User, len(rowIDs))
	for i, rid := range rowIDs {
		pos[rid] = i
		users[i] = domain.User{ID: id}
	}
	for _, like := range likes {
		if i, ok := pos[like.UserID]; ok {
			users[i].Likes = append(users[i].Likes, like.document())
		}
	}
	return users
}

func (s *Source) Document(ctx context.Context, id domain.EntityID) (domain.Document, error) {
	ctx, cancel := util.WithTimeout(ctx, s.timeout)
	defer cancel()
	rows, err := s.conn.Query(ctx, docQuery, string(id))
	if err != nil {
		return domain.Document{}, err
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[docRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("%q: %w", id, domain.ErrDocumentNotFound)
	}
	if err != nil {
		return domain.Document{}, err
	}
	return row.document(), nil
}

func (s *Source) Close() error { return s.conn.Close(context.Background()) }
