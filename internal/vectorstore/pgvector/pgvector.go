// Package pgvector stores document embeddings in PostgreSQL with the vector
// extension.
package pgvector

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"docembed/internal/domain"
)

const DefaultTable = "document_embeddings"

type Config struct {
	URL   string
	Table string
}

// Storage keeps one row per document: (document_id, embedding).
type Storage struct {
	pool      *pgxpool.Pool
	table     string
	dimension int
}

// New connects a pool whose connections know the vector type.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	return &Storage{pool: pool, table: pgx.Identifier{table}.Sanitize()}, nil
}

func (s *Storage) Close() { s.pool.Close() }

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.dimension = dimension
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		document_id TEXT PRIMARY KEY,
		embedding vector(%d) NOT NULL
	)`, s.table, dimension)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

func (s *Storage) Upsert(ctx context.Context, ids []domain.EntityID, vectors [][]float64) error {
	if len(ids) != len(vectors) {
		return errors.New("ids and vectors length mismatch")
	}
	query := fmt.Sprintf(`INSERT INTO %s (document_id, embedding) VALUES ($1, $2)
		ON CONFLICT (document_id) DO UPDATE SET embedding = EXCLUDED.embedding`, s.table)
	batch := &pgx.Batch{}
	for i, id := range ids {
		if s.dimension > 0 && len(vectors[i]) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
		batch.Queue(query, string(id), Vector(vectors[i]))
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// Search ranks by cosine distance and reports 1 - distance as the score.
func (s *Storage) Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	query := fmt.Sprintf(`SELECT document_id, 1 - (embedding <=> $1) AS score
		FROM %s ORDER BY embedding <=> $1 LIMIT $2`, s.table)
	rows, err := s.pool.Query(ctx, query, Vector(vector), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		results = append(results, domain.SearchResult{DocumentID: domain.EntityID(id), Score: score})
	}
	return results, rows.Err()
}

func (s *Storage) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s", s.table))
	return err
}

// Vector converts a float64 embedding to the single-precision pgvector type.
func Vector(v []float64) pgvector.Vector {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return pgvector.NewVector(out)
}
