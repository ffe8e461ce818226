package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 16, cfg.Training.BatchSize)
	assert.Equal(t, 16, cfg.Training.NumWorkers)
	assert.Equal(t, 1000, cfg.Training.MaxEpochs)
	assert.Equal(t, 1000, cfg.Training.MaxBatchesPerEpoch)
	assert.Equal(t, 0.001, cfg.Training.LearningRate)
	assert.Equal(t, 0.5, cfg.Training.Margin)
	assert.Equal(t, 2, cfg.Graph.MinLikes)
	assert.Equal(t, "cpu", cfg.Training.Device)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
graph:
  type: neo4j
  neo4j:
    uri: neo4j://localhost:7687
training:
  batch_size: 64
  num_workers: 0
vector_store:
  type: qdrant
  qdrant:
    url: http://localhost:6333
    collection: documents
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 64, cfg.Training.BatchSize)
	assert.Equal(t, 0, cfg.Training.NumWorkers)
	assert.Equal(t, 1000, cfg.Training.MaxEpochs)
	assert.Equal(t, "neo4j", cfg.Graph.Neo4j.Database)
	assert.Equal(t, "Cosine", cfg.VectorStore.Qdrant.Distance)
	assert.Equal(t, 15, cfg.VectorStore.Qdrant.TimeoutSecs)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Training.Seed = 99
	cfg.Metrics.Addr = ":9090"
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"zero batch size", func(c *AppConfig) { c.Training.BatchSize = 0 }},
		{"negative workers", func(c *AppConfig) { c.Training.NumWorkers = -1 }},
		{"zero epochs", func(c *AppConfig) { c.Training.MaxEpochs = 0 }},
		{"accelerator device", func(c *AppConfig) { c.Training.Device = "cuda" }},
		{"unknown graph", func(c *AppConfig) { c.Graph.Type = "mongo" }},
		{"neo4j without section", func(c *AppConfig) { c.Graph.Type = "neo4j" }},
		{"memory without fixture", func(c *AppConfig) { c.Graph.Type = "memory" }},
		{"s3 without bucket", func(c *AppConfig) { c.Checkpoint.Type = "s3"; c.Checkpoint.S3 = &S3Config{} }},
		{"file without dir", func(c *AppConfig) { c.Checkpoint.Dir = "" }},
		{"qdrant without section", func(c *AppConfig) { c.VectorStore.Type = "qdrant" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DGRAPH_ADDR":    "alpha:9080",
		"NEO4J_PASSWORD": "secret",
		"DATABASE_URL":   "postgres://u:p@db/docembed",
		"QDRANT_URL":     "http://qdrant:6333",
		"AWS_BUCKET":     "checkpoints",
	}
	cfg := defaultConfig()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "alpha:9080", cfg.Graph.Dgraph.Addr)
	assert.Equal(t, "secret", cfg.Graph.Neo4j.Password)
	assert.Equal(t, "neo4j", cfg.Graph.Neo4j.Database)
	assert.Equal(t, "postgres://u:p@db/docembed", cfg.Graph.Postgres.URL)
	assert.Equal(t, "postgres://u:p@db/docembed", cfg.VectorStore.PGVector.URL)
	assert.Equal(t, "http://qdrant:6333", cfg.VectorStore.Qdrant.URL)
	assert.Equal(t, "documents", cfg.VectorStore.Qdrant.Collection)
	assert.Equal(t, "checkpoints", cfg.Checkpoint.S3.Bucket)
	assert.Equal(t, "docembed", cfg.Checkpoint.S3.Prefix)
}
