package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DgraphConfig holds connection details for a Dgraph alpha.
type DgraphConfig struct {
	Addr string `yaml:"addr" validate:"required"`
	// MaxRecvMsgSizeMB caps gRPC responses; whole-graph id queries are large.
	MaxRecvMsgSizeMB int `yaml:"max_recv_msg_size_mb" validate:"gte=0"`
}

// Neo4jConfig holds connection details for Neo4j.
type Neo4jConfig struct {
	URI      string `yaml:"uri" validate:"required"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PostgresConfig holds the connection string for the relational graph schema.
type PostgresConfig struct {
	URL string `yaml:"url" validate:"required"`
}

// MemoryGraphConfig points at a JSON graph fixture.
type MemoryGraphConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// GraphConfig selects and configures the graph data source.
type GraphConfig struct {
	Type             string             `yaml:"type" validate:"oneof=memory dgraph neo4j postgres"`
	MinLikes         int                `yaml:"min_likes" validate:"gte=1"`
	QueryTimeoutSecs int                `yaml:"query_timeout_secs" validate:"gte=0"`
	Memory           *MemoryGraphConfig `yaml:"memory,omitempty" validate:"required_if=Type memory"`
	Dgraph           *DgraphConfig      `yaml:"dgraph,omitempty" validate:"required_if=Type dgraph"`
	Neo4j            *Neo4jConfig       `yaml:"neo4j,omitempty" validate:"required_if=Type neo4j"`
	Postgres         *PostgresConfig    `yaml:"postgres,omitempty" validate:"required_if=Type postgres"`
}

// TrainingConfig holds the training loop inputs.
type TrainingConfig struct {
	Device             string  `yaml:"device" validate:"oneof=cpu"`
	BatchSize          int     `yaml:"batch_size" validate:"gt=0"`
	NumWorkers         int     `yaml:"num_workers" validate:"gte=0"`
	MaxEpochs          int     `yaml:"max_epochs" validate:"gt=0"`
	MaxBatchesPerEpoch int     `yaml:"max_batches_per_epoch" validate:"gte=0"`
	ValidationBatches  int     `yaml:"validation_batches" validate:"gte=0"`
	LearningRate       float64 `yaml:"learning_rate" validate:"gt=0"`
	Margin             float64 `yaml:"margin" validate:"gte=-1,lte=1"`
	Seed               uint64  `yaml:"seed"`
	SampleRetries      int     `yaml:"sample_retries" validate:"gte=0"`
	DocumentCacheSize  int     `yaml:"document_cache_size" validate:"gte=0"`
	TagTableSize       int     `yaml:"tag_table_size" validate:"gt=0"`
	LogEvery           int     `yaml:"log_every" validate:"gte=0"`
}

// S3Config contains the bucket checkpoints are written to.
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket" validate:"required"`
	Prefix    string `yaml:"prefix"`
}

// CheckpointConfig selects where model state is saved after each epoch.
type CheckpointConfig struct {
	Type string    `yaml:"type" validate:"oneof=none file s3"`
	Dir  string    `yaml:"dir" validate:"required_if=Type file"`
	S3   *S3Config `yaml:"s3,omitempty" validate:"required_if=Type s3"`
	// Resume is a checkpoint key such as "<run-id>/latest" to start from.
	Resume string `yaml:"resume"`
}

// VectorStoreConfig selects and configures the embedding store.
type VectorStoreConfig struct {
	Type     string          `yaml:"type" validate:"oneof=memory qdrant pgvector"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty" validate:"required_if=Type qdrant"`
	PGVector *PGVectorConfig `yaml:"pgvector,omitempty" validate:"required_if=Type pgvector"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url" validate:"required,url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection" validate:"required"`
	Distance    string `yaml:"distance"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// PGVectorConfig contains the database holding the embedding table.
type PGVectorConfig struct {
	URL   string `yaml:"url" validate:"required"`
	Table string `yaml:"table"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Debug bool `yaml:"debug"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Graph       GraphConfig       `yaml:"graph"`
	Training    TrainingConfig    `yaml:"training"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docembed/config.yaml.
// If neither exists, it writes defaults to ~/.config/docembed/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks field ranges and that the selected backends are configured.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// ApplyEnv overrides addresses and secrets from the environment. Sections the
// variables belong to are created when missing.
func (c *AppConfig) ApplyEnv(getenv func(string) string) {
	set := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	if v := getenv("DGRAPH_ADDR"); v != "" {
		if c.Graph.Dgraph == nil {
			c.Graph.Dgraph = &DgraphConfig{}
		}
		c.Graph.Dgraph.Addr = v
	}
	if anySet(getenv, "NEO4J_URI", "NEO4J_USER", "NEO4J_PASSWORD") {
		if c.Graph.Neo4j == nil {
			c.Graph.Neo4j = &Neo4jConfig{}
		}
		set("NEO4J_URI", &c.Graph.Neo4j.URI)
		set("NEO4J_USER", &c.Graph.Neo4j.User)
		set("NEO4J_PASSWORD", &c.Graph.Neo4j.Password)
	}
	if v := getenv("DATABASE_URL"); v != "" {
		if c.Graph.Postgres == nil {
			c.Graph.Postgres = &PostgresConfig{}
		}
		c.Graph.Postgres.URL = v
		if c.VectorStore.PGVector == nil {
			c.VectorStore.PGVector = &PGVectorConfig{}
		}
		c.VectorStore.PGVector.URL = v
	}
	if anySet(getenv, "QDRANT_URL", "QDRANT_API_KEY") {
		if c.VectorStore.Qdrant == nil {
			c.VectorStore.Qdrant = &QdrantConfig{Collection: "documents"}
		}
		set("QDRANT_URL", &c.VectorStore.Qdrant.URL)
		set("QDRANT_API_KEY", &c.VectorStore.Qdrant.APIKey)
	}
	if anySet(getenv, "AWS_REGION", "AWS_ENDPOINT", "AWS_ACCESS_KEY", "AWS_SECRET_KEY", "AWS_BUCKET") {
		if c.Checkpoint.S3 == nil {
			c.Checkpoint.S3 = &S3Config{}
		}
		set("AWS_REGION", &c.Checkpoint.S3.Region)
		set("AWS_ENDPOINT", &c.Checkpoint.S3.Endpoint)
		set("AWS_ACCESS_KEY", &c.Checkpoint.S3.AccessKey)
		set("AWS_SECRET_KEY", &c.Checkpoint.S3.SecretKey)
		set("AWS_BUCKET", &c.Checkpoint.S3.Bucket)
	}
	applyConfigDefaults(c)
}

func anySet(getenv func(string) string, keys ...string) bool {
	for _, key := range keys {
		if getenv(key) != "" {
			return true
		}
	}
	return false
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docembed", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Graph: GraphConfig{
			Type:             "dgraph",
			MinLikes:         2,
			QueryTimeoutSecs: 30,
			Dgraph:           &DgraphConfig{Addr: "localhost:9080", MaxRecvMsgSizeMB: 1024},
		},
		Training: TrainingConfig{
			Device:             "cpu",
			BatchSize:          16,
			NumWorkers:         16,
			MaxEpochs:          1000,
			MaxBatchesPerEpoch: 1000,
			ValidationBatches:  100,
			LearningRate:       0.001,
			Margin:             0.5,
			SampleRetries:      3,
			DocumentCacheSize:  4096,
			TagTableSize:       10000,
			LogEvery:           100,
		},
		Checkpoint:  CheckpointConfig{Type: "file", Dir: "checkpoints"},
		VectorStore: VectorStoreConfig{Type: "memory"},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Graph.Dgraph != nil && cfg.Graph.Dgraph.MaxRecvMsgSizeMB == 0 {
		cfg.Graph.Dgraph.MaxRecvMsgSizeMB = 1024
	}
	if cfg.Graph.Neo4j != nil && cfg.Graph.Neo4j.Database == "" {
		cfg.Graph.Neo4j.Database = "neo4j"
	}
	if cfg.VectorStore.Qdrant != nil {
		if cfg.VectorStore.Qdrant.Distance == "" {
			cfg.VectorStore.Qdrant.Distance = "Cosine"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.Checkpoint.S3 != nil && cfg.Checkpoint.S3.Prefix == "" {
		cfg.Checkpoint.S3.Prefix = "docembed"
	}
}
