package main

import (
	"context"
	"fmt"
	"time"

	"docembed/internal/checkpoint"
	"docembed/internal/config"
	"docembed/internal/dataset"
	"docembed/internal/domain"
	"docembed/internal/graphsource/dgraph"
	"docembed/internal/graphsource/memory"
	"docembed/internal/graphsource/neo4j"
	"docembed/internal/graphsource/postgres"
	"docembed/internal/service"
	"docembed/internal/train"
	"docembed/internal/vectorstore"
	vsmemory "docembed/internal/vectorstore/memory"
	"docembed/internal/vectorstore/pgvector"
	"docembed/internal/vectorstore/qdrant"
)

func graphConnector(gc config.GraphConfig) (domain.Connector, error) {
	timeout := time.Duration(gc.QueryTimeoutSecs) * time.Second
	switch gc.Type {
	case "memory":
		src, err := memory.Load(gc.Memory.Path)
		if err != nil {
			return nil, err
		}
		return src.Connector(), nil
	case "dgraph":
		return dgraph.Connector(dgraph.Config{
			Addr:           gc.Dgraph.Addr,
			MaxRecvMsgSize: gc.Dgraph.MaxRecvMsgSizeMB << 20,
			QueryTimeout:   timeout,
		}), nil
	case "neo4j":
		return neo4j.Connector(neo4j.Config{
			URI:          gc.Neo4j.URI,
			User:         gc.Neo4j.User,
			Password:     gc.Neo4j.Password,
			Database:     gc.Neo4j.Database,
			QueryTimeout: timeout,
		}), nil
	case "postgres":
		return postgres.Connector(postgres.Config{URL: gc.Postgres.URL, QueryTimeout: timeout}), nil
	default:
		return nil, fmt.Errorf("unknown graph source: %s", gc.Type)
	}
}

func checkpointStore(ctx context.Context, cc config.CheckpointConfig) (checkpoint.Store, error) {
	switch cc.Type {
	case "none":
		return nil, nil
	case "file":
		return checkpoint.FileStore{Dir: cc.Dir}, nil
	case "s3":
		client, err := checkpoint.NewS3Client(ctx, checkpoint.S3Config{
			Region:    cc.S3.Region,
			Endpoint:  cc.S3.Endpoint,
			AccessKey: cc.S3.AccessKey,
			SecretKey: cc.S3.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return checkpoint.S3Store{Client: client, Bucket: cc.S3.Bucket, Prefix: cc.S3.Prefix}, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint store: %s", cc.Type)
	}
}

// vectorStore returns the configured store and a function releasing it.
func vectorStore(ctx context.Context, vc config.VectorStoreConfig) (vectorstore.Storage, func(), error) {
	switch vc.Type {
	case "memory":
		return vsmemory.NewStorage(), func() {}, nil
	case "qdrant":
		return qdrant.NewStorage(qdrant.Config{
			URL:        vc.Qdrant.URL,
			APIKey:     vc.Qdrant.APIKey,
			Collection: vc.Qdrant.Collection,
			Distance:   vc.Qdrant.Distance,
			Timeout:    time.Duration(vc.Qdrant.TimeoutSecs) * time.Second,
		}), func() {}, nil
	case "pgvector":
		st, err := pgvector.New(ctx, pgvector.Config{URL: vc.PGVector.URL, Table: vc.PGVector.Table})
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector store: %s", vc.Type)
	}
}

func serviceOptions(c *config.AppConfig) service.Options {
	tc := c.Training
	return service.Options{
		MinLikes:     c.Graph.MinLikes,
		Seed:         tc.Seed,
		TagTableSize: tc.TagTableSize,
		Dataset: dataset.Options{
			DocumentCacheSize: tc.DocumentCacheSize,
			ConnectTries:      3,
			ConnectBackoff:    500 * time.Millisecond,
		},
		Loader: dataset.LoaderConfig{
			BatchSize:     tc.BatchSize,
			NumWorkers:    tc.NumWorkers,
			MaxBatches:    tc.MaxBatchesPerEpoch,
			Seed:          tc.Seed,
			SampleRetries: tc.SampleRetries,
		},
		ValidationBatches: tc.ValidationBatches,
		Trainer: train.Config{
			Device:       tc.Device,
			MaxEpochs:    tc.MaxEpochs,
			LearningRate: tc.LearningRate,
			Margin:       tc.Margin,
			LogEvery:     tc.LogEvery,
		},
		Resume: c.Checkpoint.Resume,
	}
}

// newService assembles a service from the loaded config. store may be nil.
func newService(ctx context.Context, store domain.EmbeddingStore) (*service.TrainingService, error) {
	connect, err := graphConnector(cfg.Graph)
	if err != nil {
		return nil, err
	}
	checkpoints, err := checkpointStore(ctx, cfg.Checkpoint)
	if err != nil {
		return nil, err
	}
	return service.NewTrainingService(connect, checkpoints, store, serviceOptions(cfg)), nil
}
