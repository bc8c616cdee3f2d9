package config

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/turbine-data/adsync/internal/emitter"
	"github.com/turbine-data/adsync/internal/platform/graph"
	"github.com/turbine-data/adsync/internal/repository"
	"github.com/turbine-data/adsync/internal/state"
)

// InitializeStateStore builds the bookmark store named by the config.
// An empty type means filesystem in the working directory.
func InitializeStateStore(ctx context.Context, c *AdSync, logger *zap.Logger) (state.Store, error) {
	switch c.State.Type {
	case "", "filesystem":
		dir := c.State.Filesystem.Dir
		if dir == "" {
			dir = "."
		}
		return state.NewFilesystemStore(dir, logger), nil
	case "postgres":
		return state.NewPostgresStore(ctx, c.State.Postgres.ConnectionString, logger)
	case "s3":
		return state.NewS3Store(
			state.S3WithRegion(c.State.S3.Region),
			state.S3WithBucket(c.State.S3.Bucket),
			state.S3WithPrefix(c.State.S3.Prefix),
			state.S3WithEndpoint(c.State.S3.Endpoint),
			state.S3WithForcePathStyle(c.State.S3.ForcePathStyle),
			state.S3WithLogger(logger),
		), nil
	case "mongo":
		return state.NewMongoStore(ctx,
			c.State.Mongo.URI,
			c.State.Mongo.Database,
			c.State.Mongo.Collection,
			logger,
		)
	case "noop":
		return state.NoopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown state store type: %q", c.State.Type)
	}
}

// InitializeEmitter builds the configured output fan-out.
func InitializeEmitter(ctx context.Context, c *AdSync, logger *zap.Logger) (emitter.Emitter, error) {
	var emitters []emitter.Emitter

	if c.StdoutEnabled() {
		emitters = append(emitters, emitter.NewStdout())
	}

	if c.Emitter.Kafka != "" {
		uri, err := url.Parse(c.Emitter.Kafka)
		if err != nil {
			return nil, fmt.Errorf("emitter.kafka: %w", err)
		}
		k, err := emitter.NewKafka(ctx, uri, logger)
		if err != nil {
			return nil, err
		}
		emitters = append(emitters, k)
	}

	if c.Emitter.Archive.Type != "" {
		archive, err := initializeArchive(c, logger)
		if err != nil {
			return nil, err
		}
		emitters = append(emitters, archive)
	}

	if len(emitters) == 0 {
		return nil, fmt.Errorf("no emitters configured")
	}
	if len(emitters) == 1 {
		return emitters[0], nil
	}
	return emitter.NewMulti(emitters...), nil
}

func initializeArchive(c *AdSync, logger *zap.Logger) (emitter.Emitter, error) {
	var repo repository.Repository
	switch c.Emitter.Archive.Type {
	case "local":
		repo = repository.NewLocal(
			c.Emitter.Archive.Local.Path,
			repository.LocalWithPrefix(c.Emitter.Archive.Local.Prefix),
			repository.LocalWithLogger(logger),
		)
	case "s3":
		repo = repository.NewS3(
			repository.S3WithRegion(c.Emitter.Archive.S3.Region),
			repository.S3WithBucket(c.Emitter.Archive.S3.Bucket),
			repository.S3WithPrefix(c.Emitter.Archive.S3.Prefix),
			repository.S3WithEndpoint(c.Emitter.Archive.S3.Endpoint),
			repository.S3WithForcePathStyle(c.Emitter.Archive.S3.ForcePathStyle),
			repository.S3WithLogger(logger),
		)
	default:
		return nil, fmt.Errorf("unknown archive type: %q", c.Emitter.Archive.Type)
	}

	opts := []emitter.ParquetOption{emitter.ParquetWithLogger(logger)}
	if c.Emitter.Archive.BatchSize > 0 {
		opts = append(opts, emitter.ParquetWithBatchSize(c.Emitter.Archive.BatchSize))
	}
	return emitter.NewParquet(repo, opts...), nil
}

// InitializeClient builds the Graph API client.
func InitializeClient(c *AdSync, logger *zap.Logger) *graph.Client {
	opts := []graph.Option{graph.WithLogger(logger)}
	if c.Source.BaseURL != "" {
		opts = append(opts, graph.WithBaseURL(c.Source.BaseURL))
	}
	return graph.New(c.Source.AccessToken, opts...)
}
