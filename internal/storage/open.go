package storage

import (
	"context"
	"fmt"
	"strings"
)

// Config selects and configures one storage backend.
type Config struct {
	Backend         string
	Region          string
	Profile         string
	Endpoint        string
	AccessKey       string
	SecretKey       string
	UseSSL          bool
	Root            string
	PartSize        int64
	CredentialsFile string
}

// Open builds the process-wide storage client for cfg.Backend.
func Open(ctx context.Context, cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Backend) {
	case "s3":
		return NewS3Client(ctx, S3Config{
			Region:    cfg.Region,
			Profile:   cfg.Profile,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			PartSize:  cfg.PartSize,
		})
	case "gcs", "gs":
		return NewGCSClient(ctx, GCSConfig{
			CredentialsFile: cfg.CredentialsFile,
			ChunkSize:       int(cfg.PartSize),
		})
	case "minio":
		return NewMinioClient(MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			UseSSL:    cfg.UseSSL,
			PartSize:  uint64(max(cfg.PartSize, 0)),
		})
	case "file", "local":
		if cfg.Root == "" {
			return nil, fmt.Errorf("file storage requires a root directory")
		}
		return NewLocalClient(cfg.Root)
	case "memory", "mem":
		return NewMemoryClient(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Backend)
	}
}
