package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/stager/internal/config"
	"github.com/tanq16/stager/internal/secrets"
	"github.com/tanq16/stager/internal/storage"
	"github.com/tanq16/stager/internal/transfer"
	"github.com/tanq16/stager/internal/utils"
)

// New builds the process-wide collaborators described by cfg. Close releases
// them.
func New(ctx context.Context, cfg *config.Config, reporter transfer.Reporter) (*Service, error) {
	store, err := storage.Open(ctx, cfg.StorageOptions())
	if err != nil {
		return nil, fmt.Errorf("error opening storage: %w", err)
	}
	resolver, err := openResolver(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("error opening secrets: %w", err)
	}
	log.Debug().Str("op", "ingest/wire").Msgf("storage backend %s, secrets backend %s", cfg.Storage.Backend, cfg.Secrets.Backend)
	if reporter == nil {
		reporter = transfer.LogReporter{}
	}
	return &Service{
		Storage:      store,
		Secrets:      resolver,
		HTTP:         utils.NewStagerHTTPClient(cfg.HTTPClientConfig()),
		Rules:        cfg.Routes,
		Bucket:       cfg.Storage.Bucket,
		BucketSecret: cfg.Storage.BucketSecret,
		Extraction: ExtractSettings{
			Prefix:            cfg.Extract.Prefix,
			Extension:         cfg.Extract.Extension,
			CommitConcurrency: cfg.Extract.CommitConcurrency,
		},
		BufferSize: cfg.HTTP.BufferSize,
		Reporter:   reporter,
	}, nil
}

func openResolver(ctx context.Context, cfg *config.Config) (secrets.Resolver, error) {
	s := cfg.Secrets
	env := secrets.Env{Prefix: s.EnvPrefix}
	switch strings.ToLower(s.Backend) {
	case "", "env":
		return env, nil
	case "gcp", "secretmanager":
		if s.Project == "" {
			return nil, fmt.Errorf("secrets.project is required for the gcp backend")
		}
		r, err := secrets.NewGCPResolver(ctx, s.Project)
		if err != nil {
			return nil, err
		}
		return closingChain{Chain: secrets.Chain{env, r}, closer: r}, nil
	case "aws", "secretsmanager":
		st := cfg.Storage
		awsCfg, err := storage.LoadAWSConfig(ctx, st.Region, st.Profile, st.AccessKey, st.SecretKey)
		if err != nil {
			return nil, err
		}
		return secrets.Chain{env, secrets.NewAWSResolver(awsCfg)}, nil
	default:
		return nil, fmt.Errorf("unknown secrets backend: %q", s.Backend)
	}
}

// closingChain lets Close reach a resolver holding a client connection.
type closingChain struct {
	secrets.Chain
	closer io.Closer
}

func (c closingChain) Close() error {
	return c.closer.Close()
}

func (s *Service) Close() error {
	if c, ok := s.Secrets.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn().Str("op", "ingest/wire").Err(err).Msg("error closing secrets client")
		}
	}
	return s.Storage.Close()
}
