// Package ingest binds the process-wide collaborators to per-invocation work.
// Every Fetch or Extract call is one invocation with its own secret cache.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/stager/internal/routing"
	"github.com/tanq16/stager/internal/secrets"
	"github.com/tanq16/stager/internal/storage"
	"github.com/tanq16/stager/internal/transfer"
)

type ExtractSettings struct {
	Prefix            string
	Extension         string
	CommitConcurrency int
}

// Service is immutable once built and safe to share between invocations.
type Service struct {
	Storage      storage.Client
	Secrets      secrets.Resolver
	HTTP         transfer.Doer
	Rules        map[string]routing.Rule
	Bucket       string
	BucketSecret string
	Extraction   ExtractSettings
	BufferSize   int
	Reporter     transfer.Reporter
}

// resolveBucket prefers the configured bucket name and falls back to the
// named secret, looked up through this invocation's cache.
func (s *Service) resolveBucket(ctx context.Context, cache *secrets.InvocationCache) (string, error) {
	if s.Bucket != "" {
		return s.Bucket, nil
	}
	if s.BucketSecret == "" {
		return "", fmt.Errorf("no bucket configured")
	}
	if s.Secrets == nil {
		return "", fmt.Errorf("no secret resolver for bucket secret %s", s.BucketSecret)
	}
	name, err := cache.Lookup(ctx, s.BucketSecret)
	if err != nil {
		return "", fmt.Errorf("error resolving bucket from secret %s: %w", s.BucketSecret, err)
	}
	if name == "" {
		return "", fmt.Errorf("secret %s holds an empty bucket name", s.BucketSecret)
	}
	return name, nil
}

func (s *Service) rule(route string) (routing.Rule, error) {
	if route == "" {
		route = routing.DefaultRoute
	}
	rule, ok := s.Rules[strings.ToLower(route)]
	if !ok {
		return routing.Rule{}, fmt.Errorf("unknown route %q", route)
	}
	return rule, nil
}

func (s *Service) report(o *transfer.Outcome) {
	if s.Reporter != nil && o != nil {
		s.Reporter.Report(o)
	}
}

// Fetch downloads sourceURL into the bucket under the named route.
func (s *Service) Fetch(ctx context.Context, sourceURL, route string) (*transfer.Outcome, error) {
	rule, err := s.rule(route)
	if err != nil {
		log.Error().Str("op", "ingest/service").Err(err).Msgf("Fetch Rejected: %s", sourceURL)
		return nil, err
	}
	cache := secrets.NewInvocationCache(s.Secrets)
	bucketName, err := s.resolveBucket(ctx, cache)
	if err != nil {
		log.Error().Str("op", "ingest/service").Err(err).Msgf("Fetch Rejected: %s", sourceURL)
		return nil, err
	}
	f := transfer.NewFetcher(s.HTTP, s.Storage.Bucket(bucketName))
	if s.BufferSize > 0 {
		f.BufferSize = s.BufferSize
	}
	o, err := f.Fetch(ctx, sourceURL, rule)
	s.report(o)
	return o, err
}

// Extract expands the archive named by ref. The bucket in ref wins over the
// configured one, since notifications name the bucket they came from.
func (s *Service) Extract(ctx context.Context, ref transfer.ObjectRef) (*transfer.Outcome, error) {
	if ref.Bucket == "" {
		cache := secrets.NewInvocationCache(s.Secrets)
		bucketName, err := s.resolveBucket(ctx, cache)
		if err != nil {
			log.Error().Str("op", "ingest/service").Err(err).Msgf("Extract Rejected: %s", ref.Path)
			return nil, err
		}
		ref.Bucket = bucketName
	}
	x := transfer.NewExtractor(s.Storage.Bucket(ref.Bucket), s.Extraction.Prefix)
	if s.Extraction.Extension != "" {
		x.Extension = s.Extraction.Extension
	}
	if s.Extraction.CommitConcurrency > 0 {
		x.CommitConcurrency = s.Extraction.CommitConcurrency
	}
	if s.BufferSize > 0 {
		x.BufferSize = s.BufferSize
	}
	o, err := x.Extract(ctx, ref)
	s.report(o)
	return o, err
}
