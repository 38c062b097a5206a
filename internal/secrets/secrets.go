// Package secrets looks up named configuration strings, such as the storage
// project that owns the ingest bucket.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("secrets: not found")

type Resolver interface {
	Lookup(ctx context.Context, name string) (string, error)
}

// Static resolves names from a fixed map. Keys are case-insensitive.
type Static map[string]string

func (s Static) Lookup(ctx context.Context, name string) (string, error) {
	for k, v := range s {
		if strings.EqualFold(k, name) {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// InvocationCache memoizes lookups for the lifetime of one invocation. A new
// cache must be created for every invocation so rotated values are picked up.
type InvocationCache struct {
	r      Resolver
	mu     sync.Mutex
	values map[string]string
}

func NewInvocationCache(r Resolver) *InvocationCache {
	return &InvocationCache{r: r, values: make(map[string]string)}
}

func (c *InvocationCache) Lookup(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[name]; ok {
		return v, nil
	}
	v, err := c.r.Lookup(ctx, name)
	if err != nil {
		return "", err
	}
	v = strings.TrimSpace(v)
	c.values[name] = v
	return v, nil
}

// Env resolves NAME from the environment variable <Prefix><NAME>, upper-cased
// with dashes and slashes mapped to underscores.
type Env struct {
	Prefix string
}

func (e Env) Lookup(ctx context.Context, name string) (string, error) {
	key := strings.ToUpper(e.Prefix + strings.NewReplacer("-", "_", "/", "_").Replace(name))
	if v, ok := os.LookupEnv(key); ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s (env %s)", ErrNotFound, name, key)
}

// Chain tries each resolver in order and returns the first hit.
type Chain []Resolver

func (c Chain) Lookup(ctx context.Context, name string) (string, error) {
	var lastErr error = fmt.Errorf("%w: %s", ErrNotFound, name)
	for _, r := range c {
		v, err := r.Lookup(ctx, name)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return "", lastErr
}
