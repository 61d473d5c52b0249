// Package secrets implements the Secrets resolver (spec §4.B): resolving the
// API credential either from a literal configuration value or from an
// external secret store referenced by ARN, with single-flight caching so a
// cold-start thundering herd collapses into one upstream fetch.
package secrets

import (
	"context"
	"strings"

	"agentgw/internal/apperrors"
	"agentgw/internal/logging"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// SecretStore is the subset of an external secret store the resolver needs.
// The AWS Secrets Manager client satisfies this via NewAWSSecretStore.
type SecretStore interface {
	GetSecretValue(ctx context.Context, arn string) (string, error)
}

// Resolver implements get_api_key(): literal passthrough, or ARN resolution
// with a cache that never stores a failure (spec §4.B: "the cache never
// stores a failure").
type Resolver struct {
	store SecretStore
	cache *lru.Cache[string, string]
	group singleflight.Group
	log   logging.Logger
}

const arnPrefix = "arn:"

// New constructs a Resolver backed by store, with an LRU cache sized for the
// handful of distinct secret references a gateway process resolves
// (mirroring the teacher's LLM-client cache shape in
// internal/infra/llm/factory.go, here applied to resolved secret values
// instead of client instances).
func New(store SecretStore) *Resolver {
	cache, _ := lru.New[string, string](32)
	return &Resolver{
		store: store,
		cache: cache,
		log:   logging.NewCategoryLogger("SECRETS", "Resolver"),
	}
}

// Resolve implements get_api_key() for a single configured value. If value is
// a literal (does not start with "arn:"), it is returned as-is. Otherwise it
// is resolved once against the secret store and cached; concurrent callers
// resolving the same ARN collapse into a single upstream fetch via
// singleflight, matching spec §4.B's "resolver-level lock" requirement.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if !strings.HasPrefix(value, arnPrefix) {
		return value, nil
	}

	if r.cache != nil {
		if cached, ok := r.cache.Get(value); ok {
			return cached, nil
		}
	}

	result, err, _ := r.group.Do(value, func() (any, error) {
		resolved, err := r.store.GetSecretValue(ctx, value)
		if err != nil {
			return "", apperrors.Wrap(apperrors.KindStoreUnavailable, "secret resolution failed", err)
		}
		if r.cache != nil {
			r.cache.Add(value, resolved)
		}
		return resolved, nil
	})
	if err != nil {
		r.log.Warn("failed to resolve secret reference: %v", err)
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops a cached resolution, forcing the next Resolve to refetch.
// Useful when a caller observes an authentication failure using a cached
// value and suspects the underlying secret was rotated.
func (r *Resolver) Invalidate(value string) {
	if r.cache != nil {
		r.cache.Remove(value)
	}
}
