package llmclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agentgw/internal/apperrors"
	"agentgw/internal/streamadapter"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// ProviderConfig carries the per-provider credentials the factory needs to
// construct a client. The keys are used exactly as configured; no
// secret-store reference resolution is applied to them.
type ProviderConfig struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
}

// ModelRoute maps a model id from /list/models to the provider that serves
// it, since a single gateway process may expose models from both providers
// side by side.
type ModelRoute struct {
	ModelID  string
	Provider ProviderKind
}

// Factory builds and caches Clients per model id, wrapping each with a
// retry/circuit-breaker policy. Per-user rate limiters are available through
// LimiterFor; the wrapped clients do not consult them.
// Grounded on cklxx-elephant.ai/internal/infra/llm/factory.go's
// cache-then-wrap pipeline, narrowed to this gateway's two providers.
type Factory struct {
	routes map[string]ProviderKind
	config ProviderConfig

	mu    sync.RWMutex
	cache *lru.Cache[string, Client]

	retryConfig   apperrors.RetryConfig
	breakers      map[string]*apperrors.CircuitBreaker
	breakersMu    sync.Mutex
	userLimiters  map[string]*rate.Limiter
	limitersMu    sync.Mutex
	userRateLimit rate.Limit
	userRateBurst int
}

const defaultClientCacheSize = 32

// NewFactory constructs a Factory. routes binds each configured model id to
// the provider that serves it.
func NewFactory(routes []ModelRoute, config ProviderConfig) *Factory {
	routeMap := make(map[string]ProviderKind, len(routes))
	for _, r := range routes {
		routeMap[r.ModelID] = r.Provider
	}
	cache, _ := lru.New[string, Client](defaultClientCacheSize)
	return &Factory{
		routes:       routeMap,
		config:       config,
		cache:        cache,
		retryConfig:  apperrors.DefaultRetryConfig(),
		breakers:     make(map[string]*apperrors.CircuitBreaker),
		userLimiters: make(map[string]*rate.Limiter),
	}
}

// EnableUserRateLimit turns on a per-user token-bucket limiter shared across
// all of that user's upstream calls, mirroring the teacher's
// EnableUserRateLimit knob.
func (f *Factory) EnableUserRateLimit(limit rate.Limit, burst int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userRateLimit = limit
	if burst < 1 {
		burst = 1
	}
	f.userRateBurst = burst
}

// GetClient returns the cached Client for modelID, constructing one on
// first use.
func (f *Factory) GetClient(modelID string) (Client, error) {
	f.mu.RLock()
	cache := f.cache
	f.mu.RUnlock()

	if cache != nil {
		if client, ok := cache.Get(modelID); ok {
			return client, nil
		}
	}

	provider, ok := f.routes[modelID]
	if !ok {
		return nil, fmt.Errorf("llmclient: unknown model id %q", modelID)
	}

	var client Client
	switch provider {
	case ProviderAnthropic:
		client = NewAnthropicClient(modelID, f.config.AnthropicAPIKey, "")
	case ProviderOpenAI:
		client = NewOpenAIClient(modelID, f.config.OpenAIAPIKey, f.config.OpenAIBaseURL)
	default:
		return nil, fmt.Errorf("llmclient: unsupported provider %q", provider)
	}

	client = f.wrapWithRetry(modelID, client)

	if cache != nil {
		cache.Add(modelID, client)
	}
	return client, nil
}

func (f *Factory) breakerFor(modelID string) *apperrors.CircuitBreaker {
	f.breakersMu.Lock()
	defer f.breakersMu.Unlock()
	b, ok := f.breakers[modelID]
	if !ok {
		b = apperrors.NewCircuitBreaker(apperrors.DefaultCircuitBreakerConfig())
		f.breakers[modelID] = b
	}
	return b
}

func (f *Factory) wrapWithRetry(modelID string, inner Client) Client {
	return &retryingClient{
		inner:   inner,
		cfg:     f.retryConfig,
		breaker: f.breakerFor(modelID),
	}
}

// LimiterFor returns (constructing if needed) the per-user rate limiter for
// userID, or nil if rate limiting is disabled.
func (f *Factory) LimiterFor(userID string) *rate.Limiter {
	f.mu.RLock()
	limit := f.userRateLimit
	burst := f.userRateBurst
	f.mu.RUnlock()
	if limit <= 0 {
		return nil
	}

	f.limitersMu.Lock()
	defer f.limitersMu.Unlock()
	l, ok := f.userLimiters[userID]
	if !ok {
		l = rate.NewLimiter(limit, burst)
		f.userLimiters[userID] = l
	}
	return l
}

// retryingClient wraps a Client with the shared retry/circuit-breaker
// policy (spec: MCP and model calls both use the apperrors transient
// classification to decide whether a retry is worthwhile).
type retryingClient struct {
	inner   Client
	cfg     apperrors.RetryConfig
	breaker *apperrors.CircuitBreaker
}

func (r *retryingClient) Provider() ProviderKind { return r.inner.Provider() }

// Stream retries a failed attempt only while nothing has reached sink yet.
// Once the inner client has forwarded a single event, the attempt is no
// longer a clean retry candidate: sink's caller (turnRunner) is emitting
// those events live over SSE, so replaying the call from scratch would
// re-invoke the model and duplicate everything already sent. This hand-rolls
// the retry loop rather than using apperrors.Do because the stop condition
// here (has anything been emitted yet) isn't the transient/permanent
// classification Do understands. Matches the teacher's
// retryClient.StreamComplete (internal/infra/llm/retry_client.go), which
// stops retrying the instant a stream has started and only retries a
// pre-stream failure.
func (r *retryingClient) Stream(ctx context.Context, req Request, sink RawEventSink) error {
	if !r.breaker.Allow() {
		return apperrors.New(apperrors.KindModelUpstream, "upstream circuit breaker open")
	}

	cfg := r.cfg
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	tracked := &emitTrackingSink{inner: sink}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			r.breaker.RecordFailure()
			return err
		}

		lastErr = r.inner.Stream(ctx, req, tracked)
		if lastErr == nil {
			r.breaker.RecordSuccess()
			return nil
		}
		if tracked.emitted || !apperrors.IsTransient(lastErr) || attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			r.breaker.RecordFailure()
			return ctx.Err()
		case <-time.After(cfg.Delay(attempt)):
		}
	}

	r.breaker.RecordFailure()
	return lastErr
}

// emitTrackingSink wraps a RawEventSink to record whether any event has
// reached it yet, so the retry loop can tell a clean pre-stream failure
// (safe to retry) from a mid-stream failure (not safe to retry).
type emitTrackingSink struct {
	inner   RawEventSink
	emitted bool
}

func (t *emitTrackingSink) ProviderA(ev streamadapter.ProviderARawEvent) {
	t.emitted = true
	t.inner.ProviderA(ev)
}

func (t *emitTrackingSink) ProviderB(ev streamadapter.ProviderBRawEvent) {
	t.emitted = true
	t.inner.ProviderB(ev)
}
