// Package lookup talks to the external game-platform API. It memoizes
// results with a TTL and enforces a provider-wide minimum interval between
// outbound calls, so bursty or duplicate activity never exceeds the
// provider's rate limit. Lookup failures are reported as "absent", so the
// entitlement checks built on top of this package fail closed.
package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/passgate/internal/logging"
)

const (
	defaultCacheTTL    = 300 * time.Second
	defaultMinInterval = time.Second
	defaultCallTimeout = 10 * time.Second
	defaultRetryHint   = 5 * time.Second
	defaultMaxRetries  = 3

	maxResponseBytes = 1 << 20
)

// HTTPDoer abstracts *http.Client for tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type cacheEntry struct {
	value    any
	storedAt time.Time
}

// rateLimitedError marks a 429 from the provider, carrying its Retry-After
// hint (or the default when the header is absent or unparsable).
type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.retryAfter)
}

// Config carries the resolver's endpoints and tunables. Zero values fall
// back to the defaults above.
type Config struct {
	Client       HTTPDoer
	Logger       logging.Logger
	UsersURL     string // POST username→id resolution endpoint
	InventoryURL string // GET inventory endpoint, formatted with user id and item id
	CacheTTL     time.Duration
	MinInterval  time.Duration
	CallTimeout  time.Duration
	RetryHint    time.Duration
	MaxRetries   uint64
}

// Resolver is safe for concurrent use. The cache map and the throttle gate
// are guarded separately: a cache hit never touches the gate, and callers
// queue on the gate mutex rather than racing for the shared last-call
// timestamp.
type Resolver struct {
	client HTTPDoer
	logger logging.Logger

	usersURL     string
	inventoryURL string

	cacheMu sync.Mutex
	cache   map[string]cacheEntry
	ttl     time.Duration

	gateMu      sync.Mutex
	lastCall    time.Time
	minInterval time.Duration

	callTimeout time.Duration
	retryHint   time.Duration
	maxRetries  uint64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewResolver(cfg Config) *Resolver {
	r := &Resolver{
		client:       cfg.Client,
		logger:       cfg.Logger.With("module", "lookup"),
		usersURL:     cfg.UsersURL,
		inventoryURL: cfg.InventoryURL,
		cache:        map[string]cacheEntry{},
		ttl:          cfg.CacheTTL,
		minInterval:  cfg.MinInterval,
		callTimeout:  cfg.CallTimeout,
		retryHint:    cfg.RetryHint,
		maxRetries:   cfg.MaxRetries,
		now:          time.Now,
		sleep:        sleepContext,
	}
	if r.client == nil {
		r.client = &http.Client{}
	}
	if r.ttl <= 0 {
		r.ttl = defaultCacheTTL
	}
	if r.minInterval <= 0 {
		r.minInterval = defaultMinInterval
	}
	if r.callTimeout <= 0 {
		r.callTimeout = defaultCallTimeout
	}
	if r.retryHint <= 0 {
		r.retryHint = defaultRetryHint
	}
	if r.maxRetries == 0 {
		r.maxRetries = defaultMaxRetries
	}
	return r
}

// UserID resolves a platform username to its numeric account id. The second
// return value is false both when the user does not exist and when the
// lookup failed; callers must not treat the two differently.
func (r *Resolver) UserID(ctx context.Context, username string) (int64, bool) {
	key := "user_" + username
	value, ok := r.resolve(ctx, key, func(ctx context.Context) (any, error) {
		return r.fetchUserID(ctx, username)
	})
	if !ok {
		return 0, false
	}
	id, ok := value.(int64)
	return id, ok
}

// HasItem reports whether the external account owns the given item. False on
// any lookup failure: entitlement checks fail closed.
func (r *Resolver) HasItem(ctx context.Context, externalID, itemID int64) bool {
	key := fmt.Sprintf("gamepass_%d_%d", externalID, itemID)
	value, ok := r.resolve(ctx, key, func(ctx context.Context) (any, error) {
		return r.fetchHasItem(ctx, externalID, itemID)
	})
	if !ok {
		return false
	}
	has, ok := value.(bool)
	return has && ok
}

// resolve is the shared cache-then-throttle-then-fetch path. The cache check
// precedes the throttle: a live entry costs neither a network call nor a
// wait. Only successful fetches populate the cache.
func (r *Resolver) resolve(ctx context.Context, key string, fetch func(ctx context.Context) (any, error)) (any, bool) {
	if value, ok := r.cached(key); ok {
		return value, true
	}

	var value any
	var hint time.Duration

	err := retry.Do(ctx, r.backoff(&hint), func(ctx context.Context) error {
		if err := r.waitTurn(ctx); err != nil {
			return err
		}
		v, err := fetch(ctx)
		if err != nil {
			var limited *rateLimitedError
			if errors.As(err, &limited) {
				hint = limited.retryAfter
				return retry.RetryableError(err)
			}
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		// Deliberately collapsed to "absent" for the caller; the log line is
		// what lets operators tell an outage apart from a negative result.
		r.logger.Error(ctx, "upstream lookup failed", "key", key, "error", err)
		return nil, false
	}

	r.cacheMu.Lock()
	r.cache[key] = cacheEntry{value: value, storedAt: r.now()}
	r.cacheMu.Unlock()

	return value, true
}

func (r *Resolver) cached(key string) (any, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	entry, ok := r.cache[key]
	if !ok {
		return nil, false
	}
	if r.now().Sub(entry.storedAt) >= r.ttl {
		// Lazy expiry: stale entries are treated as absent, not swept.
		return nil, false
	}
	return entry.value, true
}

// waitTurn enforces the provider-wide minimum interval between outbound
// calls. The gate mutex is held across the sleep so concurrent callers queue
// in arrival order instead of dog-piling the provider.
func (r *Resolver) waitTurn(ctx context.Context) error {
	r.gateMu.Lock()
	defer r.gateMu.Unlock()

	if elapsed := r.now().Sub(r.lastCall); elapsed < r.minInterval {
		if err := r.sleep(ctx, r.minInterval-elapsed); err != nil {
			return err
		}
	}
	r.lastCall = r.now()
	return nil
}

// backoff waits the provider's Retry-After hint when one was supplied,
// falling back to exponential growth, and gives up after maxRetries
// attempts. The original behavior here was an unbounded recursive retry;
// the bound is intentional.
func (r *Resolver) backoff(hint *time.Duration) retry.Backoff {
	next := retry.WithMaxRetries(r.maxRetries, retry.NewExponential(r.retryHint))
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := next.Next()
		if stop {
			return 0, true
		}
		if *hint > 0 {
			d = *hint
			*hint = 0
		}
		return d, false
	})
}

func (r *Resolver) fetchUserID(ctx context.Context, username string) (any, error) {
	body, err := json.Marshal(map[string][]string{"usernames": {username}})
	if err != nil {
		return nil, err
	}

	var out struct {
		Data []struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	err = r.call(ctx, http.MethodPost, r.usersURL, body, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("user %q: no match", username)
	}
	return out.Data[0].ID, nil
}

func (r *Resolver) fetchHasItem(ctx context.Context, externalID, itemID int64) (any, error) {
	url := fmt.Sprintf(r.inventoryURL, externalID, itemID)

	var out struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := r.call(ctx, http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	return len(out.Data) > 0, nil
}

// call performs one outbound HTTP request with the fixed per-call timeout
// and decodes a 200 response into out. A 429 is returned as
// *rateLimitedError so resolve can retry it; any other failure is terminal
// for this attempt.
func (r *Resolver) call(ctx context.Context, method, url string, body []byte, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return err
		}
		return json.Unmarshal(data, out)
	case resp.StatusCode == http.StatusTooManyRequests:
		return &rateLimitedError{retryAfter: r.retryAfterHint(resp)}
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func (r *Resolver) retryAfterHint(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return r.retryHint
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return r.retryHint
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
