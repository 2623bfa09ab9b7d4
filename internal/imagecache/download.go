package imagecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/javi11/plansync/internal/transport"
	"github.com/spf13/afero"
)

// Download fetches imageURL and caches it under userID. Concurrent calls for
// the same user share a single transfer and all receive its result. Unless
// force is set, a fresh cached copy short-circuits the network entirely. A
// URL inside its failure cooldown returns whatever is cached (possibly nil)
// without touching the network. On transfer failure a stale cached copy is
// returned instead of the error.
func (c *Cache) Download(ctx context.Context, imageURL, userID string, force bool) ([]byte, error) {
	if userID == "" {
		return nil, fmt.Errorf("empty user id")
	}

	if !force && !c.IsStale(userID, c.defaultMaxAge) {
		if data, ok := c.Get(userID); ok {
			return data, nil
		}
	}

	if c.inCooldown(imageURL) {
		c.log.DebugContext(ctx, "Image URL in failure cooldown, skipping download", "user_id", userID)
		data, _ := c.Get(userID)
		return data, nil
	}

	// The transfer is shared by every coalesced waiter, so it must not die
	// with the first caller's context.
	result, err, _ := c.group.Do(userID, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), imageURL, userID)
	})
	if err != nil {
		if data, ok := c.Get(userID); ok {
			c.log.DebugContext(ctx, "Download failed, serving stale cached image", "user_id", userID, "error", err)
			return data, nil
		}
		return nil, err
	}

	return result.([]byte), nil
}

func (c *Cache) fetch(ctx context.Context, imageURL, userID string) ([]byte, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		c.recordFailure(imageURL)
		return nil, fmt.Errorf("invalid image URL %q", imageURL)
	}

	var data []byte
	err = retry.Do(
		func() error {
			var ferr error
			data, ferr = c.transfer(ctx, imageURL)
			return ferr
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.retryAttempts)+1),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return time.Duration(n+1) * c.retryDelay
		}),
		retry.RetryIf(transport.IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.DebugContext(ctx, "Retrying image download", "user_id", userID, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		c.recordFailure(imageURL)
		c.log.WarnContext(ctx, "Image download failed", "user_id", userID, "error", err)
		return nil, err
	}

	if err := afero.WriteFile(c.fs, c.pathFor(userID), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write cached image: %w", err)
	}

	c.mem.Add(userID, data)

	now := time.Now()
	c.metaMu.Lock()
	c.meta[userID] = Metadata{CachedAt: now, LastAccessed: now, SizeBytes: int64(len(data))}
	c.metaMu.Unlock()

	c.clearFailure(imageURL)
	c.downloads.Add(1)
	c.scheduleMetadataSave()
	c.evictOversize()

	return data, nil
}

func (c *Cache) transfer(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &transport.APIError{StatusCode: resp.StatusCode, Message: "image download failed"}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image body")
	}

	return data, nil
}

// inCooldown reports whether imageURL failed recently enough that new
// attempts should be suppressed. Expired entries are dropped lazily.
func (c *Cache) inCooldown(imageURL string) bool {
	if imageURL == "" {
		return false
	}

	c.failMu.RLock()
	failedAt, ok := c.failures[imageURL]
	c.failMu.RUnlock()
	if !ok {
		return false
	}

	if time.Since(failedAt) < c.failureCooldown {
		return true
	}

	c.failMu.Lock()
	if at, ok := c.failures[imageURL]; ok && time.Since(at) >= c.failureCooldown {
		delete(c.failures, imageURL)
	}
	c.failMu.Unlock()
	return false
}

func (c *Cache) recordFailure(imageURL string) {
	if imageURL == "" {
		return
	}
	c.failMu.Lock()
	c.failures[imageURL] = time.Now()
	c.failMu.Unlock()
}

func (c *Cache) clearFailure(imageURL string) {
	c.failMu.Lock()
	delete(c.failures, imageURL)
	c.failMu.Unlock()
}
