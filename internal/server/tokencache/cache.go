// Package tokencache keeps short-lived access tokens per account and
// deduplicates concurrent refreshes, so N simultaneous callers for the same
// account cost at most one upstream exchange.
package tokencache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/outlook"
)

const defaultExpiryMargin = 5 * time.Minute

// Exchanger performs the actual refresh-grant exchange. *outlook.Client
// satisfies it.
type Exchanger interface {
	ExchangeToken(ctx context.Context, refreshToken, clientID string) (*outlook.Token, error)
}

type entry struct {
	accessToken string
	expiresAt   time.Time
}

// Cache holds one access token per account ID. Tokens are considered expired
// a safety margin before their real deadline so callers never hand out a
// token that dies mid-request.
type Cache struct {
	exchanger Exchanger
	margin    time.Duration
	log       logging.Logger

	mu      sync.Mutex
	entries map[string]entry

	group singleflight.Group

	// now is a test seam.
	now func() time.Time
}

func New(exchanger Exchanger, margin time.Duration, log logging.Logger) *Cache {
	if margin <= 0 {
		margin = defaultExpiryMargin
	}
	return &Cache{
		exchanger: exchanger,
		margin:    margin,
		log:       log.With("component", "tokencache"),
		entries:   make(map[string]entry),
		now:       time.Now,
	}
}

// Obtain returns a live access token for the account, exchanging the refresh
// token only when no cached token remains valid. Concurrent calls for the
// same account share a single exchange.
func (c *Cache) Obtain(ctx context.Context, accountID, refreshToken, clientID string) (string, error) {
	if token, ok := c.cached(accountID); ok {
		return token, nil
	}
	return c.exchange(ctx, accountID, refreshToken, clientID)
}

// Refresh forces a fresh exchange regardless of any cached token. Concurrent
// forced refreshes for the same account are still collapsed into one.
func (c *Cache) Refresh(ctx context.Context, accountID, refreshToken, clientID string) (string, error) {
	c.Invalidate(accountID)
	return c.exchange(ctx, accountID, refreshToken, clientID)
}

// Invalidate drops the cached token for the account, if any.
func (c *Cache) Invalidate(accountID string) {
	c.mu.Lock()
	delete(c.entries, accountID)
	c.mu.Unlock()
}

func (c *Cache) cached(accountID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[accountID]
	if !ok {
		return "", false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, accountID)
		return "", false
	}
	return e.accessToken, true
}

func (c *Cache) exchange(ctx context.Context, accountID, refreshToken, clientID string) (string, error) {
	v, err, shared := c.group.Do(accountID, func() (any, error) {
		// A sibling call may have just finished the exchange.
		if token, ok := c.cached(accountID); ok {
			return token, nil
		}

		token, err := c.exchanger.ExchangeToken(ctx, refreshToken, clientID)
		if err != nil {
			return nil, err
		}

		expiresAt := c.now().Add(time.Duration(token.ExpiresIn)*time.Second - c.margin)
		c.mu.Lock()
		c.entries[accountID] = entry{accessToken: token.AccessToken, expiresAt: expiresAt}
		c.mu.Unlock()

		c.log.Debug(ctx, "access token exchanged", "account_id", accountID, "expires_in", token.ExpiresIn)
		return token.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.log.Debug(ctx, "token exchange deduplicated", "account_id", accountID)
	}
	return v.(string), nil
}

// Source adapts the cache into an outlook.TokenSource bound to one account's
// credentials.
func (c *Cache) Source(accountID, refreshToken, clientID string) outlook.TokenSource {
	return &accountSource{cache: c, accountID: accountID, refreshToken: refreshToken, clientID: clientID}
}

type accountSource struct {
	cache        *Cache
	accountID    string
	refreshToken string
	clientID     string
}

func (s *accountSource) Token(ctx context.Context) (string, error) {
	return s.cache.Obtain(ctx, s.accountID, s.refreshToken, s.clientID)
}

func (s *accountSource) Refresh(ctx context.Context) (string, error) {
	return s.cache.Refresh(ctx, s.accountID, s.refreshToken, s.clientID)
}
