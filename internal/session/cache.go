package session

import (
	"context"
	"time"

	"github.com/patchwatch/patchwatch/internal/core"
)

// ExpirySkew is how close to its deadline a cached session is considered expired.
const ExpirySkew = 2 * time.Minute

// Cache remembers the last account context and its session. It must only be
// used from a single sequential pass; it has no locking.
type Cache struct {
	provider Provider
	last     core.AccountContext
	sess     *core.Session
	now      func() time.Time
	obtained int
}

// NewCache wraps provider.
func NewCache(provider Provider) *Cache {
	return &Cache{provider: provider, now: time.Now}
}

// Matches reports whether acct equals the cached context on all three fields.
func (c *Cache) Matches(acct core.AccountContext) bool {
	return c.sess != nil && c.last == acct
}

// Session returns the cached session when acct matches and the session has not
// expired; otherwise it obtains a new one and replaces the cache. On failure
// the cache is emptied so the next row retries.
func (c *Cache) Session(ctx context.Context, acct core.AccountContext) (*core.Session, error) {
	if c.Matches(acct) && !c.sess.Expired(c.now(), ExpirySkew) {
		return c.sess, nil
	}

	sess, err := c.provider.Obtain(ctx, acct)
	c.obtained++
	if err != nil {
		c.sess = nil
		c.last = core.AccountContext{}
		return nil, err
	}
	c.last = acct
	c.sess = sess
	return sess, nil
}

// Obtained returns how many times the provider was called.
func (c *Cache) Obtained() int { return c.obtained }
