// Package aws wraps the AWS SDK v2 clients patchwatch calls, with rate limiting,
// resource group caching and audit logging. Every call runs under a core.Session.
package aws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/patchwatch/patchwatch/internal/audit"
	"github.com/patchwatch/patchwatch/internal/core"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// LoadBaseConfig resolves the caller identity from the default credential
// chain (env, shared config, instance role). It is only used for STS.
func LoadBaseConfig(ctx context.Context, region string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMaxAttempts(5),
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading default AWS config: %w", err)
	}
	return cfg, nil
}

// ClientFactory creates rate-limited, audit-logged AWS service clients.
type ClientFactory struct {
	mu          sync.Mutex
	base        aws.Config
	rateLimiter *RateLimiter
	logger      zerolog.Logger
	groups      *GroupCache
	auditLogger *audit.Logger
	runUUID     string
	build       ClientBuilder
	sts         STSAPI
}

// NewClientFactory creates a factory whose role assumptions run as the base
// identity.
func NewClientFactory(base aws.Config, logger zerolog.Logger, ratePerSec float64) *ClientFactory {
	return &ClientFactory{
		base:        base,
		rateLimiter: NewRateLimiter(ratePerSec),
		logger:      logger,
		groups:      NewGroupCache(5 * time.Minute),
		build:       NewSDKClients,
		sts:         sts.NewFromConfig(base),
	}
}

// SetAudit enables audit logging on an existing factory.
func (f *ClientFactory) SetAudit(al *audit.Logger, runUUID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditLogger = al
	f.runUUID = runUUID
}

// SetClientBuilder replaces how per-session clients are built.
func (f *ClientFactory) SetClientBuilder(b ClientBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.build = b
}

// SetSTSClient replaces the client used for role assumption.
func (f *ClientFactory) SetSTSClient(c STSAPI) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sts = c
}

// Groups returns the resource group membership cache.
func (f *ClientFactory) Groups() *GroupCache { return f.groups }

func (f *ClientFactory) awsConfig(sess *core.Session, region string) aws.Config {
	cfg := f.base.Copy()
	cfg.Region = region
	cfg.Credentials = credentials.NewStaticCredentialsProvider(
		sess.AccessKeyID,
		sess.SecretAccessKey,
		sess.SessionToken,
	)
	cfg.RetryMaxAttempts = 5
	return cfg
}

// clients returns service clients bound to sess in its own region.
func (f *ClientFactory) clients(sess *core.Session) *Clients {
	return f.clientsForRegion(sess, sess.Account.Region)
}

func (f *ClientFactory) clientsForRegion(sess *core.Session, region string) *Clients {
	f.mu.Lock()
	build := f.build
	f.mu.Unlock()
	return build(f.awsConfig(sess, region))
}

// wait blocks on the service's rate limiter.
func (f *ClientFactory) wait(ctx context.Context, service string) error {
	if err := f.rateLimiter.Wait(ctx, service); err != nil {
		return fmt.Errorf("rate limiter (%s): %w", service, err)
	}
	return nil
}

// logAPICall records an API call to both the structured logger and the audit database.
func (f *ClientFactory) logAPICall(sess *core.Session, service, operation string, params map[string]string, err error) {
	ev := f.logger.Debug()
	if err != nil {
		ev = f.logger.Warn().Err(err)
	}
	accountID := ""
	if sess != nil {
		accountID = sess.Account.AccountID
		ev = ev.Str("account_id", accountID).Str("region", sess.Account.Region)
	}
	ev.Str("service", service).Str("operation", operation).Msg("aws api call")

	f.mu.Lock()
	al, runUUID := f.auditLogger, f.runUUID
	f.mu.Unlock()
	if al != nil {
		detail := map[string]string{
			"service":   service,
			"operation": operation,
		}
		for k, v := range params {
			detail[k] = v
		}
		if err != nil {
			detail["error"] = err.Error()
		}
		if aerr := al.Log(audit.EventAPICall, runUUID, accountID, detail); aerr != nil {
			f.logger.Warn().Err(aerr).Msg("audit write failed")
		}
	}
}

// --- Rate Limiter ---

// RateLimiter holds one token bucket per AWS service.
type RateLimiter struct {
	mu         sync.Mutex
	ratePerSec float64
	limiters   map[string]*rate.Limiter
}

// NewRateLimiter creates a limiter allowing ratePerSec calls per service.
// A non-positive rate disables limiting.
func NewRateLimiter(ratePerSec float64) *RateLimiter {
	return &RateLimiter{
		ratePerSec: ratePerSec,
		limiters:   make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) limiter(service string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[service]
	if !ok {
		limit := rate.Inf
		if rl.ratePerSec > 0 {
			limit = rate.Limit(rl.ratePerSec)
		}
		l = rate.NewLimiter(limit, 1)
		rl.limiters[service] = l
	}
	return l
}

// Wait blocks until service may make another call or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, service string) error {
	return rl.limiter(service).Wait(ctx)
}

// --- Resource group cache ---

type groupKey struct {
	accountID string
	region    string
	group     string
}

type groupEntry struct {
	members []core.ResourceRef
	expires time.Time
}

// GroupCache holds resource group membership per account, region and group
// name for a fixed TTL.
type GroupCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[groupKey]groupEntry
}

func NewGroupCache(ttl time.Duration) *GroupCache {
	return &GroupCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[groupKey]groupEntry),
	}
}

// Get returns the cached members of group as seen from acct, if still fresh.
func (c *GroupCache) Get(acct core.AccountContext, group string) ([]core.ResourceRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := groupKey{acct.AccountID, acct.Region, group}
	e, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, k)
		return nil, false
	}
	return e.members, true
}

func (c *GroupCache) Put(acct core.AccountContext, group string, members []core.ResourceRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[groupKey{acct.AccountID, acct.Region, group}] = groupEntry{members: members, expires: c.now().Add(c.ttl)}
}

// Forget drops every entry of accountID, or everything when accountID is
// empty, and returns how many entries were removed.
func (c *GroupCache) Forget(accountID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if accountID == "" {
		n := len(c.entries)
		c.entries = make(map[groupKey]groupEntry)
		return n
	}
	n := 0
	for k := range c.entries {
		if k.accountID == accountID {
			delete(c.entries, k)
			n++
		}
	}
	return n
}
