package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	awsx "github.com/patchwatch/patchwatch/internal/aws"
	"github.com/patchwatch/patchwatch/internal/core"
	"github.com/rs/zerolog"
)

type countingProvider struct {
	calls []core.AccountContext
	ttl   time.Duration
	fail  map[string]error
}

func (p *countingProvider) Obtain(ctx context.Context, acct core.AccountContext) (*core.Session, error) {
	p.calls = append(p.calls, acct)
	if err := p.fail[acct.AccountID]; err != nil {
		return nil, err
	}
	s := &core.Session{Account: acct, AccessKeyID: "ASIA" + acct.AccountID}
	if p.ttl > 0 {
		s.Expiration = time.Now().Add(p.ttl)
	}
	return s, nil
}

var (
	ctxA = core.AccountContext{AccountID: "111111111111", RoleName: "PatchRole", Region: "us-east-1"}
	ctxB = core.AccountContext{AccountID: "222222222222", RoleName: "PatchRole", Region: "us-east-1"}
)

func TestCacheReuseSequence(t *testing.T) {
	p := &countingProvider{}
	cache := NewCache(p)

	for _, acct := range []core.AccountContext{ctxA, ctxA, ctxB, ctxA} {
		sess, err := cache.Session(context.Background(), acct)
		if err != nil {
			t.Fatalf("Session: %v", err)
		}
		if sess.Account != acct {
			t.Fatalf("session for %s returned for %s", sess.Account, acct)
		}
	}
	if len(p.calls) != 3 {
		t.Fatalf("expected 3 provider calls for [A,A,B,A], got %d", len(p.calls))
	}
	if cache.Obtained() != 3 {
		t.Errorf("Obtained = %d", cache.Obtained())
	}
}

func TestCacheMatchesAllFields(t *testing.T) {
	cache := NewCache(&countingProvider{})
	if cache.Matches(ctxA) {
		t.Fatal("empty cache must not match")
	}
	cache.Session(context.Background(), ctxA)

	if !cache.Matches(ctxA) {
		t.Error("expected match for identical context")
	}
	otherRole := ctxA
	otherRole.RoleName = "Other"
	otherRegion := ctxA
	otherRegion.Region = "eu-west-1"
	if cache.Matches(otherRole) || cache.Matches(otherRegion) {
		t.Error("contexts differing in role or region must not match")
	}
}

func TestCacheRederivesExpiredSession(t *testing.T) {
	p := &countingProvider{ttl: time.Hour}
	cache := NewCache(p)
	cache.Session(context.Background(), ctxA)

	cache.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	cache.Session(context.Background(), ctxA)

	if len(p.calls) != 2 {
		t.Fatalf("expected expired session to be re-derived, got %d calls", len(p.calls))
	}
}

func TestCacheFailureClears(t *testing.T) {
	p := &countingProvider{fail: map[string]error{"222222222222": errors.New("denied")}}
	cache := NewCache(p)

	cache.Session(context.Background(), ctxA)
	if _, err := cache.Session(context.Background(), ctxB); err == nil {
		t.Fatal("expected failure for B")
	}
	if cache.Matches(ctxA) || cache.Matches(ctxB) {
		t.Error("cache should be empty after a failed obtain")
	}
	cache.Session(context.Background(), ctxA)
	if len(p.calls) != 3 {
		t.Errorf("expected A to be obtained again, got %d calls", len(p.calls))
	}
}

type fakeAssumer struct {
	err  error
	arns []string
}

func (f *fakeAssumer) AssumeRole(ctx context.Context, roleARN, sessionName string, durationSecs int32) (*awsx.AssumeRoleResult, error) {
	f.arns = append(f.arns, roleARN)
	if f.err != nil {
		return nil, f.err
	}
	return &awsx.AssumeRoleResult{
		AccessKeyID:     "ASIAROLE",
		SecretAccessKey: "s",
		SessionToken:    "t",
		Expiration:      time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func TestSTSProviderObtain(t *testing.T) {
	assumer := &fakeAssumer{}
	p := NewSTSProvider(assumer, "MWCheckSession", zerolog.Nop(), nil, "")

	sess, err := p.Obtain(context.Background(), ctxA)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if assumer.arns[0] != "arn:aws:iam::111111111111:role/PatchRole" {
		t.Errorf("role arn = %s", assumer.arns[0])
	}
	if sess.Account != ctxA || sess.SessionToken != "t" || sess.Expiration.IsZero() {
		t.Errorf("unexpected session: %+v", sess)
	}

	// No internal caching.
	p.Obtain(context.Background(), ctxA)
	if len(assumer.arns) != 2 {
		t.Errorf("provider must not cache, got %d calls", len(assumer.arns))
	}
}

func TestSTSProviderAuthorizationError(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized to perform sts:AssumeRole"}
	p := NewSTSProvider(&fakeAssumer{err: apiErr}, "MWCheckSession", zerolog.Nop(), nil, "")

	_, err := p.Obtain(context.Background(), ctxB)
	var authErr *core.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %T: %v", err, err)
	}
	if authErr.Code != "AccessDenied" || authErr.Account != ctxB {
		t.Errorf("unexpected error detail: %+v", authErr)
	}

	p = NewSTSProvider(&fakeAssumer{err: errors.New("connection reset")}, "MWCheckSession", zerolog.Nop(), nil, "")
	if _, err := p.Obtain(context.Background(), ctxB); !core.IsAuthorizationError(err) {
		t.Errorf("non-API failures are still authorization errors, got %v", err)
	}
}

func TestSTSProviderRejectsIncompleteContext(t *testing.T) {
	assumer := &fakeAssumer{}
	p := NewSTSProvider(assumer, "MWCheckSession", zerolog.Nop(), nil, "")
	_, err := p.Obtain(context.Background(), core.AccountContext{AccountID: "1"})
	if !core.IsMalformedInput(err) {
		t.Fatalf("expected MalformedInput, got %v", err)
	}
	if len(assumer.arns) != 0 {
		t.Error("no role should be assumed for an incomplete context")
	}
}
