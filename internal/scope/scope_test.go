package scope

import (
	"testing"

	"github.com/patchwatch/patchwatch/internal/core"
)

func TestCheckAccount(t *testing.T) {
	checker := NewChecker(core.Scope{
		AccountIDs: []string{"123456789012", "999888777666"},
	})

	if err := checker.CheckAccount("123456789012"); err != nil {
		t.Errorf("Expected in-scope account to pass: %v", err)
	}

	if err := checker.CheckAccount("111111111111"); err == nil {
		t.Error("Expected out-of-scope account to fail")
	} else if !IsScopeViolation(err) {
		t.Errorf("Expected ScopeViolation error, got %T", err)
	}
}

func TestCheckRegion(t *testing.T) {
	checker := NewChecker(core.Scope{
		Regions: []string{"us-east-1", "us-west-2"},
	})

	if err := checker.CheckRegion("us-east-1"); err != nil {
		t.Errorf("Expected in-scope region to pass: %v", err)
	}

	if err := checker.CheckRegion("eu-west-1"); err == nil {
		t.Error("Expected out-of-scope region to fail")
	}
}

func TestEmptyScopeAllowsAll(t *testing.T) {
	checker := NewChecker(core.Scope{})
	if !checker.IsInScope("000000000000", "ap-south-1") {
		t.Error("empty scope should allow everything")
	}
}

func TestPartitionKeepsOrder(t *testing.T) {
	checker := NewChecker(core.Scope{
		AccountIDs: []string{"111111111111", "333333333333"},
		Regions:    []string{"us-east-1"},
	})

	accounts := []core.AccountContext{
		{AccountID: "333333333333", RoleName: "R", Region: "us-east-1"},
		{AccountID: "222222222222", RoleName: "R", Region: "us-east-1"},
		{AccountID: "111111111111", RoleName: "R", Region: "eu-west-1"},
		{AccountID: "111111111111", RoleName: "R", Region: "us-east-1"},
	}

	in, out := checker.Partition(accounts)
	if len(in) != 2 || in[0].AccountID != "333333333333" || in[1].AccountID != "111111111111" {
		t.Errorf("unexpected in-scope contexts: %+v", in)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(out))
	}
	if out[0].Resource != "account:222222222222" || out[1].Resource != "region:eu-west-1" {
		t.Errorf("unexpected violations: %s, %s", out[0].Resource, out[1].Resource)
	}
}
