// Package scope keeps runs inside the declared account and region allowlists.
// Rows outside scope are skipped before any role is assumed into them.
package scope

import (
	"errors"
	"fmt"
	"strings"

	"github.com/patchwatch/patchwatch/internal/core"
)

// Checker evaluates account contexts against the configured allowlists.
type Checker struct {
	scope    core.Scope
	accounts map[string]struct{}
	regions  map[string]struct{}
}

// NewChecker creates a scope checker. Empty allowlists allow everything.
func NewChecker(scope core.Scope) *Checker {
	return &Checker{
		scope:    scope,
		accounts: toSet(scope.AccountIDs),
		regions:  toSet(scope.Regions),
	}
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.TrimSpace(v)] = struct{}{}
	}
	return set
}

// CheckAccount verifies an AWS account ID is in scope.
func (c *Checker) CheckAccount(accountID string) error {
	if c.accounts == nil {
		return nil
	}
	if _, ok := c.accounts[accountID]; ok {
		return nil
	}
	return &ScopeViolation{
		Resource: "account:" + accountID,
		Reason:   fmt.Sprintf("account %s is not in scope (allowed: %s)", accountID, strings.Join(c.scope.AccountIDs, ", ")),
	}
}

// CheckRegion verifies an AWS region is in scope.
func (c *Checker) CheckRegion(region string) error {
	if c.regions == nil {
		return nil
	}
	if _, ok := c.regions[region]; ok {
		return nil
	}
	return &ScopeViolation{
		Resource: "region:" + region,
		Reason:   fmt.Sprintf("region %s is not in scope (allowed: %s)", region, strings.Join(c.scope.Regions, ", ")),
	}
}

// CheckContext checks both the account and the region of a.
func (c *Checker) CheckContext(a core.AccountContext) error {
	if err := c.CheckAccount(a.AccountID); err != nil {
		return err
	}
	return c.CheckRegion(a.Region)
}

// IsInScope returns true if the account+region combination is within scope.
func (c *Checker) IsInScope(accountID, region string) bool {
	return c.CheckAccount(accountID) == nil && c.CheckRegion(region) == nil
}

// Partition splits accounts into in-scope contexts, preserving order, and the
// violations for the rest.
func (c *Checker) Partition(accounts []core.AccountContext) ([]core.AccountContext, []*ScopeViolation) {
	in := make([]core.AccountContext, 0, len(accounts))
	var out []*ScopeViolation
	for _, a := range accounts {
		if err := c.CheckContext(a); err != nil {
			var sv *ScopeViolation
			if errors.As(err, &sv) {
				out = append(out, sv)
			}
			continue
		}
		in = append(in, a)
	}
	return in, out
}

// ScopeViolation represents an out-of-scope account context.
type ScopeViolation struct {
	Resource string
	Reason   string
}

func (sv *ScopeViolation) Error() string {
	return fmt.Sprintf("scope violation [%s]: %s", sv.Resource, sv.Reason)
}

// IsScopeViolation checks if an error is a scope violation.
func IsScopeViolation(err error) bool {
	var sv *ScopeViolation
	return errors.As(err, &sv)
}
