// Package session turns account contexts into role credentials. The Provider
// never caches; Cache layers reuse on top for one sequential pass.
package session

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"
	"github.com/patchwatch/patchwatch/internal/audit"
	awsx "github.com/patchwatch/patchwatch/internal/aws"
	"github.com/patchwatch/patchwatch/internal/core"
	"github.com/patchwatch/patchwatch/internal/logging"
	"github.com/rs/zerolog"
)

// Provider obtains a fresh session for an account context.
type Provider interface {
	Obtain(ctx context.Context, acct core.AccountContext) (*core.Session, error)
}

// RoleAssumer performs the STS exchange. *aws.ClientFactory satisfies it.
type RoleAssumer interface {
	AssumeRole(ctx context.Context, roleARN, sessionName string, durationSecs int32) (*awsx.AssumeRoleResult, error)
}

// STSProvider assumes arn:aws:iam::<account>:role/<role> once per call.
type STSProvider struct {
	assumer     RoleAssumer
	sessionName string
	logger      zerolog.Logger
	audit       *audit.Logger
	runUUID     string
}

// NewSTSProvider creates a provider. auditLogger may be nil.
func NewSTSProvider(assumer RoleAssumer, sessionName string, logger zerolog.Logger, auditLogger *audit.Logger, runUUID string) *STSProvider {
	return &STSProvider{
		assumer:     assumer,
		sessionName: sessionName,
		logger:      logger,
		audit:       auditLogger,
		runUUID:     runUUID,
	}
}

// Obtain assumes the context's role. Every failure of the exchange is an
// *core.AuthorizationError; there are no retries.
func (p *STSProvider) Obtain(ctx context.Context, acct core.AccountContext) (*core.Session, error) {
	if acct.AccountID == "" || acct.RoleName == "" || acct.Region == "" {
		return nil, &core.MalformedInput{Field: "account_context", Value: acct.String(), Reason: "account id, role and region are required"}
	}

	res, err := p.assumer.AssumeRole(ctx, acct.RoleARN(), p.sessionName, 0)
	if err != nil {
		authErr := &core.AuthorizationError{Account: acct, Err: err}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			authErr.Code = apiErr.ErrorCode()
		}
		p.logger.Error().
			Err(err).
			Str("account_id", acct.AccountID).
			Str("role", acct.RoleName).
			Str("region", acct.Region).
			Str("code", authErr.Code).
			Msg("role assumption failed")
		return nil, authErr
	}

	p.logger.Info().
		Str("account_id", acct.AccountID).
		Str("role", acct.RoleName).
		Str("region", acct.Region).
		Str("access_key_id", logging.RedactValue(res.AccessKeyID)).
		Msg("assumed role")
	if aerr := p.audit.Log(audit.EventRoleAssumed, p.runUUID, acct.AccountID, map[string]string{
		"role_arn": acct.RoleARN(),
		"region":   acct.Region,
	}); aerr != nil {
		p.logger.Warn().Err(aerr).Msg("audit write failed")
	}

	return &core.Session{
		Account:         acct,
		AccessKeyID:     res.AccessKeyID,
		SecretAccessKey: res.SecretAccessKey,
		SessionToken:    res.SessionToken,
		Expiration:      res.Expiration,
	}, nil
}
