package patch

import (
	"context"
	"fmt"
	"time"

	"github.com/patchwatch/patchwatch/internal/core"
	"github.com/patchwatch/patchwatch/internal/session"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// PipelineConfig tunes a Pipeline.
type PipelineConfig struct {
	WindowNamePrefix string
	Concurrency      int              // pre-patch account fan-out; values below 1 mean 1
	Now              func() time.Time // defaults to time.Now
}

// Pipeline runs the two report phases over the AWS collaborators.
type Pipeline struct {
	collab      Collaborators
	provider    session.Provider
	targets     *TargetResolver
	status      *StatusResolver
	filter      WindowFilter
	concurrency int
	logger      zerolog.Logger
}

// NewPipeline wires the resolvers over collab and provider.
func NewPipeline(collab Collaborators, provider session.Provider, cfg PipelineConfig, logger zerolog.Logger) *Pipeline {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		collab:      collab,
		provider:    provider,
		targets:     NewTargetResolver(collab, logger),
		status:      NewStatusResolver(collab, logger),
		filter:      WindowFilter{NamePrefix: cfg.WindowNamePrefix, Now: cfg.Now},
		concurrency: cfg.Concurrency,
		logger:      logger,
	}
}

// PrePatch lists today's windows for every account and resolves their target
// counts. Rows keep input account order, then the order SSM returned windows
// in. A session failure aborts the phase; a failed window listing only skips
// that account.
func (p *Pipeline) PrePatch(ctx context.Context, accounts []core.AccountContext) ([]core.PrePatchRow, error) {
	perAccount := make([][]core.PrePatchRow, len(accounts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, acct := range accounts {
		i, acct := i, acct
		g.Go(func() error {
			rows, err := p.prePatchAccount(gctx, acct)
			if err != nil {
				return err
			}
			perAccount[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var rows []core.PrePatchRow
	for _, r := range perAccount {
		rows = append(rows, r...)
	}
	return rows, nil
}

func (p *Pipeline) prePatchAccount(ctx context.Context, acct core.AccountContext) ([]core.PrePatchRow, error) {
	log := p.logger.With().
		Str("account_id", acct.AccountID).
		Str("role", acct.RoleName).
		Str("region", acct.Region).
		Logger()

	sess, err := p.provider.Obtain(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("pre-patch session for %s: %w", acct, err)
	}

	windows, err := p.collab.ListMaintenanceWindows(ctx, sess)
	if err != nil {
		log.Error().Err(err).Msg("listing maintenance windows failed, skipping account")
		return nil, nil
	}

	var rows []core.PrePatchRow
	for _, w := range windows {
		reason, err := p.filter.skipReason(w)
		if err != nil {
			log.Warn().Err(err).Str("window_id", w.WindowID).Msg("unparsable next execution time, skipping window")
			continue
		}
		if reason != "" {
			log.Debug().Str("window_id", w.WindowID).Str("name", w.Name).Str("reason", reason).Msg("window skipped")
			continue
		}

		res := p.targets.ResolveTargetCount(ctx, sess, w.WindowID)
		rows = append(rows, core.PrePatchRow{
			AccountID:           acct.AccountID,
			Region:              acct.Region,
			RoleName:            acct.RoleName,
			WindowID:            w.WindowID,
			WindowName:          w.Name,
			TargetInstanceCount: res.Count,
		})
	}
	log.Info().Int("windows", len(rows)).Msg("account scanned")
	return rows, nil
}

// PostPatch resolves the patch status of every row, in order, reusing the
// session across consecutive rows of the same account context. A session
// failure aborts the phase. A failed status lookup marks the row unknown.
func (p *Pipeline) PostPatch(ctx context.Context, rows []core.PrePatchRow) ([]core.PostPatchRow, error) {
	cache := session.NewCache(p.provider)
	out := make([]core.PostPatchRow, 0, len(rows))

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sess, err := cache.Session(ctx, row.Account())
		if err != nil {
			return nil, fmt.Errorf("post-patch session for %s: %w", row.Account(), err)
		}

		res := p.status.ResolveStatus(ctx, sess, row.WindowID)
		post := core.PostPatchRow{PrePatchRow: row, Status: core.StatusResolved}
		if res.Resolved() {
			post.Success = res.Success
			post.Failure = res.Failure
		} else {
			post.Status = core.StatusUnknown
			post.Error = res.Err.Error()
		}
		out = append(out, post)
	}

	p.logger.Info().Int("rows", len(out)).Int("sessions", cache.Obtained()).Msg("post-patch status resolved")
	return out, nil
}
