// Package runner executes the pre-patch, post-patch and combined phases end
// to end: accounts in, report stored, email sent, run recorded in the ledger.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patchwatch/patchwatch/internal/audit"
	"github.com/patchwatch/patchwatch/internal/config"
	"github.com/patchwatch/patchwatch/internal/core"
	"github.com/patchwatch/patchwatch/internal/notify"
	"github.com/patchwatch/patchwatch/internal/patch"
	"github.com/patchwatch/patchwatch/internal/report"
	"github.com/patchwatch/patchwatch/internal/scope"
	"github.com/patchwatch/patchwatch/internal/session"
	"github.com/patchwatch/patchwatch/internal/store"
	"github.com/rs/zerolog"
)

// Backend is every AWS operation a run performs. *aws.ClientFactory
// implements it.
type Backend interface {
	patch.Collaborators
	session.RoleAssumer
	store.ObjectAPI
	notify.MailAPI
}

// auditable backends tag their API call records with the current run.
type auditable interface {
	SetAudit(al *audit.Logger, runUUID string)
}

// Outcome summarises one finished phase.
type Outcome struct {
	Run       *core.RunRecord
	Rows      int
	Location  string // where the report was stored
	MessageID string
}

// Empty reports whether the phase ended early with nothing to report.
func (o *Outcome) Empty() bool {
	return o != nil && o.Run != nil && o.Run.Status == core.RunEmpty
}

// Runner holds what every phase shares.
type Runner struct {
	cfg     config.Config
	engine  *core.Engine
	backend Backend
	scope   *scope.Checker
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a runner. cfg should already be validated.
func New(cfg config.Config, engine *core.Engine, backend Backend) *Runner {
	return &Runner{
		cfg:     cfg,
		engine:  engine,
		backend: backend,
		scope:   scope.NewChecker(cfg.Scope),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// SetClock replaces the wall clock used for the day filter.
func (r *Runner) SetClock(now func() time.Time) { r.now = now }

// phase is the per-run state shared by the steps of one phase.
type phase struct {
	run      *core.RunRecord
	logger   zerolog.Logger
	provider session.Provider
}

func (r *Runner) begin(p core.Phase) (*phase, error) {
	run, err := core.StartRun(r.engine.Ledger, p)
	if err != nil {
		return nil, err
	}
	logger := r.engine.Logger.With().Str("run_id", run.UUID).Str("phase", string(p)).Logger()
	if a, ok := r.backend.(auditable); ok {
		a.SetAudit(r.engine.AuditLogger, run.UUID)
	}
	r.audit(audit.EventPhaseStarted, run.UUID, "", map[string]string{"phase": string(p)}, logger)
	logger.Info().Msg("phase started")

	return &phase{
		run:      run,
		logger:   logger,
		provider: session.NewSTSProvider(r.backend, r.cfg.RoleSessionName, logger, r.engine.AuditLogger, run.UUID),
	}, nil
}

// finish records the outcome. A core.ErrEmptyDataset error is a successful
// early exit and is swallowed.
func (r *Runner) finish(ph *phase, out *Outcome, runErr error) (*Outcome, error) {
	status := core.RunSuccess
	switch {
	case runErr == nil:
	case core.IsEmptyDataset(runErr):
		status = core.RunEmpty
		ph.logger.Info().Msg("nothing to report")
		runErr = nil
	default:
		status = core.RunError
	}

	var recErr error
	if status == core.RunError {
		recErr = core.FinishRun(r.engine.Ledger, ph.run, status, out.Rows, runErr)
		r.audit(audit.EventPhaseFailed, ph.run.UUID, "", map[string]string{"error": runErr.Error()}, ph.logger)
		ph.logger.Error().Err(runErr).Msg("phase failed")
	} else {
		recErr = core.FinishRun(r.engine.Ledger, ph.run, status, out.Rows, nil)
		r.audit(audit.EventPhaseCompleted, ph.run.UUID, "", map[string]any{"status": status, "records": out.Rows}, ph.logger)
		ph.logger.Info().Str("status", string(status)).Int("records", out.Rows).Msg("phase completed")
	}
	if recErr != nil {
		ph.logger.Warn().Err(recErr).Msg("ledger update failed")
	}

	out.Run = ph.run
	return out, runErr
}

func (r *Runner) audit(ev audit.EventType, runUUID, accountID string, detail any, logger zerolog.Logger) {
	if err := r.engine.AuditLogger.Log(ev, runUUID, accountID, detail); err != nil {
		logger.Warn().Err(err).Str("event", string(ev)).Msg("audit write failed")
	}
}

func (r *Runner) pipeline(ph *phase) *patch.Pipeline {
	return patch.NewPipeline(r.backend, ph.provider, patch.PipelineConfig{
		WindowNamePrefix: r.cfg.WindowNamePrefix,
		Concurrency:      r.cfg.Concurrency,
		Now:              r.now,
	}, ph.logger)
}

// RunPre lists today's windows across all accounts, stores the pre-patch
// report and emails it. No windows today is an empty outcome: nothing is
// stored or sent.
func (r *Runner) RunPre(ctx context.Context) (*Outcome, error) {
	ph, err := r.begin(core.PhasePre)
	if err != nil {
		return nil, err
	}
	out := &Outcome{}
	return r.finish(ph, out, r.runPre(ctx, ph, out))
}

func (r *Runner) runPre(ctx context.Context, ph *phase, out *Outcome) error {
	accounts, err := report.ReadAccountsFile(r.cfg.AccountsFile)
	if err != nil {
		return err
	}
	accounts = r.inScope(ph, accounts)
	ph.logger.Info().Int("accounts", len(accounts)).Msg("accounts loaded")

	rows, err := r.pipeline(ph).PrePatch(ctx, accounts)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return core.ErrEmptyDataset
	}
	out.Rows = len(rows)

	data, err := report.EncodePrePatch(rows)
	if err != nil {
		return err
	}
	body, err := report.RenderPrePatchHTML(rows)
	if err != nil {
		return err
	}
	return r.publish(ctx, ph, out, r.cfg.Report.PrePatchKey, data, notify.Message{Subject: report.SubjectPre, HTML: body})
}

// RunPost reads the stored pre-patch report, resolves the patch status of
// every window and stores and emails the result. A missing or empty pre-patch
// report is an empty outcome; only the shared role is assumed in that case.
func (r *Runner) RunPost(ctx context.Context) (*Outcome, error) {
	ph, err := r.begin(core.PhasePost)
	if err != nil {
		return nil, err
	}
	out := &Outcome{}
	return r.finish(ph, out, r.runPost(ctx, ph, out))
}

func (r *Runner) runPost(ctx context.Context, ph *phase, out *Outcome) error {
	shared, err := r.maybeShared(ctx, ph)
	if err != nil {
		return err
	}
	st, err := r.store(shared)
	if err != nil {
		return err
	}

	data, err := st.Get(ctx, r.cfg.Report.PrePatchKey)
	if errors.Is(err, store.ErrNotFound) {
		ph.logger.Info().Str("key", r.cfg.Report.PrePatchKey).Msg("no pre-patch report found")
		return core.ErrEmptyDataset
	}
	if err != nil {
		return err
	}
	pre, err := report.DecodePrePatch(data)
	if err != nil {
		return fmt.Errorf("decoding pre-patch report: %w", err)
	}
	pre = r.rowsInScope(ph, pre)
	if len(pre) == 0 {
		return core.ErrEmptyDataset
	}

	rows, err := r.pipeline(ph).PostPatch(ctx, pre)
	if err != nil {
		return err
	}
	out.Rows = len(rows)
	totals := report.Summarize(rows)
	ph.logger.Info().
		Int("success", totals.Success).
		Int("failure", totals.Failure).
		Int("unknown", totals.Unknown).
		Msg("post-patch totals")

	csvData, err := report.EncodePostPatch(rows)
	if err != nil {
		return err
	}
	body, err := report.RenderPostPatchHTML(rows)
	if err != nil {
		return err
	}
	return r.publishWith(ctx, ph, out, shared, r.cfg.Report.PostPatchKey, csvData, notify.Message{Subject: report.SubjectPost, HTML: body})
}

// RunCombined runs pre, waits the configured delay, then runs post. An empty
// pre phase skips the rest.
func (r *Runner) RunCombined(ctx context.Context) (pre, post *Outcome, err error) {
	pre, err = r.RunPre(ctx)
	if err != nil || pre.Empty() {
		return pre, nil, err
	}
	if d := r.cfg.PostPatchDelay; d > 0 {
		r.engine.Logger.Info().Dur("delay", d).Msg("waiting before post-patch phase")
		if err := r.sleep(ctx, d); err != nil {
			return pre, nil, err
		}
	}
	post, err = r.RunPost(ctx)
	return pre, post, err
}

// publish stores data and sends msg, obtaining the shared session first.
func (r *Runner) publish(ctx context.Context, ph *phase, out *Outcome, key string, data []byte, msg notify.Message) error {
	shared, err := r.maybeShared(ctx, ph)
	if err != nil {
		return err
	}
	return r.publishWith(ctx, ph, out, shared, key, data, msg)
}

func (r *Runner) publishWith(ctx context.Context, ph *phase, out *Outcome, shared *core.Session, key string, data []byte, msg notify.Message) error {
	st, err := r.store(shared)
	if err != nil {
		return err
	}
	loc, err := st.Put(ctx, key, data)
	if err != nil {
		return err
	}
	out.Location = loc
	ph.logger.Info().Str("location", loc).Int("bytes", len(data)).Msg("report written")
	r.audit(audit.EventReportWritten, ph.run.UUID, "", map[string]any{"location": loc, "rows": out.Rows}, ph.logger)

	id, err := r.notifier(shared, ph.logger).Send(ctx, msg)
	if err != nil {
		return err
	}
	out.MessageID = id
	if r.cfg.Email.Enabled {
		r.audit(audit.EventNotificationSent, ph.run.UUID, "", map[string]any{"subject": msg.Subject, "message_id": id, "to": r.cfg.Email.To}, ph.logger)
	}
	return nil
}

// maybeShared returns the shared-account session, or nil when neither the
// store nor the notifier needs it.
func (r *Runner) maybeShared(ctx context.Context, ph *phase) (*core.Session, error) {
	if r.cfg.Report.Store == config.StoreLocal && !r.cfg.Email.Enabled {
		return nil, nil
	}
	return r.sharedSession(ctx, ph)
}

func (r *Runner) sharedAccount() (core.AccountContext, error) {
	if !r.cfg.SharedAccount.IsZero() {
		return r.cfg.SharedAccount.Context(), nil
	}
	if r.cfg.SharedAccountFile != "" {
		return report.ReadSharedAccountFile(r.cfg.SharedAccountFile)
	}
	return core.AccountContext{}, errors.New("no shared account configured (shared_account or shared_account_file)")
}

func (r *Runner) sharedSession(ctx context.Context, ph *phase) (*core.Session, error) {
	acct, err := r.sharedAccount()
	if err != nil {
		return nil, err
	}
	sess, err := ph.provider.Obtain(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("shared account session: %w", err)
	}
	return sess, nil
}

func (r *Runner) store(shared *core.Session) (store.Store, error) {
	if r.cfg.Report.Store == config.StoreLocal {
		return store.NewFileStore(r.cfg.Report.LocalDir), nil
	}
	if shared == nil {
		return nil, errors.New("s3 report store needs the shared account session")
	}
	return store.NewS3Store(r.backend, shared, r.cfg.Report.Bucket), nil
}

func (r *Runner) notifier(shared *core.Session, logger zerolog.Logger) notify.Notifier {
	if !r.cfg.Email.Enabled || shared == nil {
		return notify.NopNotifier{Logger: logger}
	}
	return notify.NewSESNotifier(r.backend, shared, r.cfg.Email.Region, r.cfg.Email.From, r.cfg.Email.To, logger)
}

func (r *Runner) inScope(ph *phase, accounts []core.AccountContext) []core.AccountContext {
	in, violations := r.scope.Partition(accounts)
	for _, v := range violations {
		ph.logger.Warn().Str("resource", v.Resource).Msg("out of scope, skipped")
		r.audit(audit.EventScopeSkipped, ph.run.UUID, "", map[string]string{"resource": v.Resource, "reason": v.Reason}, ph.logger)
	}
	return in
}

func (r *Runner) rowsInScope(ph *phase, rows []core.PrePatchRow) []core.PrePatchRow {
	kept := rows[:0:0]
	for _, row := range rows {
		if err := r.scope.CheckContext(row.Account()); err != nil {
			ph.logger.Warn().Str("window_id", row.WindowID).Err(err).Msg("out of scope, skipped")
			r.audit(audit.EventScopeSkipped, ph.run.UUID, row.AccountID, map[string]string{"window_id": row.WindowID, "reason": err.Error()}, ph.logger)
			continue
		}
		kept = append(kept, row)
	}
	return kept
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
