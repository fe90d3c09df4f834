package patch

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/patchwatch/patchwatch/internal/core"
	"github.com/rs/zerolog"
)

const (
	// PatchBaselineTask is the task whose invocations carry patch results.
	PatchBaselineTask = "AWS-RunPatchBaseline"
	// ExecutionLookback is how many recent executions are fetched.
	ExecutionLookback int32 = 10
	windowIDPrefix          = "mw-"
	operationInstall        = "Install"
)

// Per-instance command statuses counted as failures. Anything else other than
// Success (Pending, InProgress, Delayed) is still settling and is not counted.
var failureStatuses = map[string]bool{
	"Failed":            true,
	"TimedOut":          true,
	"Cancelled":         true,
	"ExecutionTimedOut": true,
}

// StatusResolver tallies per-instance patch install outcomes for the latest
// execution of a maintenance window.
type StatusResolver struct {
	lookup ExecutionLookup
	logger zerolog.Logger
}

func NewStatusResolver(lookup ExecutionLookup, logger zerolog.Logger) *StatusResolver {
	return &StatusResolver{lookup: lookup, logger: logger}
}

// ValidWindowID reports whether id has the maintenance window id shape.
func ValidWindowID(id string) bool {
	return strings.HasPrefix(id, windowIDPrefix) && len(id) > len(windowIDPrefix)
}

// ResolveStatus returns (success, failure) for windowID. A malformed id or a
// window with no executions resolves to (0,0). Any failed lookup fails the
// whole window; partial tallies are discarded.
func (r *StatusResolver) ResolveStatus(ctx context.Context, sess *core.Session, windowID string) core.StatusResult {
	log := r.logger.With().
		Str("account_id", sess.Account.AccountID).
		Str("region", sess.Account.Region).
		Str("window_id", windowID).
		Logger()

	if !ValidWindowID(windowID) {
		log.Warn().Msg("invalid maintenance window id skipped")
		return core.StatusResult{}
	}

	execs, err := r.lookup.ListExecutions(ctx, sess, windowID, ExecutionLookback)
	if err != nil {
		return r.fail(log, "DescribeMaintenanceWindowExecutions", windowID, err)
	}
	latest, ok := LatestExecution(execs)
	if !ok {
		log.Info().Msg("no executions found")
		return core.StatusResult{}
	}
	log = log.With().Str("execution_id", latest.ExecutionID).Logger()
	log.Info().Time("start_time", latest.StartTime).Msg("using latest execution")

	tasks, err := r.lookup.ListExecutionTasks(ctx, sess, latest.ExecutionID)
	if err != nil {
		return r.fail(log, "DescribeMaintenanceWindowExecutionTasks", windowID, err)
	}

	var res core.StatusResult
	for _, task := range tasks {
		if task.TaskArn != PatchBaselineTask {
			log.Debug().Str("task_arn", task.TaskArn).Msg("skipping non-patching task")
			continue
		}
		tlog := log.With().Str("task_execution_id", task.TaskExecutionID).Logger()

		invocations, err := r.lookup.ListTaskInvocations(ctx, sess, latest.ExecutionID, task.TaskExecutionID)
		if err != nil {
			return r.fail(tlog, "DescribeMaintenanceWindowExecutionTaskInvocations", windowID, err)
		}

		for _, inv := range invocations {
			ops, perr := ParseOperations(inv.ParametersJSON)
			if perr != nil {
				tlog.Warn().Err(perr).Str("invocation_id", inv.InvocationID).Msg("unparsable invocation parameters")
			}
			if !contains(ops, operationInstall) {
				tlog.Debug().Strs("operation", ops).Msg("skipping non-install invocation")
				continue
			}
			if inv.CommandExecutionID == "" {
				tlog.Warn().Str("invocation_id", inv.InvocationID).Msg("install invocation has no command id")
				continue
			}

			results, err := r.lookup.ListCommandInvocations(ctx, sess, inv.CommandExecutionID)
			if err != nil {
				return r.fail(tlog.With().Str("command_id", inv.CommandExecutionID).Logger(), "ListCommandInvocations", windowID, err)
			}
			s, f := Tally(results)
			tlog.Debug().Str("command_id", inv.CommandExecutionID).Int("success", s).Int("failure", f).Msg("tallied command")
			res.Success += s
			res.Failure += f
		}
	}

	log.Info().Int("success", res.Success).Int("failure", res.Failure).Msg("patch summary")
	return res
}

func (r *StatusResolver) fail(log zerolog.Logger, op, windowID string, err error) core.StatusResult {
	log.Error().Err(err).Str("operation", op).Msg("status resolution failed")
	return core.StatusResult{Err: &core.LookupFailure{Op: op, WindowID: windowID, Err: err}}
}

// LatestExecution picks the execution with the greatest start time. On a tie
// the earlier entry wins.
func LatestExecution(execs []core.Execution) (core.Execution, bool) {
	if len(execs) == 0 {
		return core.Execution{}, false
	}
	best := execs[0]
	for _, e := range execs[1:] {
		if e.StartTime.After(best.StartTime) {
			best = e
		}
	}
	return best, true
}

// ParseOperations extracts parameters.Operation from an invocation's parameter
// payload. The operation may be a list or a single string. Malformed payloads
// return an empty list and a *core.MalformedInput.
func ParseOperations(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var payload struct {
		Parameters map[string]json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, &core.MalformedInput{Field: "invocation_parameters", Value: truncate(raw, 80), Reason: err.Error()}
	}
	op, ok := payload.Parameters["Operation"]
	if !ok {
		return nil, nil
	}

	var list []string
	if err := json.Unmarshal(op, &list); err == nil {
		return list, nil
	}
	var single string
	if err := json.Unmarshal(op, &single); err == nil {
		return []string{single}, nil
	}
	return nil, &core.MalformedInput{Field: "parameters.Operation", Value: truncate(string(op), 80), Reason: "expected string or list of strings"}
}

// Tally classifies per-instance command results.
func Tally(results []core.CommandInvocation) (success, failure int) {
	for _, ci := range results {
		switch {
		case ci.Status == "Success":
			success++
		case failureStatuses[ci.Status]:
			failure++
		}
	}
	return success, failure
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
