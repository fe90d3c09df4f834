// Package patch resolves maintenance window target counts and patch outcomes
// and assembles them into ordered report rows.
package patch

import (
	"context"

	"github.com/patchwatch/patchwatch/internal/core"
)

// WindowLister lists the maintenance windows of one account and region.
type WindowLister interface {
	ListMaintenanceWindows(ctx context.Context, sess *core.Session) ([]core.MaintenanceWindow, error)
}

// TargetLookup is what the TargetResolver needs from AWS.
type TargetLookup interface {
	ListMaintenanceWindowTargets(ctx context.Context, sess *core.Session, windowID string) ([]core.MWTarget, error)
	// ListInstancesByTagFilters may return the same id more than once.
	ListInstancesByTagFilters(ctx context.Context, sess *core.Session, filters []core.TagFilter) ([]string, error)
	ListResourceGroupMembers(ctx context.Context, sess *core.Session, groupName string) ([]core.ResourceRef, error)
}

// ExecutionLookup is what the StatusResolver needs from AWS.
type ExecutionLookup interface {
	ListExecutions(ctx context.Context, sess *core.Session, windowID string, limit int32) ([]core.Execution, error)
	ListExecutionTasks(ctx context.Context, sess *core.Session, executionID string) ([]core.ExecutionTask, error)
	ListTaskInvocations(ctx context.Context, sess *core.Session, executionID, taskExecutionID string) ([]core.TaskInvocation, error)
	ListCommandInvocations(ctx context.Context, sess *core.Session, commandID string) ([]core.CommandInvocation, error)
}

// Collaborators bundles every lookup the pipeline performs. *aws.ClientFactory
// implements it.
type Collaborators interface {
	WindowLister
	TargetLookup
	ExecutionLookup
}
