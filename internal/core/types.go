// Package core defines the foundational types shared by every patchwatch subsystem:
// account contexts, sessions, maintenance windows and their targets, execution
// records, and the report rows produced by the pre-patch and post-patch phases.
package core

import (
	"time"
)

// Phase identifies which half of a report cycle is running.
type Phase string

const (
	PhasePre      Phase = "pre"
	PhasePost     Phase = "post"
	PhaseCombined Phase = "combined"
)

// RunStatus tracks a phase run's lifecycle in the ledger.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunEmpty   RunStatus = "empty" // nothing to report; not a failure
	RunError   RunStatus = "error"
)

// AccountContext identifies a credential scope. Two contexts are the same scope
// only when all three fields are equal.
type AccountContext struct {
	AccountID string `json:"account_id"`
	RoleName  string `json:"role_name"`
	Region    string `json:"region"`
}

// RoleARN returns the IAM role ARN assumed for this context.
func (a AccountContext) RoleARN() string {
	return "arn:aws:iam::" + a.AccountID + ":role/" + a.RoleName
}

func (a AccountContext) String() string {
	return a.AccountID + "/" + a.RoleName + "@" + a.Region
}

// Session is a time-boxed credential set scoped to exactly one AccountContext.
// It is owned by whoever requested it and is never shared across contexts.
type Session struct {
	Account         AccountContext
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time // zero means the provider reported no expiry
}

// Expired reports whether the session is past its expiry, treating anything
// within skew of the deadline as already expired.
func (s *Session) Expired(now time.Time, skew time.Duration) bool {
	if s == nil {
		return true
	}
	if s.Expiration.IsZero() {
		return false
	}
	return !now.Add(skew).Before(s.Expiration)
}

// MaintenanceWindow is the subset of an SSM maintenance window the report needs.
type MaintenanceWindow struct {
	WindowID          string
	Name              string
	NextExecutionTime string // raw ISO-8601 string as returned by SSM; empty when unscheduled
}

// RuleKind classifies a single target rule.
type RuleKind int

const (
	RuleUnsupported RuleKind = iota
	RuleInstanceIDs
	RuleTag
	RuleResourceGroup
)

func (k RuleKind) String() string {
	switch k {
	case RuleInstanceIDs:
		return "instance-ids"
	case RuleTag:
		return "tag"
	case RuleResourceGroup:
		return "resource-group"
	default:
		return "unsupported"
	}
}

// Well-known target rule keys.
const (
	TargetKeyInstanceIDs   = "InstanceIds"
	TargetKeyTagPrefix     = "tag:"
	TargetKeyResourceGroup = "resource-groups:Name"
)

// TargetRule is one clause of a maintenance window target: a key and its values.
type TargetRule struct {
	Key    string
	Values []string
}

// Kind classifies the rule by its key.
func (r TargetRule) Kind() RuleKind {
	switch {
	case r.Key == TargetKeyInstanceIDs:
		return RuleInstanceIDs
	case len(r.Key) > len(TargetKeyTagPrefix) && r.Key[:len(TargetKeyTagPrefix)] == TargetKeyTagPrefix:
		return RuleTag
	case r.Key == TargetKeyResourceGroup:
		return RuleResourceGroup
	default:
		return RuleUnsupported
	}
}

// MWTarget is one registered target of a maintenance window.
type MWTarget struct {
	WindowTargetID string
	Rules          []TargetRule
}

// TagFilter is an instance lookup filter such as {Name: "tag:Env", Values: ["prod"]}.
type TagFilter struct {
	Name   string
	Values []string
}

// ResourceTypeEC2Instance is the resource group member type counted as a target.
const ResourceTypeEC2Instance = "AWS::EC2::Instance"

// ResourceRef is one member of a resource group.
type ResourceRef struct {
	ARN          string
	ResourceType string
}

// Execution is one run of a maintenance window.
type Execution struct {
	ExecutionID string
	StartTime   time.Time
}

// ExecutionTask is one task inside a maintenance window execution.
type ExecutionTask struct {
	TaskArn         string
	TaskExecutionID string
}

// TaskInvocation is one invocation of an execution task. ParametersJSON is the
// string-encoded parameter payload SSM attaches to the invocation.
type TaskInvocation struct {
	InvocationID       string
	ParametersJSON     string
	CommandExecutionID string
}

// CommandInvocation is the per-instance result of a Run Command execution.
type CommandInvocation struct {
	InstanceID string
	Status     string
}

// PrePatchRow is one maintenance window scheduled today, with its target count.
type PrePatchRow struct {
	AccountID           string `json:"account_id"`
	Region              string `json:"region"`
	RoleName            string `json:"role_name"`
	WindowID            string `json:"window_id"`
	WindowName          string `json:"window_name"`
	TargetInstanceCount int    `json:"target_instance_count"`
}

// Account returns the credential scope the row was produced under.
func (r PrePatchRow) Account() AccountContext {
	return AccountContext{AccountID: r.AccountID, RoleName: r.RoleName, Region: r.Region}
}

// StatusOutcome describes how a post-patch status was obtained.
type StatusOutcome string

const (
	StatusResolved StatusOutcome = "resolved"
	StatusUnknown  StatusOutcome = "unknown"
)

// PostPatchRow extends a pre-patch row with patch results. Rows whose status is
// unknown carry zero counts and are excluded from aggregate totals.
type PostPatchRow struct {
	PrePatchRow
	Success int           `json:"success"`
	Failure int           `json:"failure"`
	Status  StatusOutcome `json:"status"`
	Error   string        `json:"error,omitempty"`
}

// RunRecord is one phase run as stored in the ledger.
type RunRecord struct {
	UUID       string     `json:"uuid"`
	Phase      Phase      `json:"phase"`
	Status     RunStatus  `json:"status"`
	Records    int        `json:"records"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Scope limits which accounts and regions a run may touch. Empty lists allow all.
type Scope struct {
	AccountIDs []string `json:"account_ids" yaml:"account_ids" mapstructure:"account_ids"`
	Regions    []string `json:"regions" yaml:"regions" mapstructure:"regions"`
}
