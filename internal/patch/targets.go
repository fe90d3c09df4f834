package patch

import (
	"context"

	"github.com/patchwatch/patchwatch/internal/core"
	"github.com/rs/zerolog"
)

// TargetResolver computes how many instances a maintenance window targets.
type TargetResolver struct {
	lookup TargetLookup
	logger zerolog.Logger
}

func NewTargetResolver(lookup TargetLookup, logger zerolog.Logger) *TargetResolver {
	return &TargetResolver{lookup: lookup, logger: logger}
}

// ResolveTargetCount sums the per-target counts of windowID. Within one MW
// target, tag rules are merged into a single instance lookup whose ids are
// deduplicated. Counts are not deduplicated across MW targets. Any lookup
// failure yields a failed result with Count 0.
func (r *TargetResolver) ResolveTargetCount(ctx context.Context, sess *core.Session, windowID string) core.CountResult {
	log := r.logger.With().
		Str("account_id", sess.Account.AccountID).
		Str("region", sess.Account.Region).
		Str("window_id", windowID).
		Logger()

	targets, err := r.lookup.ListMaintenanceWindowTargets(ctx, sess, windowID)
	if err != nil {
		return r.fail(log, "DescribeMaintenanceWindowTargets", windowID, err)
	}

	total := 0
	for _, target := range targets {
		sub, op, err := r.countTarget(ctx, sess, log, target)
		if err != nil {
			return r.fail(log, op, windowID, err)
		}
		log.Debug().Str("window_target_id", target.WindowTargetID).Int("count", sub).Msg("resolved MW target")
		total += sub
	}

	log.Info().Int("target_count", total).Msg("resolved target count")
	return core.CountResult{Count: total}
}

func (r *TargetResolver) countTarget(ctx context.Context, sess *core.Session, log zerolog.Logger, target core.MWTarget) (int, string, error) {
	count := 0
	var filters []core.TagFilter

	for _, rule := range target.Rules {
		switch rule.Kind() {
		case core.RuleInstanceIDs:
			count += len(rule.Values)
		case core.RuleTag:
			filters = append(filters, core.TagFilter{Name: rule.Key, Values: rule.Values})
		case core.RuleResourceGroup:
			for _, group := range rule.Values {
				members, err := r.lookup.ListResourceGroupMembers(ctx, sess, group)
				if err != nil {
					return 0, "ListGroupResources", err
				}
				n := CountInstanceMembers(members)
				log.Debug().Str("group", group).Int("instances", n).Msg("resolved resource group")
				count += n
			}
		default:
			log.Warn().Str("key", rule.Key).Msg("unsupported target rule skipped")
		}
	}

	if len(filters) > 0 {
		ids, err := r.lookup.ListInstancesByTagFilters(ctx, sess, filters)
		if err != nil {
			return 0, "DescribeInstances", err
		}
		unique := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			unique[id] = struct{}{}
		}
		log.Debug().Int("filters", len(filters)).Int("instances", len(unique)).Msg("resolved tag filters")
		count += len(unique)
	}
	return count, "", nil
}

func (r *TargetResolver) fail(log zerolog.Logger, op, windowID string, err error) core.CountResult {
	log.Error().Err(err).Str("operation", op).Msg("target resolution failed, counting 0")
	return core.CountResult{Err: &core.LookupFailure{Op: op, WindowID: windowID, Err: err}}
}

// CountInstanceMembers counts the resource group members that are EC2 instances.
func CountInstanceMembers(members []core.ResourceRef) int {
	n := 0
	for _, m := range members {
		if m.ResourceType == core.ResourceTypeEC2Instance {
			n++
		}
	}
	return n
}
