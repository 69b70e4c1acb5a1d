package hookqueue

import (
	"context"
	"fmt"

	"github.com/sin5ddd/sqlew/internal/constraint"
	"github.com/sin5ddd/sqlew/internal/decision"
	"github.com/sin5ddd/sqlew/internal/model"
)

// Applier turns drained queue items into decision/constraint store
// writes. It is the concrete ApplyFunc wiring for Watcher/Drain.
type Applier struct {
	Decisions   *decision.Store
	Constraints *constraint.Store
}

func NewApplier(d *decision.Store, c *constraint.Store) *Applier {
	return &Applier{Decisions: d, Constraints: c}
}

func (ap *Applier) Apply(ctx context.Context, item QueueItem) error {
	switch item.Type {
	case TypeDecision:
		return ap.applyDecision(ctx, item)
	case TypeConstraint:
		return ap.applyConstraint(ctx, item)
	default:
		return fmt.Errorf("unknown queue item type %q", item.Type)
	}
}

func (ap *Applier) applyDecision(ctx context.Context, item QueueItem) error {
	switch item.Action {
	case ActionCreate, ActionUpdate:
		key, _ := item.Data["key"].(string)
		value, _ := item.Data["value"].(string)
		layer, _ := item.Data["layer"].(string)
		p := decision.SetParams{Layer: layer, Tags: toStringSlice(item.Data["tags"])}
		if statusRaw, ok := item.Data["status"].(string); ok && statusRaw != "" {
			p.Status = parseDecisionStatus(statusRaw)
		}
		_, err := ap.Decisions.Set(ctx, key, value, p)
		return err
	default:
		return fmt.Errorf("unsupported decision queue action %q", item.Action)
	}
}

func (ap *Applier) applyConstraint(ctx context.Context, item QueueItem) error {
	switch item.Action {
	case ActionCreate:
		text, _ := item.Data["text"].(string)
		category, _ := item.Data["category"].(string)
		layer, _ := item.Data["layer"].(string)
		planID, _ := item.Data["plan_id"].(string)
		priority := parseConstraintPriority(item.Data["priority"])
		_, err := ap.Constraints.Add(ctx, category, text, priority, constraint.AddParams{
			Layer: layer, Tags: toStringSlice(item.Data["tags"]), PlanID: planID,
		})
		return err
	case ActionActivate:
		_, err := ap.Constraints.ActivateByTag(ctx, toStringSlice(item.Data["tags"]))
		return err
	default:
		return fmt.Errorf("unsupported constraint queue action %q", item.Action)
	}
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func parseDecisionStatus(s string) model.DecisionStatus {
	switch s {
	case "deprecated":
		return model.DecisionDeprecated
	case "draft":
		return model.DecisionDraft
	default:
		return model.DecisionActive
	}
}

func parseConstraintPriority(v any) model.ConstraintPriority {
	s, _ := v.(string)
	switch s {
	case "low":
		return model.PriorityLow
	case "high":
		return model.PriorityHigh
	case "critical":
		return model.PriorityCritical
	default:
		return model.PriorityMedium
	}
}
