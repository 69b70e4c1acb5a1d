package dispatch

import (
	"context"

	"github.com/sin5ddd/sqlew/internal/constraint"
	"github.com/sin5ddd/sqlew/internal/decision"
	"github.com/sin5ddd/sqlew/internal/file"
	"github.com/sin5ddd/sqlew/internal/message"
	"github.com/sin5ddd/sqlew/internal/model"
	"github.com/sin5ddd/sqlew/internal/similarity"
	"github.com/sin5ddd/sqlew/internal/sqlerr"
	"github.com/sin5ddd/sqlew/internal/storage"
	"github.com/sin5ddd/sqlew/internal/taskgraph"
)

// LocalBackend fans an Action out to the in-process stores. It is the
// only Backend that can actually satisfy every Action type; a remote
// backend that can't handle a given action is expected to return a
// sqlerr.KindFallback error so Dispatcher retries here.
type LocalBackend struct {
	a          *storage.Adapter
	projectID  int64
	Decision   *decision.Store
	Constraint *constraint.Store
	Task       *taskgraph.Store
	File       *file.Store
	Message    *message.Store
}

func NewLocalBackend(a *storage.Adapter, projectID int64, d *decision.Store, c *constraint.Store, t *taskgraph.Store, f *file.Store, m *message.Store) *LocalBackend {
	return &LocalBackend{a: a, projectID: projectID, Decision: d, Constraint: c, Task: t, File: f, Message: m}
}

// Execute type-switches on the concrete Action, calling the matching
// store method. An Action type with no case here is a decode.go bug,
// not a runtime possibility, since decode.go is the only Action
// constructor outside tests.
func (b *LocalBackend) Execute(ctx context.Context, action Action) (any, error) {
	switch a := action.(type) {

	case DecisionSetParams:
		return b.Decision.Set(ctx, a.Key, a.Value, decision.SetParams{
			Layer: a.Layer, Tags: a.Tags, Scopes: a.Scopes, Agent: a.Agent,
			Version: a.Version, Status: parseDecisionStatus(a.Status), NumericValue: a.NumericValue,
		})
	case DecisionQuickSetParams:
		return b.Decision.QuickSet(ctx, a.Key, a.Value, decision.SetParams{Agent: a.Agent})
	case DecisionSetBatchParams:
		items := make([]decision.BatchItem, len(a.Items))
		for i, it := range a.Items {
			items[i] = decision.BatchItem{Key: it.Key, Value: it.Value, Params: decision.SetParams{
				Layer: it.Layer, Tags: it.Tags, Scopes: it.Scopes, Agent: it.Agent,
				Version: it.Version, Status: parseDecisionStatus(it.Status), NumericValue: it.NumericValue,
			}}
		}
		return b.Decision.SetBatch(ctx, items, a.Atomic)
	case DecisionGetParams:
		return b.Decision.Get(ctx, a.Key)
	case DecisionSearchByTagsParams:
		mode := decision.MatchAny
		if a.Mode == "AND" {
			mode = decision.MatchAll
		}
		return b.Decision.SearchByTags(ctx, a.Tags, mode, a.Layer, a.Status, a.Limit)
	case DecisionSearchByLayerParams:
		return b.Decision.SearchByLayer(ctx, a.Layer, a.Status, a.IncludeTags, a.Limit)
	case DecisionSearchAdvancedParams:
		return b.Decision.SearchAdvanced(ctx, decision.AdvancedFilter{
			Layers: a.Layers, TagsAny: a.TagsAny, TagsAll: a.TagsAll,
			UpdatedAfter: a.UpdatedAfter, Version: a.Version, Status: a.Status, Limit: a.Limit,
		})
	case DecisionGetVersionsParams:
		return b.Decision.GetVersions(ctx, a.Key)
	case DecisionAddContextParams:
		return b.Decision.AddDecisionContext(ctx, a.Key, a.Rationale, a.AlternativesJSON, a.TradeoffsJSON, a.Agent, a.RelatedTaskID, a.RelatedConstraintID)
	case DecisionHasUpdatesParams:
		return b.Decision.HasUpdates(ctx, a.Since)
	case DecisionCreateTemplateParams:
		return b.Decision.CreateTemplate(ctx, a.Name, a.KeyPattern, a.Layer, a.Tags, a.ValueHint, a.Description)
	case DecisionListTemplatesParams:
		return b.Decision.ListTemplates(ctx)
	case DecisionSetFromTemplateParams:
		return b.Decision.SetFromTemplate(ctx, a.TemplateName, a.KeyVars, a.Value, decision.SetParams{})

	case ConstraintAddParams:
		return b.Constraint.Add(ctx, a.Category, a.Text, parseConstraintPriority(a.Priority), constraint.AddParams{
			Layer: a.Layer, Tags: a.Tags, Agent: a.Agent, PlanID: a.PlanID,
		})
	case ConstraintGetParams:
		return b.Constraint.Get(ctx, a.Tags, a.ActiveOnly)
	case ConstraintDeactivateParams:
		return nil, b.Constraint.Deactivate(ctx, a.ID)
	case ConstraintActivateByTagParams:
		return b.Constraint.ActivateByTag(ctx, a.Tags)

	case TaskCreateParams:
		return b.Task.Create(ctx, a.Title, taskgraph.CreateParams{
			Description: a.Description, Priority: a.Priority, Layer: a.Layer, Tags: a.Tags, Agent: a.Agent,
		})
	case TaskCreateBatchParams:
		items := make([]taskgraph.BatchCreateItem, len(a.Items))
		for i, it := range a.Items {
			items[i] = taskgraph.BatchCreateItem{Title: it.Title, Params: taskgraph.CreateParams{
				Description: it.Description, Priority: it.Priority, Layer: it.Layer, Tags: it.Tags, Agent: it.Agent,
			}}
		}
		return b.Task.CreateBatch(ctx, items, a.Atomic)
	case TaskGetParams:
		return b.Task.Get(ctx, a.TaskID)
	case TaskListParams:
		return b.Task.List(ctx, a.Status, a.Limit)
	case TaskUpdateParams:
		return nil, b.Task.Update(ctx, a.TaskID, taskgraph.UpdateParams{
			Title: a.Title, Description: a.Description, Priority: a.Priority, Layer: a.Layer,
		})
	case TaskMoveParams:
		status, err := parseTaskStatus(a.NewStatus)
		if err != nil {
			return nil, err
		}
		return nil, b.Task.Move(ctx, a.TaskID, status, nil)
	case TaskLinkParams:
		return nil, b.Task.Link(ctx, a.TaskID, taskgraph.LinkTarget(a.Target), a.TargetKeyOrPath, a.Relation)
	case TaskArchiveParams:
		return nil, b.Task.Archive(ctx, a.TaskID)
	case TaskAddDependencyParams:
		return nil, b.Task.AddDependency(ctx, a.BlockerID, a.BlockedID)
	case TaskRemoveDependencyParams:
		return nil, b.Task.RemoveDependency(ctx, a.BlockerID, a.BlockedID)
	case TaskGetDependenciesParams:
		return b.Task.GetDependencies(ctx, a.TaskID, a.IncludeDetails)

	case FileRecordParams:
		return b.File.Record(ctx, a.Path, model.ChangeType(a.ChangeType), file.RecordParams{
			Agent: a.Agent, Layer: a.Layer, Description: a.Description,
		})
	case FileRecordBatchParams:
		items := make([]file.BatchRecordItem, len(a.Items))
		for i, it := range a.Items {
			items[i] = file.BatchRecordItem{Path: it.Path, ChangeType: model.ChangeType(it.ChangeType), Params: file.RecordParams{
				Agent: it.Agent, Layer: it.Layer, Description: it.Description,
			}}
		}
		return b.File.RecordBatch(ctx, items, a.Atomic)

	case MessageSendParams:
		return b.Message.Send(ctx, a.EventType, a.Detail, message.SendParams{Agent: a.Agent})
	case MessageSendBatchParams:
		items := make([]message.BatchSendItem, len(a.Items))
		for i, it := range a.Items {
			items[i] = message.BatchSendItem{EventType: it.EventType, Detail: it.Detail, Params: message.SendParams{Agent: it.Agent}}
		}
		return b.Message.SendBatch(ctx, items, a.Atomic)

	case SimilaritySuggestParams:
		return similarity.Suggest(ctx, b.a, b.projectID, a.Key, a.Tags)

	default:
		return nil, sqlerr.Validation("tool", "unsupported tool/action %s/%s", action.Tool(), action.ActionName())
	}
}

func parseDecisionStatus(s string) model.DecisionStatus {
	switch s {
	case "active":
		return model.DecisionActive
	case "deprecated":
		return model.DecisionDeprecated
	case "draft":
		return model.DecisionDraft
	default:
		return 0 // Set treats zero as "use the default (active)"
	}
}

func parseConstraintPriority(s string) model.ConstraintPriority {
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

func parseTaskStatus(s string) (model.TaskStatus, error) {
	switch s {
	case "todo":
		return model.TaskStatusTodo, nil
	case "in_progress":
		return model.TaskStatusInProgress, nil
	case "waiting_review":
		return model.TaskStatusWaitingReview, nil
	case "blocked":
		return model.TaskStatusBlocked, nil
	case "done":
		return model.TaskStatusDone, nil
	case "archived":
		return model.TaskStatusArchived, nil
	default:
		return 0, sqlerr.Validation("new_status", "unknown task status %q", s)
	}
}
