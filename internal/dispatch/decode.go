package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/sin5ddd/sqlew/internal/sqlerr"
)

// Decode turns a raw JSON params payload plus a (tool, action) pair into
// a concrete, typed Action. An unrecognized pair fails here, before any
// store method is ever reached — the redesign this package follows
// trades "string-matched dispatch, typed only once inside the handler"
// for "typed once, at the boundary".
func Decode(tool, action string, raw json.RawMessage) (Action, error) {
	key := tool + "." + action
	dec, ok := decoders[key]
	if !ok {
		return nil, sqlerr.Validation("tool", "unsupported tool/action %q", key)
	}
	a, err := dec(raw)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.KindValidation, "params", err, "decoding params for %q", key)
	}
	return a, nil
}

type decodeFunc func(json.RawMessage) (Action, error)

var decoders = map[string]decodeFunc{
	"decision.set":              decodeAction(func(p *DecisionSetParams) { p.actionBase = actionBase{"decision", "set"} }),
	"decision.quick_set":        decodeAction(func(p *DecisionQuickSetParams) { p.actionBase = actionBase{"decision", "quick_set"} }),
	"decision.set_batch":        decodeAction(func(p *DecisionSetBatchParams) { p.actionBase = actionBase{"decision", "set_batch"} }),
	"decision.get":              decodeAction(func(p *DecisionGetParams) { p.actionBase = actionBase{"decision", "get"} }),
	"decision.search_by_tags":   decodeAction(func(p *DecisionSearchByTagsParams) { p.actionBase = actionBase{"decision", "search_by_tags"} }),
	"decision.search_by_layer":  decodeAction(func(p *DecisionSearchByLayerParams) { p.actionBase = actionBase{"decision", "search_by_layer"} }),
	"decision.search_advanced":  decodeAction(func(p *DecisionSearchAdvancedParams) { p.actionBase = actionBase{"decision", "search_advanced"} }),
	"decision.get_versions":     decodeAction(func(p *DecisionGetVersionsParams) { p.actionBase = actionBase{"decision", "get_versions"} }),
	"decision.add_context":      decodeAction(func(p *DecisionAddContextParams) { p.actionBase = actionBase{"decision", "add_context"} }),
	"decision.has_updates":      decodeAction(func(p *DecisionHasUpdatesParams) { p.actionBase = actionBase{"decision", "has_updates"} }),
	"decision.create_template":  decodeAction(func(p *DecisionCreateTemplateParams) { p.actionBase = actionBase{"decision", "create_template"} }),
	"decision.list_templates":   decodeAction(func(p *DecisionListTemplatesParams) { p.actionBase = actionBase{"decision", "list_templates"} }),
	"decision.set_from_template": decodeAction(func(p *DecisionSetFromTemplateParams) { p.actionBase = actionBase{"decision", "set_from_template"} }),

	"constraint.add":             decodeAction(func(p *ConstraintAddParams) { p.actionBase = actionBase{"constraint", "add"} }),
	"constraint.get":             decodeAction(func(p *ConstraintGetParams) { p.actionBase = actionBase{"constraint", "get"} }),
	"constraint.deactivate":      decodeAction(func(p *ConstraintDeactivateParams) { p.actionBase = actionBase{"constraint", "deactivate"} }),
	"constraint.activate_by_tag": decodeAction(func(p *ConstraintActivateByTagParams) { p.actionBase = actionBase{"constraint", "activate_by_tag"} }),

	"task.create":           decodeAction(func(p *TaskCreateParams) { p.actionBase = actionBase{"task", "create"} }),
	"task.create_batch":     decodeAction(func(p *TaskCreateBatchParams) { p.actionBase = actionBase{"task", "create_batch"} }),
	"task.get":              decodeAction(func(p *TaskGetParams) { p.actionBase = actionBase{"task", "get"} }),
	"task.list":             decodeAction(func(p *TaskListParams) { p.actionBase = actionBase{"task", "list"} }),
	"task.update":           decodeAction(func(p *TaskUpdateParams) { p.actionBase = actionBase{"task", "update"} }),
	"task.move":             decodeAction(func(p *TaskMoveParams) { p.actionBase = actionBase{"task", "move"} }),
	"task.link":             decodeAction(func(p *TaskLinkParams) { p.actionBase = actionBase{"task", "link"} }),
	"task.archive":          decodeAction(func(p *TaskArchiveParams) { p.actionBase = actionBase{"task", "archive"} }),
	"task.add_dependency":   decodeAction(func(p *TaskAddDependencyParams) { p.actionBase = actionBase{"task", "add_dependency"} }),
	"task.remove_dependency": decodeAction(func(p *TaskRemoveDependencyParams) { p.actionBase = actionBase{"task", "remove_dependency"} }),
	"task.get_dependencies":  decodeAction(func(p *TaskGetDependenciesParams) { p.actionBase = actionBase{"task", "get_dependencies"} }),

	"file.record":       decodeAction(func(p *FileRecordParams) { p.actionBase = actionBase{"file", "record"} }),
	"file.record_batch":  decodeAction(func(p *FileRecordBatchParams) { p.actionBase = actionBase{"file", "record_batch"} }),

	"message.send":       decodeAction(func(p *MessageSendParams) { p.actionBase = actionBase{"message", "send"} }),
	"message.send_batch": decodeAction(func(p *MessageSendBatchParams) { p.actionBase = actionBase{"message", "send_batch"} }),

	"similarity.suggest": decodeAction(func(p *SimilaritySuggestParams) { p.actionBase = actionBase{"similarity", "suggest"} }),
}

// decodeAction builds a decodeFunc for a concrete param type T: unmarshal
// raw into it, run stamp to fill in its actionBase, and return it as an
// Action. Generic so the ~30 entries in the decoders map above are each
// one line instead of a hand-rolled unmarshal block apiece.
func decodeAction[T any](stamp func(*T)) decodeFunc {
	return func(raw json.RawMessage) (Action, error) {
		var p T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("%w", err)
			}
		}
		stamp(&p)
		a, ok := any(p).(Action)
		if !ok {
			return nil, fmt.Errorf("dispatch: %T does not implement Action", p)
		}
		return a, nil
	}
}
