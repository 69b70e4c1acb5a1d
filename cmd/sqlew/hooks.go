package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sin5ddd/sqlew/internal/hookqueue"
	"github.com/spf13/cobra"
)

// hookCommands builds the nine short-lived hook entry points. None of them
// call openApp: per the queue-only contract, a hook process only ever
// appends to .sqlew/queue/pending.json and exits, leaving the drain to the
// long-lived supervisor's watcher.
func hookCommands() []*cobra.Command {
	cmds := []*cobra.Command{
		suggestCmd(),
		trackPlanCmd(),
		saveCmd(),
		checkCompletionCmd(),
		markDoneCmd(),
		onSubagentStopCmd(),
		onStopCmd(),
		onEnterPlanCmd(),
		onExitPlanCmd(),
	}
	for _, c := range cmds {
		c.GroupID = "hooks"
	}
	return cmds
}

// openHookQueue resolves .sqlew/queue relative to the working directory.
// Hooks don't go through configresolve/openApp, so this is the one piece
// of path resolution they duplicate from init.go.
func openHookQueue() (*hookqueue.Queue, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return hookqueue.New(filepath.Join(cwd, ".sqlew", "queue"))
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// readStdinJSON reads an optional JSON object from stdin (hooks are usually
// piped input from an agent runtime). A hook invoked with no stdin gets an
// empty map, not an error — every field access below already tolerates a
// missing key.
func readStdinJSON() map[string]any {
	data := map[string]any{}
	stat, err := os.Stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
		return data
	}
	raw, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil || len(raw) == 0 {
		return data
	}
	_ = json.Unmarshal(raw, &data)
	return data
}

func splitTags(s string) []any {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// suggestCmd proposes a decision candidate before an agent commits to it.
// It enqueues a decision/create item; the hook queue's own dedup-by-key
// collapses repeated suggestions for the same key into one pending item,
// so calling this speculatively on every tool invocation is cheap.
func suggestCmd() *cobra.Command {
	var key, value, layer, tags string
	c := &cobra.Command{
		Use:   "suggest",
		Short: "Propose a decision candidate (queue-only, no database open)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return fmt.Errorf("--key is required")
			}
			q, err := openHookQueue()
			if err != nil {
				return err
			}
			data := readStdinJSON()
			data["key"] = key
			if value != "" {
				data["value"] = value
			}
			if layer != "" {
				data["layer"] = layer
			}
			if t := splitTags(tags); t != nil {
				data["tags"] = t
			}
			return q.Enqueue(hookqueue.QueueItem{
				Type: hookqueue.TypeDecision, Action: hookqueue.ActionCreate,
				Timestamp: nowStamp(), Data: data,
			})
		},
	}
	c.Flags().StringVar(&key, "key", "", "decision key")
	c.Flags().StringVar(&value, "value", "", "proposed value")
	c.Flags().StringVar(&layer, "layer", "", "architectural layer")
	c.Flags().StringVar(&tags, "tags", "", "comma-separated tags")
	return c
}

// trackPlanCmd records a constraint tied to a plan_id, so the constraints
// introduced while a plan is active can later be bulk-activated together
// (see onEnterPlanCmd) once the plan's tag is known.
func trackPlanCmd() *cobra.Command {
	var planID, text, category, layer, tags string
	c := &cobra.Command{
		Use:   "track-plan",
		Short: "Record a constraint introduced by the current plan (queue-only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if planID == "" || text == "" {
				return fmt.Errorf("--plan-id and --text are required")
			}
			q, err := openHookQueue()
			if err != nil {
				return err
			}
			data := readStdinJSON()
			data["plan_id"] = planID
			data["text"] = text
			if category != "" {
				data["category"] = category
			}
			if layer != "" {
				data["layer"] = layer
			}
			if t := splitTags(tags); t != nil {
				data["tags"] = t
			}
			return q.Enqueue(hookqueue.QueueItem{
				Type: hookqueue.TypeConstraint, Action: hookqueue.ActionCreate,
				Timestamp: nowStamp(), Data: data,
			})
		},
	}
	c.Flags().StringVar(&planID, "plan-id", "", "plan identifier")
	c.Flags().StringVar(&text, "text", "", "constraint text")
	c.Flags().StringVar(&category, "category", "", "constraint category")
	c.Flags().StringVar(&layer, "layer", "", "architectural layer")
	c.Flags().StringVar(&tags, "tags", "", "comma-separated tags")
	return c
}

// saveCmd persists a decision an agent has actually settled on, as opposed
// to suggestCmd's speculative proposal. It enqueues decision/update so a
// drain always overwrites whatever suggestCmd left pending for the key.
func saveCmd() *cobra.Command {
	var key, value, layer, status, tags string
	c := &cobra.Command{
		Use:   "save",
		Short: "Persist a settled decision value (queue-only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" || value == "" {
				return fmt.Errorf("--key and --value are required")
			}
			q, err := openHookQueue()
			if err != nil {
				return err
			}
			data := readStdinJSON()
			data["key"] = key
			data["value"] = value
			if layer != "" {
				data["layer"] = layer
			}
			if status != "" {
				data["status"] = status
			}
			if t := splitTags(tags); t != nil {
				data["tags"] = t
			}
			return q.Enqueue(hookqueue.QueueItem{
				Type: hookqueue.TypeDecision, Action: hookqueue.ActionUpdate,
				Timestamp: nowStamp(), Data: data,
			})
		},
	}
	c.Flags().StringVar(&key, "key", "", "decision key")
	c.Flags().StringVar(&value, "value", "", "final value")
	c.Flags().StringVar(&layer, "layer", "", "architectural layer")
	c.Flags().StringVar(&status, "status", "", "decision status")
	c.Flags().StringVar(&tags, "tags", "", "comma-separated tags")
	return c
}

// markDoneCmd flags a decision (most often one representing a task's
// terminal state) as done, via the same decision/update path saveCmd uses.
// There's no task-queue item type: the hook queue only ever carries
// decision/constraint entries, so task completion is tracked as a decision
// whose status is "done".
func markDoneCmd() *cobra.Command {
	var key string
	c := &cobra.Command{
		Use:   "mark-done",
		Short: "Mark a tracked decision/task key done (queue-only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return fmt.Errorf("--key is required")
			}
			q, err := openHookQueue()
			if err != nil {
				return err
			}
			return q.Enqueue(hookqueue.QueueItem{
				Type: hookqueue.TypeDecision, Action: hookqueue.ActionUpdate,
				Timestamp: nowStamp(),
				Data:      map[string]any{"key": key, "status": "done"},
			})
		},
	}
	c.Flags().StringVar(&key, "key", "", "decision/task key")
	return c
}

// checkCompletionCmd has nothing to enqueue: it exists so an agent runtime
// always has a well-known entry point to call before declaring a task
// finished, even though the actual completion gate (the watched-file
// check that prunes missing files) only runs against a live database connection inside
// taskgraph.Store's completion gate. Exit code alone is the signal here.
func checkCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-completion",
		Short: "No-op placeholder; completion gating runs inside the supervisor, not this hook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
}

// onEnterPlanCmd activates every constraint tagged with the plan, so
// constraints staged by track-plan take effect as soon as the plan starts.
func onEnterPlanCmd() *cobra.Command {
	var tags string
	c := &cobra.Command{
		Use:   "on-enter-plan",
		Short: "Activate constraints tagged for the entering plan (queue-only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tags == "" {
				return fmt.Errorf("--tags is required")
			}
			q, err := openHookQueue()
			if err != nil {
				return err
			}
			return q.Enqueue(hookqueue.QueueItem{
				Type: hookqueue.TypeConstraint, Action: hookqueue.ActionActivate,
				Timestamp: nowStamp(),
				Data:      map[string]any{"tags": splitTags(tags)},
			})
		},
	}
	c.Flags().StringVar(&tags, "tags", "", "comma-separated plan tags to activate")
	return c
}

// onExitPlanCmd has no queue action of its own: the protocol's Action enum
// covers create/update/activate, not deactivate, so retiring a plan's
// constraints goes through the dispatcher's direct Constraints.Deactivate
// call rather than the hook queue. This entry point is kept so agent
// runtimes have a symmetric on-enter/on-exit pair to call.
func onExitPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "on-exit-plan",
		Short: "No-op placeholder; constraint deactivation isn't routed through the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
}

// onSubagentStopCmd and onStopCmd are lifecycle markers an agent runtime
// calls when a subagent or the top-level session ends. Neither has
// store-level work to do on its own: the watcher already drains on any
// pending.json change, so there's nothing these need to force.
func onSubagentStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "on-subagent-stop",
		Short: "Lifecycle marker for subagent completion (no-op, queue-only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
}

func onStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "on-stop",
		Short: "Lifecycle marker for session completion (no-op, queue-only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
}
