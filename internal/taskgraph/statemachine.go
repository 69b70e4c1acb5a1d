package taskgraph

import "github.com/sin5ddd/sqlew/internal/model"

// permittedEdges encodes the state-machine table: archived is terminal,
// every other state permits the edges listed.
var permittedEdges = map[model.TaskStatus]map[model.TaskStatus]bool{
	model.TaskStatusTodo: {
		model.TaskStatusInProgress: true,
		model.TaskStatusBlocked:    true,
		model.TaskStatusArchived:   true,
	},
	model.TaskStatusInProgress: {
		model.TaskStatusTodo:          true,
		model.TaskStatusWaitingReview: true,
		model.TaskStatusBlocked:       true,
		model.TaskStatusDone:          true,
		model.TaskStatusArchived:      true,
	},
	model.TaskStatusWaitingReview: {
		model.TaskStatusTodo:        true,
		model.TaskStatusInProgress:  true,
		model.TaskStatusBlocked:     true,
		model.TaskStatusDone:        true,
		model.TaskStatusArchived:    true,
	},
	model.TaskStatusBlocked: {
		model.TaskStatusTodo:       true,
		model.TaskStatusInProgress: true,
		model.TaskStatusArchived:   true,
	},
	model.TaskStatusDone: {
		model.TaskStatusInProgress: true,
		model.TaskStatusArchived:   true,
	},
	model.TaskStatusArchived: {},
}

// isPermittedMove reports whether from→to is an allowed state transition.
func isPermittedMove(from, to model.TaskStatus) bool {
	if from == to {
		return false
	}
	edges, ok := permittedEdges[from]
	if !ok {
		return false
	}
	return edges[to]
}
