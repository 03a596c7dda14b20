package sse

import (
	"time"

	"biotutor/internal/session"
)

// Event is one transient notification. It is not persisted beyond the
// pending buffer.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// taskEventTypes maps a completed task to its semantic event type.
var taskEventTypes = map[session.TaskName]string{
	session.TaskVisionExtraction: "question_extracted",
	session.TaskExamPoints:       "exam_points_ready",
	session.TaskDeepSolution:     "solution_ready",
	session.TaskKnowledgePoints:  "knowledge_ready",
	session.TaskLogicChain:       "logic_chain_ready",
}

// EventTypeForTask returns the semantic event type for a task completion,
// and whether the task is one of the fixed five.
func EventTypeForTask(name session.TaskName) (string, bool) {
	eventType, ok := taskEventTypes[name]
	return eventType, ok
}
