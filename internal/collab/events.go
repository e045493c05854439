package collab

import (
	"time"
)

// Execution event types, in the order a successful run emits them
const (
	EventStatus         = "status"
	EventDecomposed     = "decomposed"
	EventAgentStarted   = "agent_started"
	EventAgentChunk     = "agent_chunk"
	EventAgentCompleted = "agent_completed"
	EventSynthesizing   = "synthesizing"
	EventCompleted      = "completed"
	EventError          = "error"
)

// Event is one progress update of a task execution. It is sent to the
// caller's stream and published on the task's broker topic.
type Event struct {
	Type      string      `json:"type"`
	TaskID    uint        `json:"task_id"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Sink receives events for the caller. Returning an error aborts the run.
type Sink func(Event) error

// AgentStarted is the payload of agent_started
type AgentStarted struct {
	AssignmentID uint   `json:"assignment_id"`
	AgentID      uint   `json:"agent_id"`
	AgentName    string `json:"agent_name"`
	Role         string `json:"role"`
	Subtask      string `json:"subtask"`
	Sequence     int    `json:"sequence"`
}

// AgentChunk is the payload of agent_chunk
type AgentChunk struct {
	AssignmentID uint   `json:"assignment_id"`
	AgentID      uint   `json:"agent_id"`
	Delta        string `json:"delta"`
}
