package models

import (
	"time"

	"gorm.io/gorm"
)

// Team is a named collection of agents with roles. Deleting a team archives it.
type Team struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	OwnerID     uint       `json:"owner_id" gorm:"not null;index"`
	Name        string     `json:"name" gorm:"not null;size:100"`
	Description string     `json:"description"`
	IsArchived  bool       `json:"is_archived" gorm:"default:false;index"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`

	Members []TeamMember `json:"members,omitempty" gorm:"foreignKey:TeamID"`
}

// TeamMember places an agent on a team
type TeamMember struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TeamID    uint   `json:"team_id" gorm:"not null;uniqueIndex:idx_team_agent"`
	AgentID   uint   `json:"agent_id" gorm:"not null;uniqueIndex:idx_team_agent"`
	Role      string `json:"role" gorm:"not null"`
	IsPrimary bool   `json:"is_primary" gorm:"default:false"`
	Position  int    `json:"position" gorm:"default:0"`

	Agent *Agent `json:"agent,omitempty" gorm:"foreignKey:AgentID"`
}

// TaskStatus is the lifecycle state of a collaborative task
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
)

// CanTransition reports whether a task may move from s to next.
// A running task that fails goes back to PENDING.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskPending:
		return next == TaskInProgress
	case TaskInProgress:
		return next == TaskCompleted || next == TaskPending
	default:
		return false
	}
}

// CollaborativeTask is a user objective executed by a team. Versions form a
// linear chain through ParentTaskID.
type CollaborativeTask struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	TeamID       uint       `json:"team_id" gorm:"not null;index"`
	CreatedBy    uint       `json:"created_by" gorm:"not null;index"`
	Title        string     `json:"title" gorm:"not null"`
	Description  string     `json:"description" gorm:"type:text;not null"`
	Status       TaskStatus `json:"status" gorm:"not null;default:'PENDING';index"`
	ParentTaskID *uint      `json:"parent_task_id,omitempty" gorm:"index"`
	Version      int        `json:"version" gorm:"not null;default:1"`

	FinalResult string     `json:"final_result" gorm:"type:text"`
	Confidence  float64    `json:"confidence"`
	LastError   string     `json:"last_error,omitempty"`
	RunID       string     `json:"-" gorm:"size:100;index"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Team          *Team               `json:"team,omitempty" gorm:"foreignKey:TeamID"`
	Assignments   []TaskAssignment    `json:"assignments,omitempty" gorm:"foreignKey:TaskID"`
	Contributions []AgentContribution `json:"contributions,omitempty" gorm:"foreignKey:TaskID"`
}

// TaskAssignment is the subtask given to one team member
type TaskAssignment struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TaskID       uint       `json:"task_id" gorm:"not null;index"`
	AgentID      uint       `json:"agent_id" gorm:"not null;index"`
	TeamMemberID uint       `json:"team_member_id" gorm:"not null"`
	Role         string     `json:"role"`
	Subtask      string     `json:"subtask" gorm:"type:text"`
	Sequence     int        `json:"sequence"`
	Status       TaskStatus `json:"status" gorm:"default:'PENDING'"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// AgentContribution is the output one agent produced for its assignment
type AgentContribution struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`

	TaskID         uint    `json:"task_id" gorm:"not null;index"`
	AssignmentID   uint    `json:"assignment_id" gorm:"not null;index"`
	AgentID        uint    `json:"agent_id" gorm:"not null;index"`
	Content        string  `json:"content" gorm:"type:text"`
	Confidence     float64 `json:"confidence"`
	Model          string  `json:"model"`
	TokensUsed     int     `json:"tokens_used"`
	ResponseTimeMs int64   `json:"response_time_ms"`
}
