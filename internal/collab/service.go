package collab

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/Winger29/FSDP-Assignment2/internal/apierr"
	"github.com/Winger29/FSDP-Assignment2/internal/realtime"
	"github.com/Winger29/FSDP-Assignment2/internal/sharing"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

var (
	ErrTaskRunning      = apierr.New(apierr.ErrConflict, "TASK_RUNNING", "task is currently executing")
	ErrNotLatestVersion = apierr.New(apierr.ErrConflict, "NOT_LATEST_VERSION", "only the latest version of a task can be branched")
)

// TimedOutError is recorded on tasks reset by the stale task sweep
const TimedOutError = "execution timed out"

// TeamSource resolves a non-archived team the user holds a permission on
type TeamSource interface {
	GetActive(ctx context.Context, userID, id uint, perm string) (*models.Team, error)
}

// TaskService implements task CRUD, versioning and execution entry points
type TaskService struct {
	db       *gorm.DB
	sharing  *sharing.Service
	teams    TeamSource
	executor *Executor
	broker   realtime.Broker
}

// NewTaskService creates a task service
func NewTaskService(db *gorm.DB, sh *sharing.Service, teams TeamSource, executor *Executor, broker realtime.Broker) *TaskService {
	return &TaskService{db: db, sharing: sh, teams: teams, executor: executor, broker: broker}
}

// CreateInput is the payload for a new task
type CreateInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// VersionInput overrides fields of the parent when branching a version
type VersionInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func validate(title, description string) (string, string, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if description == "" {
		return "", "", apierr.Invalidf("description is required")
	}
	if title == "" {
		title = description
		if r := []rune(title); len(r) > 80 {
			title = string(r[:77]) + "..."
		}
	}
	if len([]rune(title)) > 200 {
		return "", "", apierr.Invalidf("title must be at most 200 characters")
	}
	return title, description, nil
}

// Create adds a PENDING version 1 task to a team the user may use
func (s *TaskService) Create(ctx context.Context, userID, teamID uint, in CreateInput) (*models.CollaborativeTask, error) {
	title, description, err := validate(in.Title, in.Description)
	if err != nil {
		return nil, err
	}
	if _, err := s.teams.GetActive(ctx, userID, teamID, models.PermissionUse); err != nil {
		return nil, err
	}

	task := &models.CollaborativeTask{
		TeamID:      teamID,
		CreatedBy:   userID,
		Title:       title,
		Description: description,
		Status:      models.TaskPending,
		Version:     1,
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

// Get returns a task with its assignments and contributions
func (s *TaskService) Get(ctx context.Context, userID, id uint) (*models.CollaborativeTask, error) {
	if err := s.sharing.Require(ctx, userID, models.ResourceTask, id, models.PermissionView); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

func (s *TaskService) load(ctx context.Context, id uint) (*models.CollaborativeTask, error) {
	var task models.CollaborativeTask
	err := s.db.WithContext(ctx).
		Preload("Assignments", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") }).
		Preload("Contributions", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("task")
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListForTeam returns a team's tasks, newest first
func (s *TaskService) ListForTeam(ctx context.Context, userID, teamID uint) ([]models.CollaborativeTask, error) {
	if err := s.sharing.Require(ctx, userID, models.ResourceTeam, teamID, models.PermissionView); err != nil {
		return nil, err
	}
	tasks := []models.CollaborativeTask{}
	err := s.db.WithContext(ctx).Where("team_id = ?", teamID).Order("created_at DESC, id DESC").Find(&tasks).Error
	return tasks, err
}

// Delete soft-deletes a task that is not running
func (s *TaskService) Delete(ctx context.Context, userID, id uint) error {
	if err := s.sharing.RequireOwner(ctx, userID, models.ResourceTask, id); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Where("id = ? AND status <> ?", id, models.TaskInProgress).
		Delete(&models.CollaborativeTask{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTaskRunning
	}
	return nil
}

// Execute runs a task the user may use. sink receives progress events and
// may be nil.
func (s *TaskService) Execute(ctx context.Context, userID, id uint, sink Sink) (*models.CollaborativeTask, error) {
	if err := s.sharing.Require(ctx, userID, models.ResourceTask, id, models.PermissionUse); err != nil {
		return nil, err
	}
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.teams.GetActive(ctx, userID, task.TeamID, models.PermissionUse); err != nil {
		return nil, err
	}
	if task.Status != models.TaskPending {
		return nil, ErrTaskNotPending
	}
	return s.executor.Execute(ctx, id, sink)
}

// Subscribe streams the task's progress events as published by whichever
// instance runs it
func (s *TaskService) Subscribe(ctx context.Context, userID, id uint) (<-chan []byte, func(), error) {
	if err := s.sharing.Require(ctx, userID, models.ResourceTask, id, models.PermissionView); err != nil {
		return nil, nil, err
	}
	if s.broker == nil {
		return nil, nil, apierr.New(apierr.ErrInvalid, "EVENTS_UNAVAILABLE", "task events are not available")
	}
	return s.broker.Subscribe(ctx, realtime.TaskTopic(id))
}

// CreateVersion branches a new PENDING task from the latest version of a
// chain. Versions are linear: branching an older version is a conflict.
func (s *TaskService) CreateVersion(ctx context.Context, userID, id uint, in VersionInput) (*models.CollaborativeTask, error) {
	if err := s.sharing.Require(ctx, userID, models.ResourceTask, id, models.PermissionUse); err != nil {
		return nil, err
	}
	parent, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.teams.GetActive(ctx, userID, parent.TeamID, models.PermissionUse); err != nil {
		return nil, err
	}

	title, description := parent.Title, parent.Description
	if in.Title != nil {
		title = *in.Title
	}
	if in.Description != nil {
		description = *in.Description
	}
	title, description, err = validate(title, description)
	if err != nil {
		return nil, err
	}

	parentID := parent.ID
	child := &models.CollaborativeTask{
		TeamID:       parent.TeamID,
		CreatedBy:    userID,
		Title:        title,
		Description:  description,
		Status:       models.TaskPending,
		ParentTaskID: &parentID,
		Version:      parent.Version + 1,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var children int64
		if err := tx.Model(&models.CollaborativeTask{}).Where("parent_task_id = ?", parentID).Count(&children).Error; err != nil {
			return err
		}
		if children > 0 {
			return ErrNotLatestVersion
		}
		return tx.Create(child).Error
	})
	if err != nil {
		return nil, err
	}
	return child, nil
}

// Versions returns the whole version chain containing a task, oldest first
func (s *TaskService) Versions(ctx context.Context, userID, id uint) ([]models.CollaborativeTask, error) {
	if err := s.sharing.Require(ctx, userID, models.ResourceTask, id, models.PermissionView); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx).Unscoped().Session(&gorm.Session{})

	var cur models.CollaborativeTask
	if err := db.First(&cur, id).Error; err != nil {
		return nil, err
	}
	for cur.ParentTaskID != nil {
		var parent models.CollaborativeTask
		if err := db.First(&parent, *cur.ParentTaskID).Error; err != nil {
			break
		}
		cur = parent
	}

	chain := []models.CollaborativeTask{}
	seen := map[uint]bool{}
	for {
		if seen[cur.ID] {
			break
		}
		seen[cur.ID] = true
		if !cur.DeletedAt.Valid {
			chain = append(chain, cur)
		}
		// a live child wins over a deleted one; deleted versions stay in the
		// chain so their live descendants are still reachable
		var next models.CollaborativeTask
		err := s.db.WithContext(ctx).Where("parent_task_id = ?", cur.ID).Order("id ASC").First(&next).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = db.Where("parent_task_id = ?", cur.ID).Order("id DESC").First(&next).Error
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return chain, nil
}

// ResetStale puts tasks that have been IN_PROGRESS longer than maxAge back to
// PENDING. maxAge 0 resets every running task regardless of which instance
// runs it. A run that loses its task this way notices at its next write and
// stops.
func (s *TaskService) ResetStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.CollaborativeTask{})
	if maxAge > 0 {
		q = q.Where("started_at < ?", time.Now().UTC().Add(-maxAge))
	}
	return resetRunning(q)
}

// ResetOrphaned puts back to PENDING the tasks this instance claimed before a
// restart. Runs owned by other instances are left alone.
func (s *TaskService) ResetOrphaned(ctx context.Context) (int64, error) {
	prefix := s.executor.Instance() + ":"
	q := s.db.WithContext(ctx).Model(&models.CollaborativeTask{}).
		Where("substr(run_id, 1, ?) = ?", len(prefix), prefix)
	return resetRunning(q)
}

func resetRunning(q *gorm.DB) (int64, error) {
	return transition(q, models.TaskInProgress, models.TaskPending, map[string]interface{}{
		"last_error": TimedOutError,
		"run_id":     "",
	})
}
