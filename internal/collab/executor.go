// Package collab runs collaborative tasks: a team's agents work through a
// decomposed task one after another and a final LLM call merges their output.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Winger29/FSDP-Assignment2/internal/ai"
	"github.com/Winger29/FSDP-Assignment2/internal/apierr"
	"github.com/Winger29/FSDP-Assignment2/internal/logging"
	"github.com/Winger29/FSDP-Assignment2/internal/metrics"
	"github.com/Winger29/FSDP-Assignment2/internal/realtime"
	"github.com/Winger29/FSDP-Assignment2/internal/tracing"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

var (
	ErrNoTeamMembers  = apierr.New(apierr.ErrInvalid, "NO_TEAM_MEMBERS", "team has no members")
	ErrTaskNotPending = apierr.New(apierr.ErrConflict, "TASK_NOT_PENDING", "task is not pending")

	// errRunSuperseded means the task was reset, and possibly claimed again,
	// while this run was still working on it
	errRunSuperseded = apierr.New(apierr.ErrConflict, "TASK_SUPERSEDED", "task was reset while running")
)

const maxLastErrorLength = 1000

// MemberSource lists a team's members primary-first with agents loaded
type MemberSource interface {
	OrderedMembers(ctx context.Context, teamID uint) ([]models.TeamMember, error)
}

// InteractionRecorder folds an agent call into the agent's rolling metrics
type InteractionRecorder interface {
	RecordInteraction(ctx context.Context, agentID uint, duration time.Duration, success bool) error
}

// Executor runs the collaborative pipeline for one task at a time per call.
// Members run strictly in order; there is no concurrency inside a run.
type Executor struct {
	db       *gorm.DB
	llm      ai.Completer
	members  MemberSource
	recorder InteractionRecorder
	broker   realtime.Broker
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	instance string
}

// NewExecutor creates an executor. broker and m may be nil. Runs are tagged
// with the host name unless WithInstance sets another id.
func NewExecutor(db *gorm.DB, llm ai.Completer, members MemberSource, recorder InteractionRecorder, broker realtime.Broker, m *metrics.Metrics) *Executor {
	return &Executor{
		db:       db,
		llm:      llm,
		members:  members,
		recorder: recorder,
		broker:   broker,
		metrics:  m,
		tracer:   tracing.Tracer(),
		instance: defaultInstance(),
	}
}

// WithInstance sets the id this process stamps on the runs it claims
func (e *Executor) WithInstance(id string) *Executor {
	if id != "" {
		e.instance = id
	}
	return e
}

// Instance returns the id stamped on runs claimed by this process
func (e *Executor) Instance() string {
	return e.instance
}

func defaultInstance() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "agenthub"
}

// run holds the state of one execution
type run struct {
	task *models.CollaborativeTask
	sink Sink

	// agent currently working and when its call began, for failure metrics
	agent      uint
	agentStart time.Time

	// stage is the client-facing description of the step in progress
	stage string

	// superseded runs no longer own the task and stop publishing
	superseded bool
}

// Execute claims a PENDING task and runs it to completion. Any failure puts
// the task back to PENDING with last_error set and returns the error.
func (e *Executor) Execute(ctx context.Context, taskID uint, sink Sink) (*models.CollaborativeTask, error) {
	var task models.CollaborativeTask
	if err := e.db.WithContext(ctx).First(&task, taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound("task")
		}
		return nil, err
	}

	members, err := e.members.OrderedMembers(ctx, task.TeamID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, ErrNoTeamMembers
	}

	if err := e.claim(ctx, &task); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "collab.task", trace.WithAttributes(
		attribute.Int64("task.id", int64(task.ID)),
		attribute.Int64("team.id", int64(task.TeamID)),
		attribute.Int("team.members", len(members)),
	))
	defer span.End()

	r := &run{task: &task, sink: sink, stage: "task execution failed"}
	start := time.Now()
	log := logging.L().With(zap.Uint("task_id", task.ID), zap.Uint("team_id", task.TeamID), zap.String("run_id", task.RunID))
	log.Info("Task execution started", zap.Int("members", len(members)))

	if err := e.emit(ctx, r, EventStatus, map[string]interface{}{"status": models.TaskInProgress}); err != nil {
		return nil, e.fail(ctx, r, span, start, err)
	}

	if err := e.runPipeline(ctx, r, members); err != nil {
		return nil, e.fail(ctx, r, span, start, err)
	}

	if e.metrics != nil {
		e.metrics.RecordTaskExecution("completed", time.Since(start))
	}
	span.SetAttributes(attribute.Float64("task.confidence", task.Confidence))
	span.SetStatus(codes.Ok, "")
	log.Info("Task execution completed",
		zap.Duration("duration", time.Since(start)),
		zap.Float64("confidence", task.Confidence),
	)
	return &task, nil
}

// claim moves the task from PENDING to IN_PROGRESS under a fresh run id.
// Only one caller can win.
func (e *Executor) claim(ctx context.Context, task *models.CollaborativeTask) error {
	now := time.Now().UTC()
	runID := e.instance + ":" + uuid.NewString()
	n, err := transition(e.db.WithContext(ctx).Model(&models.CollaborativeTask{}).Where("id = ?", task.ID),
		models.TaskPending, models.TaskInProgress, map[string]interface{}{
			"started_at": now,
			"last_error": "",
			"run_id":     runID,
		})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotPending
	}
	task.Status = models.TaskInProgress
	task.StartedAt = &now
	task.LastError = ""
	task.RunID = runID
	return nil
}

func (e *Executor) runPipeline(ctx context.Context, r *run, members []models.TeamMember) error {
	assignments, err := e.decompose(ctx, r, members)
	if err != nil {
		return err
	}

	byMember := make(map[uint]models.TeamMember, len(members))
	for _, m := range members {
		byMember[m.ID] = m
	}

	var prior []priorContribution
	scores := make([]float64, 0, len(assignments))
	for i := range assignments {
		member := byMember[assignments[i].TeamMemberID]
		contribution, err := e.runAgent(ctx, r, &assignments[i], member, prior)
		if err != nil {
			return err
		}
		r.task.Contributions = append(r.task.Contributions, *contribution)
		scores = append(scores, contribution.Confidence)
		prior = append(prior, priorContribution{
			AgentName: member.Agent.Name,
			Role:      assignments[i].Role,
			Content:   contribution.Content,
		})
	}
	r.task.Assignments = assignments

	final, err := e.synthesize(ctx, r, members[0], prior)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	r.task.FinalResult = final
	r.task.Confidence = MeanConfidence(scores)
	n, err := transition(r.owned(e.db.WithContext(ctx)),
		models.TaskInProgress, models.TaskCompleted, map[string]interface{}{
			"final_result": r.task.FinalResult,
			"confidence":   r.task.Confidence,
			"completed_at": now,
		})
	if err != nil {
		return err
	}
	if n == 0 {
		return errRunSuperseded
	}
	r.task.Status = models.TaskCompleted
	r.task.CompletedAt = &now

	return e.emit(ctx, r, EventCompleted, r.task)
}

// decompose asks the coordinator model for one subtask per member and
// replaces any assignments left over from an earlier failed run
func (e *Executor) decompose(ctx context.Context, r *run, members []models.TeamMember) ([]models.TaskAssignment, error) {
	ctx, span := e.tracer.Start(ctx, "collab.decompose")
	defer span.End()
	r.stage = "decomposition failed"

	coordinator := members[0].Agent
	resp, err := e.llm.Generate(ctx, &ai.ChatRequest{
		Model:       coordinator.Model,
		System:      decomposeSystemPrompt,
		Messages:    []ai.Message{{Role: models.RoleUser, Content: decomposePrompt(r.task, members)}},
		Temperature: 0.2,
		MaxTokens:   1500,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decomposition failed")
		return nil, fmt.Errorf("decompose task: %w", err)
	}

	plan, parsed := parseDecomposition(resp.Content, r.task, members)
	if !parsed {
		logging.L().Warn("Decomposition was not valid JSON, using default subtasks",
			zap.Uint("task_id", r.task.ID),
		)
	}
	span.SetAttributes(attribute.Bool("decompose.parsed", parsed), attribute.Int("decompose.subtasks", len(plan)))

	assignments := make([]models.TaskAssignment, 0, len(plan))
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.requireOwnership(tx); err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", r.task.ID).Delete(&models.AgentContribution{}).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", r.task.ID).Delete(&models.TaskAssignment{}).Error; err != nil {
			return err
		}
		for i, p := range plan {
			a := models.TaskAssignment{
				TaskID:       r.task.ID,
				AgentID:      p.Member.AgentID,
				TeamMemberID: p.Member.ID,
				Role:         p.Member.Role,
				Subtask:      p.Subtask,
				Sequence:     i + 1,
				Status:       models.TaskPending,
			}
			if err := tx.Create(&a).Error; err != nil {
				return err
			}
			assignments = append(assignments, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.emit(ctx, r, EventDecomposed, map[string]interface{}{"assignments": assignments}); err != nil {
		return nil, err
	}
	return assignments, nil
}

// runAgent streams one member's contribution and stores it
func (e *Executor) runAgent(ctx context.Context, r *run, a *models.TaskAssignment, member models.TeamMember, prior []priorContribution) (*models.AgentContribution, error) {
	agent := member.Agent
	ctx, span := e.tracer.Start(ctx, "collab.agent", trace.WithAttributes(
		attribute.Int64("agent.id", int64(agent.ID)),
		attribute.String("agent.model", agent.Model),
		attribute.Int("assignment.sequence", a.Sequence),
	))
	defer span.End()
	r.stage = fmt.Sprintf("agent %q failed", agent.Name)

	startedAt := time.Now().UTC()
	if err := e.db.WithContext(ctx).Model(a).Updates(map[string]interface{}{
		"status":     models.TaskInProgress,
		"started_at": startedAt,
	}).Error; err != nil {
		return nil, err
	}
	a.Status = models.TaskInProgress
	a.StartedAt = &startedAt

	if err := e.emit(ctx, r, EventAgentStarted, AgentStarted{
		AssignmentID: a.ID,
		AgentID:      agent.ID,
		AgentName:    agent.Name,
		Role:         a.Role,
		Subtask:      a.Subtask,
		Sequence:     a.Sequence,
	}); err != nil {
		return nil, err
	}

	r.agent = agent.ID
	r.agentStart = time.Now()
	resp, err := e.llm.Stream(ctx, &ai.ChatRequest{
		Model:       agent.Model,
		System:      agent.SystemPrompt,
		Messages:    []ai.Message{{Role: models.RoleUser, Content: contributionContext(r.task, a.Role, a.Subtask, prior)}},
		Temperature: agent.Temperature,
		MaxTokens:   agent.MaxTokens,
		Logprobs:    true,
	}, func(delta string) error {
		return e.emit(ctx, r, EventAgentChunk, AgentChunk{AssignmentID: a.ID, AgentID: agent.ID, Delta: delta})
	})
	elapsed := time.Since(r.agentStart)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent failed")
		return nil, fmt.Errorf("agent %q: %w", agent.Name, err)
	}

	contribution := &models.AgentContribution{
		TaskID:         r.task.ID,
		AssignmentID:   a.ID,
		AgentID:        agent.ID,
		Content:        resp.Content,
		Confidence:     Confidence(resp.Content, resp.TokenLogprobs),
		Model:          resp.Model,
		TokensUsed:     resp.Usage.TotalTokens,
		ResponseTimeMs: elapsed.Milliseconds(),
	}
	completedAt := time.Now().UTC()
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.requireOwnership(tx); err != nil {
			return err
		}
		if err := tx.Create(contribution).Error; err != nil {
			return err
		}
		return tx.Model(a).Updates(map[string]interface{}{
			"status":       models.TaskCompleted,
			"completed_at": completedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	a.Status = models.TaskCompleted
	a.CompletedAt = &completedAt

	r.agent = 0
	if e.recorder != nil {
		if err := e.recorder.RecordInteraction(ctx, agent.ID, elapsed, true); err != nil {
			logging.L().Warn("Failed to record agent interaction", zap.Uint("agent_id", agent.ID), zap.Error(err))
		}
	}
	if e.metrics != nil {
		e.metrics.RecordContribution(contribution.Confidence)
	}
	span.SetAttributes(attribute.Float64("contribution.confidence", contribution.Confidence))

	if err := e.emit(ctx, r, EventAgentCompleted, contribution); err != nil {
		return nil, err
	}
	return contribution, nil
}

// synthesize merges all contributions into the final result using the
// primary member's model
func (e *Executor) synthesize(ctx context.Context, r *run, primary models.TeamMember, prior []priorContribution) (string, error) {
	ctx, span := e.tracer.Start(ctx, "collab.synthesize")
	defer span.End()
	r.stage = "synthesis failed"

	if err := e.emit(ctx, r, EventSynthesizing, map[string]interface{}{"contributions": len(prior)}); err != nil {
		return "", err
	}

	resp, err := e.llm.Generate(ctx, &ai.ChatRequest{
		Model:       primary.Agent.Model,
		System:      synthesisSystemPrompt,
		Messages:    []ai.Message{{Role: models.RoleUser, Content: synthesisPrompt(r.task, prior)}},
		Temperature: 0.3,
		MaxTokens:   2048,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return "", fmt.Errorf("synthesize result: %w", err)
	}
	return resp.Content, nil
}

// fail rolls the task back to PENDING. It runs even when ctx was cancelled
// by a client disconnect. A run that no longer owns the task leaves it alone
// and tells only its own caller.
func (e *Executor) fail(ctx context.Context, r *run, span trace.Span, start time.Time, cause error) error {
	bg := context.WithoutCancel(ctx)
	runID := r.task.RunID

	msg := publicMessage(r, cause)
	n, err := transition(r.owned(e.db.WithContext(bg)), models.TaskInProgress, models.TaskPending,
		map[string]interface{}{"last_error": msg, "run_id": ""})
	if err != nil {
		logging.L().Error("Failed to reset task", zap.Uint("task_id", r.task.ID), zap.Error(err))
	}
	if err == nil && n == 0 {
		r.superseded = true
	}
	if !r.superseded {
		r.task.Status = models.TaskPending
		r.task.LastError = msg
		r.task.RunID = ""
	}

	if r.agent != 0 && e.recorder != nil {
		if err := e.recorder.RecordInteraction(bg, r.agent, time.Since(r.agentStart), false); err != nil {
			logging.L().Warn("Failed to record agent failure", zap.Uint("agent_id", r.agent), zap.Error(err))
		}
	}
	if e.metrics != nil {
		e.metrics.RecordTaskExecution("reset", time.Since(start))
	}

	span.RecordError(cause)
	span.SetStatus(codes.Error, "task execution failed")
	logging.L().Error("Task execution failed, reset to PENDING",
		zap.Uint("task_id", r.task.ID),
		zap.String("run_id", runID),
		zap.Bool("superseded", r.superseded),
		zap.Error(cause),
	)

	// the caller may be gone, so only the broker hears about it then
	_ = e.emit(bg, r, EventError, map[string]interface{}{"error": msg, "status": models.TaskPending})
	return cause
}

// publicMessage is what clients see for a failed run. Typed errors keep their
// own message; anything else is replaced by the stage that failed so provider
// and database details stay in the logs.
func publicMessage(r *run, cause error) string {
	if status, _, msg := apierr.Status(cause); status != http.StatusInternalServerError {
		return truncate(msg, maxLastErrorLength)
	}
	return truncate(r.stage, maxLastErrorLength)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// emit publishes an event on the task topic and hands it to the caller's sink
func (e *Executor) emit(ctx context.Context, r *run, eventType string, data interface{}) error {
	ev := Event{Type: eventType, TaskID: r.task.ID, Data: data, Timestamp: time.Now().UTC()}

	if e.broker != nil && !r.superseded {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = e.broker.Publish(ctx, realtime.TaskTopic(r.task.ID), payload)
		}
		if err != nil {
			logging.L().Debug("Failed to publish task event", zap.String("type", eventType), zap.Error(err))
		}
	}

	if r.sink == nil {
		return nil
	}
	return r.sink(ev)
}
