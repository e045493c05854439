// Package agents manages user-owned LLM personas and their rolling metrics.
package agents

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Winger29/FSDP-Assignment2/internal/apierr"
	"github.com/Winger29/FSDP-Assignment2/internal/cache"
	"github.com/Winger29/FSDP-Assignment2/internal/logging"
	"github.com/Winger29/FSDP-Assignment2/internal/sharing"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

// List scopes
const (
	ScopeOwned  = "owned"
	ScopeShared = "shared"
	ScopeAll    = "all"
)

const (
	maxNameLength   = 100
	defaultMaxToken = 1024
	listCacheTTL    = 30 * time.Second
)

// CreateInput is the payload for a new agent
type CreateInput struct {
	Name         string   `json:"name" binding:"required"`
	Description  string   `json:"description"`
	SystemPrompt string   `json:"system_prompt" binding:"required"`
	Model        string   `json:"model"`
	Temperature  *float64 `json:"temperature"`
	MaxTokens    int      `json:"max_tokens"`
	Capabilities []string `json:"capabilities"`
}

// UpdateInput changes only the fields that are set
type UpdateInput struct {
	Name         *string   `json:"name"`
	Description  *string   `json:"description"`
	SystemPrompt *string   `json:"system_prompt"`
	Model        *string   `json:"model"`
	Temperature  *float64  `json:"temperature"`
	MaxTokens    *int      `json:"max_tokens"`
	Capabilities *[]string `json:"capabilities"`
	IsActive     *bool     `json:"is_active"`
}

// Metrics is the rolling metrics view of an agent
type Metrics struct {
	AgentID           uint    `json:"agent_id"`
	InteractionCount  int64   `json:"interaction_count"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	SuccessCount      int64   `json:"success_count"`
	FailureCount      int64   `json:"failure_count"`
	SuccessRate       float64 `json:"success_rate"`
	PositiveFeedback  int64   `json:"positive_feedback"`
	NegativeFeedback  int64   `json:"negative_feedback"`
}

// Service implements agent CRUD
type Service struct {
	db           *gorm.DB
	cache        *cache.RedisCache
	sharing      *sharing.Service
	defaultModel string
}

// NewService creates an agent service
func NewService(db *gorm.DB, c *cache.RedisCache, sh *sharing.Service, defaultModel string) *Service {
	return &Service{db: db, cache: c, sharing: sh, defaultModel: defaultModel}
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apierr.Invalidf("name is required")
	}
	if len([]rune(name)) > maxNameLength {
		return "", apierr.Invalidf("name must be at most %d characters", maxNameLength)
	}
	return name, nil
}

func validateTemperature(t float64) error {
	if t < 0 || t > 2 {
		return apierr.Invalidf("temperature must be between 0 and 2")
	}
	return nil
}

// Create validates and stores a new agent
func (s *Service) Create(ctx context.Context, ownerID uint, in CreateInput) (*models.Agent, error) {
	name, err := validateName(in.Name)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.SystemPrompt) == "" {
		return nil, apierr.Invalidf("system_prompt is required")
	}

	agent := &models.Agent{
		OwnerID:      ownerID,
		Name:         name,
		Description:  in.Description,
		SystemPrompt: in.SystemPrompt,
		Model:        strings.TrimSpace(in.Model),
		Temperature:  0.7,
		MaxTokens:    in.MaxTokens,
		Capabilities: in.Capabilities,
		IsActive:     true,
	}
	if agent.Model == "" {
		agent.Model = s.defaultModel
	}
	if in.Temperature != nil {
		if err := validateTemperature(*in.Temperature); err != nil {
			return nil, err
		}
		agent.Temperature = *in.Temperature
	}
	if agent.MaxTokens < 0 {
		return nil, apierr.Invalidf("max_tokens must be positive")
	}
	if agent.MaxTokens == 0 {
		agent.MaxTokens = defaultMaxToken
	}
	if agent.Capabilities == nil {
		agent.Capabilities = []string{}
	}

	if err := s.db.WithContext(ctx).Create(agent).Error; err != nil {
		return nil, err
	}
	// gorm replaces a zero value with the column default on insert
	if in.Temperature != nil && *in.Temperature == 0 {
		if err := s.db.WithContext(ctx).Model(agent).Update("temperature", 0).Error; err != nil {
			return nil, err
		}
		agent.Temperature = 0
	}
	s.invalidateLists(ctx, ownerID)
	return agent, nil
}

// List returns agents visible to the user in the given scope
func (s *Service) List(ctx context.Context, userID uint, scope string) ([]models.Agent, error) {
	switch scope {
	case "":
		scope = ScopeAll
	case ScopeOwned, ScopeShared, ScopeAll:
	default:
		return nil, apierr.Invalidf("scope must be owned, shared or all")
	}

	key := cache.AgentListKey(userID, scope)
	var cached []models.Agent
	if s.cache != nil && s.cache.GetJSON(ctx, key, &cached) == nil {
		return cached, nil
	}

	q := s.db.WithContext(ctx).Model(&models.Agent{})
	switch scope {
	case ScopeOwned:
		q = q.Where("owner_id = ?", userID)
	case ScopeShared:
		ids, err := s.sharing.AccessibleIDs(ctx, userID, models.ResourceAgent)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return []models.Agent{}, nil
		}
		q = q.Where("id IN ?", ids)
	default:
		ids, err := s.sharing.AccessibleIDs(ctx, userID, models.ResourceAgent)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			q = q.Where("owner_id = ? OR id IN ?", userID, ids)
		} else {
			q = q.Where("owner_id = ?", userID)
		}
	}

	agents := []models.Agent{}
	if err := q.Order("created_at DESC").Find(&agents).Error; err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, agents, listCacheTTL); err != nil {
			logging.L().Debug("Failed to cache agent list", zap.Error(err))
		}
	}
	return agents, nil
}

// Get returns an agent the user can view
func (s *Service) Get(ctx context.Context, userID, id uint) (*models.Agent, error) {
	if err := s.sharing.Require(ctx, userID, models.ResourceAgent, id, models.PermissionView); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// GetForUse returns an agent the user may chat with or put on a team
func (s *Service) GetForUse(ctx context.Context, userID, id uint) (*models.Agent, error) {
	if err := s.sharing.Require(ctx, userID, models.ResourceAgent, id, models.PermissionUse); err != nil {
		return nil, err
	}
	agent, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !agent.IsActive {
		return nil, apierr.Invalidf("agent is inactive")
	}
	return agent, nil
}

func (s *Service) load(ctx context.Context, id uint) (*models.Agent, error) {
	var agent models.Agent
	err := s.db.WithContext(ctx).First(&agent, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("agent")
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// Update changes an agent. Only the owner may update.
func (s *Service) Update(ctx context.Context, userID, id uint, in UpdateInput) (*models.Agent, error) {
	if err := s.sharing.RequireOwner(ctx, userID, models.ResourceAgent, id); err != nil {
		return nil, err
	}
	agent, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name, err := validateName(*in.Name)
		if err != nil {
			return nil, err
		}
		agent.Name = name
	}
	if in.Description != nil {
		agent.Description = *in.Description
	}
	if in.SystemPrompt != nil {
		if strings.TrimSpace(*in.SystemPrompt) == "" {
			return nil, apierr.Invalidf("system_prompt cannot be empty")
		}
		agent.SystemPrompt = *in.SystemPrompt
	}
	if in.Model != nil && strings.TrimSpace(*in.Model) != "" {
		agent.Model = strings.TrimSpace(*in.Model)
	}
	if in.Temperature != nil {
		if err := validateTemperature(*in.Temperature); err != nil {
			return nil, err
		}
		agent.Temperature = *in.Temperature
	}
	if in.MaxTokens != nil {
		if *in.MaxTokens <= 0 {
			return nil, apierr.Invalidf("max_tokens must be positive")
		}
		agent.MaxTokens = *in.MaxTokens
	}
	if in.Capabilities != nil {
		agent.Capabilities = *in.Capabilities
	}
	if in.IsActive != nil {
		agent.IsActive = *in.IsActive
	}

	if err := s.db.WithContext(ctx).Save(agent).Error; err != nil {
		return nil, err
	}
	s.invalidateAll(ctx)
	return agent, nil
}

// Delete soft-deletes an agent and removes it from every team
func (s *Service) Delete(ctx context.Context, userID, id uint) error {
	if err := s.sharing.RequireOwner(ctx, userID, models.ResourceAgent, id); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("agent_id = ?", id).Delete(&models.TeamMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("resource_type = ? AND resource_id = ?", models.ResourceAgent, id).
			Delete(&models.ResourceAccess{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Agent{}, id).Error
	})
	if err != nil {
		return err
	}

	s.invalidateAll(ctx)
	if s.cache != nil {
		_ = s.cache.DeletePattern(ctx, cache.ResourceAccessPattern(models.ResourceAgent, id))
	}
	return nil
}

// GetMetrics returns the rolling metrics of an agent the user can view
func (s *Service) GetMetrics(ctx context.Context, userID, id uint) (*Metrics, error) {
	agent, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		AgentID:           agent.ID,
		InteractionCount:  agent.InteractionCount,
		AvgResponseTimeMs: agent.AvgResponseTimeMs,
		SuccessCount:      agent.SuccessCount,
		FailureCount:      agent.FailureCount,
		SuccessRate:       agent.SuccessRate,
		PositiveFeedback:  agent.PositiveFeedback,
		NegativeFeedback:  agent.NegativeFeedback,
	}, nil
}

// RecordInteraction folds one interaction into the agent's rolling metrics in
// a single statement
func (s *Service) RecordInteraction(ctx context.Context, agentID uint, duration time.Duration, success bool) error {
	res := s.db.WithContext(ctx).Model(&models.Agent{}).Unscoped().Where("id = ?", agentID).
		Updates(models.InteractionUpdates(duration, success))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apierr.NotFound("agent")
	}
	return nil
}

// RecordFeedback moves the agent's feedback counters from the previous value
// of a message's feedback to the new one
func (s *Service) RecordFeedback(ctx context.Context, agentID uint, previous, next int) error {
	if previous == next {
		return nil
	}
	updates := map[string]interface{}{}
	switch previous {
	case 1:
		updates["positive_feedback"] = gorm.Expr("positive_feedback - 1")
	case -1:
		updates["negative_feedback"] = gorm.Expr("negative_feedback - 1")
	}
	switch next {
	case 1:
		updates["positive_feedback"] = gorm.Expr("positive_feedback + 1")
	case -1:
		updates["negative_feedback"] = gorm.Expr("negative_feedback + 1")
	}
	return s.db.WithContext(ctx).Model(&models.Agent{}).Unscoped().Where("id = ?", agentID).Updates(updates).Error
}

func (s *Service) invalidateLists(ctx context.Context, userID uint) {
	if s.cache != nil {
		_ = s.cache.DeletePattern(ctx, cache.UserAgentsPattern(userID))
	}
}

// invalidateAll clears every cached listing, since shared users see the agent too
func (s *Service) invalidateAll(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.DeletePattern(ctx, "agents:user:*")
	}
}
