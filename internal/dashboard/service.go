// Package dashboard summarises a user's workspace.
package dashboard

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Winger29/FSDP-Assignment2/internal/cache"
	"github.com/Winger29/FSDP-Assignment2/internal/logging"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

const (
	topAgentLimit = 5
	summaryTTL    = 15 * time.Second
)

// TopAgent is a short view of a busy agent
type TopAgent struct {
	ID                uint    `json:"id"`
	Name              string  `json:"name"`
	Model             string  `json:"model"`
	InteractionCount  int64   `json:"interaction_count"`
	SuccessRate       float64 `json:"success_rate"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

// Summary is the dashboard payload
type Summary struct {
	Agents        int64                       `json:"agents"`
	SharedWithMe  int64                       `json:"shared_with_me"`
	Conversations int64                       `json:"conversations"`
	Teams         int64                       `json:"teams"`
	ArchivedTeams int64                       `json:"archived_teams"`
	Tasks         map[models.TaskStatus]int64 `json:"tasks"`
	Groups        int64                       `json:"groups"`
	PendingShares int64                       `json:"pending_shares"`
	TopAgents     []TopAgent                  `json:"top_agents"`
}

// Service builds dashboard summaries
type Service struct {
	db    *gorm.DB
	cache *cache.RedisCache
}

// NewService creates a dashboard service. The cache may be nil.
func NewService(db *gorm.DB, c *cache.RedisCache) *Service {
	return &Service{db: db, cache: c}
}

// Summary returns counts across the user's resources
func (s *Service) Summary(ctx context.Context, userID uint) (*Summary, error) {
	key := cache.DashboardKey(userID)
	if s.cache != nil {
		var cached Summary
		if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	db := s.db.WithContext(ctx)
	out := &Summary{
		Tasks: map[models.TaskStatus]int64{
			models.TaskPending:    0,
			models.TaskInProgress: 0,
			models.TaskCompleted:  0,
		},
		TopAgents: []TopAgent{},
	}

	counts := []struct {
		dest  *int64
		model interface{}
		where string
		args  []interface{}
	}{
		{&out.Agents, &models.Agent{}, "owner_id = ?", []interface{}{userID}},
		{&out.SharedWithMe, &models.ResourceAccess{}, "user_id = ?", []interface{}{userID}},
		{&out.Conversations, &models.Conversation{}, "user_id = ?", []interface{}{userID}},
		{&out.Teams, &models.Team{}, "owner_id = ? AND is_archived = ?", []interface{}{userID, false}},
		{&out.ArchivedTeams, &models.Team{}, "owner_id = ? AND is_archived = ?", []interface{}{userID, true}},
		{&out.Groups, &models.GroupMember{}, "user_id = ?", []interface{}{userID}},
		{&out.PendingShares, &models.ShareRequest{}, "to_user_id = ? AND status = ?", []interface{}{userID, models.ShareStatusPending}},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Where(c.where, c.args...).Count(c.dest).Error; err != nil {
			return nil, err
		}
	}

	var byStatus []struct {
		Status models.TaskStatus
		Count  int64
	}
	err := db.Model(&models.CollaborativeTask{}).
		Select("collaborative_tasks.status AS status, COUNT(*) AS count").
		Joins("JOIN teams ON teams.id = collaborative_tasks.team_id").
		Where("teams.owner_id = ? OR collaborative_tasks.created_by = ?", userID, userID).
		Group("collaborative_tasks.status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		out.Tasks[row.Status] = row.Count
	}

	var top []models.Agent
	err = db.Where("owner_id = ?", userID).
		Order("interaction_count DESC, id ASC").
		Limit(topAgentLimit).
		Find(&top).Error
	if err != nil {
		return nil, err
	}
	for _, a := range top {
		out.TopAgents = append(out.TopAgents, TopAgent{
			ID:                a.ID,
			Name:              a.Name,
			Model:             a.Model,
			InteractionCount:  a.InteractionCount,
			SuccessRate:       a.SuccessRate,
			AvgResponseTimeMs: a.AvgResponseTimeMs,
		})
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, out, summaryTTL); err != nil {
			logging.L().Debug("Failed to cache dashboard", zap.Error(err))
		}
	}
	return out, nil
}
