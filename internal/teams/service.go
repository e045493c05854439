// Package teams manages teams of agents. Deleting a team archives it; an
// archived team keeps its history but accepts no new tasks or member changes.
package teams

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/Winger29/FSDP-Assignment2/internal/apierr"
	"github.com/Winger29/FSDP-Assignment2/internal/sharing"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

var (
	ErrTeamArchived   = apierr.New(apierr.ErrConflict, "TEAM_ARCHIVED", "team is archived")
	ErrDuplicateAgent = apierr.New(apierr.ErrConflict, "DUPLICATE_MEMBER", "agent is already on this team")
)

// memberOrder puts the primary member first, then by position
const memberOrder = "is_primary DESC, position ASC, id ASC"

// AgentResolver returns an agent the user is allowed to use
type AgentResolver interface {
	GetForUse(ctx context.Context, userID, agentID uint) (*models.Agent, error)
}

// Service implements team and membership management
type Service struct {
	db      *gorm.DB
	sharing *sharing.Service
	agents  AgentResolver
}

// NewService creates a team service
func NewService(db *gorm.DB, sh *sharing.Service, agents AgentResolver) *Service {
	return &Service{db: db, sharing: sh, agents: agents}
}

// Input is the payload for creating or updating a team
type Input struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Members     []MemberInput `json:"members,omitempty"`
}

// MemberInput adds an agent to a team
type MemberInput struct {
	AgentID   uint   `json:"agent_id" binding:"required"`
	Role      string `json:"role"`
	IsPrimary bool   `json:"is_primary"`
}

// MemberUpdate changes only the fields that are set
type MemberUpdate struct {
	Role      *string `json:"role"`
	IsPrimary *bool   `json:"is_primary"`
	Position  *int    `json:"position"`
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > 100 {
		return "", apierr.Invalidf("name must be between 1 and 100 characters")
	}
	return name, nil
}

// Create stores a team and any initial members
func (s *Service) Create(ctx context.Context, ownerID uint, in Input) (*models.Team, error) {
	name, err := validateName(in.Name)
	if err != nil {
		return nil, err
	}

	agents := make([]*models.Agent, 0, len(in.Members))
	seen := map[uint]bool{}
	for _, m := range in.Members {
		if seen[m.AgentID] {
			return nil, ErrDuplicateAgent
		}
		seen[m.AgentID] = true
		agent, err := s.agents.GetForUse(ctx, ownerID, m.AgentID)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}

	team := &models.Team{OwnerID: ownerID, Name: name, Description: in.Description}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(team).Error; err != nil {
			return err
		}
		primary := primaryIndex(in.Members)
		for i, m := range in.Members {
			member := &models.TeamMember{
				TeamID:    team.ID,
				AgentID:   m.AgentID,
				Role:      roleOrDefault(m.Role, agents[i]),
				IsPrimary: i == primary,
				Position:  i,
			}
			if err := tx.Create(member).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, team.ID)
}

// primaryIndex picks the first member flagged primary, or the first member
func primaryIndex(members []MemberInput) int {
	for i, m := range members {
		if m.IsPrimary {
			return i
		}
	}
	return 0
}

func roleOrDefault(role string, agent *models.Agent) string {
	if r := strings.TrimSpace(role); r != "" {
		return r
	}
	return agent.Name
}

// List returns teams owned by or shared with the user. Archived teams are
// included only when asked for.
func (s *Service) List(ctx context.Context, userID uint, includeArchived bool) ([]models.Team, error) {
	ids, err := s.sharing.AccessibleIDs(ctx, userID, models.ResourceTeam)
	if err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Preload("Members", func(db *gorm.DB) *gorm.DB {
		return db.Order(memberOrder)
	}).Preload("Members.Agent")
	if len(ids) > 0 {
		q = q.Where("owner_id = ? OR id IN ?", userID, ids)
	} else {
		q = q.Where("owner_id = ?", userID)
	}
	if !includeArchived {
		q = q.Where("is_archived = ?", false)
	}

	teams := []models.Team{}
	err = q.Order("created_at DESC").Find(&teams).Error
	return teams, err
}

// Get returns a team the user can view, with members in execution order
func (s *Service) Get(ctx context.Context, userID, id uint) (*models.Team, error) {
	if err := s.sharing.Require(ctx, userID, models.ResourceTeam, id, models.PermissionView); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// GetActive returns a non-archived team the user holds perm on
func (s *Service) GetActive(ctx context.Context, userID, id uint, perm string) (*models.Team, error) {
	if err := s.sharing.Require(ctx, userID, models.ResourceTeam, id, perm); err != nil {
		return nil, err
	}
	team, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if team.IsArchived {
		return nil, ErrTeamArchived
	}
	return team, nil
}

func (s *Service) load(ctx context.Context, id uint) (*models.Team, error) {
	var team models.Team
	err := s.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order(memberOrder) }).
		Preload("Members.Agent").
		First(&team, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("team")
	}
	if err != nil {
		return nil, err
	}
	return &team, nil
}

// OrderedMembers returns a team's runnable members primary-first with agents
// loaded. Only active agents the team owner may still use are included.
func (s *Service) OrderedMembers(ctx context.Context, teamID uint) ([]models.TeamMember, error) {
	db := s.db.WithContext(ctx)

	var team models.Team
	err := db.Unscoped().Select("id", "owner_id").First(&team, teamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("team")
	}
	if err != nil {
		return nil, err
	}

	members := []models.TeamMember{}
	if err := db.Preload("Agent").
		Where("team_id = ?", teamID).
		Order(memberOrder).
		Find(&members).Error; err != nil {
		return nil, err
	}

	runnable := members[:0]
	for _, m := range members {
		if m.Agent == nil || !m.Agent.IsActive {
			continue
		}
		if m.Agent.OwnerID != team.OwnerID {
			ok, err := s.sharing.CanAccess(ctx, team.OwnerID, models.ResourceAgent, m.AgentID, models.PermissionUse)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		runnable = append(runnable, m)
	}
	return runnable, nil
}

// Update renames a team. Owner only.
func (s *Service) Update(ctx context.Context, userID, id uint, in Input) (*models.Team, error) {
	if err := s.sharing.RequireOwner(ctx, userID, models.ResourceTeam, id); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{"description": in.Description}
	if strings.TrimSpace(in.Name) != "" {
		name, err := validateName(in.Name)
		if err != nil {
			return nil, err
		}
		updates["name"] = name
	}
	if err := s.db.WithContext(ctx).Model(&models.Team{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// Archive marks a team archived. Teams are never hard-deleted.
func (s *Service) Archive(ctx context.Context, userID, id uint) (*models.Team, error) {
	if err := s.sharing.RequireOwner(ctx, userID, models.ResourceTeam, id); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&models.Team{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_archived": true,
		"archived_at": &now,
	}).Error
	if err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// Restore unarchives a team
func (s *Service) Restore(ctx context.Context, userID, id uint) (*models.Team, error) {
	if err := s.sharing.RequireOwner(ctx, userID, models.ResourceTeam, id); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Model(&models.Team{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_archived": false,
		"archived_at": nil,
	}).Error
	if err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

func (s *Service) requireEditable(ctx context.Context, userID, teamID uint) (*models.Team, error) {
	if err := s.sharing.RequireOwner(ctx, userID, models.ResourceTeam, teamID); err != nil {
		return nil, err
	}
	team, err := s.load(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if team.IsArchived {
		return nil, ErrTeamArchived
	}
	return team, nil
}

// AddMember puts an agent on a team. The first member becomes primary.
func (s *Service) AddMember(ctx context.Context, userID, teamID uint, in MemberInput) (*models.TeamMember, error) {
	team, err := s.requireEditable(ctx, userID, teamID)
	if err != nil {
		return nil, err
	}
	agent, err := s.agents.GetForUse(ctx, userID, in.AgentID)
	if err != nil {
		return nil, err
	}

	position := 0
	for _, m := range team.Members {
		if m.AgentID == agent.ID {
			return nil, ErrDuplicateAgent
		}
		if m.Position >= position {
			position = m.Position + 1
		}
	}

	member := &models.TeamMember{
		TeamID:    teamID,
		AgentID:   agent.ID,
		Role:      roleOrDefault(in.Role, agent),
		IsPrimary: in.IsPrimary || len(team.Members) == 0,
		Position:  position,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if member.IsPrimary {
			if err := clearPrimary(tx, teamID); err != nil {
				return err
			}
		}
		return tx.Create(member).Error
	})
	if err != nil {
		return nil, err
	}
	member.Agent = agent
	return member, nil
}

func clearPrimary(tx *gorm.DB, teamID uint) error {
	return tx.Model(&models.TeamMember{}).
		Where("team_id = ? AND is_primary = ?", teamID, true).
		Update("is_primary", false).Error
}

func (s *Service) findMember(team *models.Team, memberID uint) (*models.TeamMember, error) {
	for i := range team.Members {
		if team.Members[i].ID == memberID {
			return &team.Members[i], nil
		}
	}
	return nil, apierr.NotFound("team member")
}

// UpdateMember changes a member's role, position or primary flag
func (s *Service) UpdateMember(ctx context.Context, userID, teamID, memberID uint, in MemberUpdate) (*models.TeamMember, error) {
	team, err := s.requireEditable(ctx, userID, teamID)
	if err != nil {
		return nil, err
	}
	member, err := s.findMember(team, memberID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.Role != nil {
		role := strings.TrimSpace(*in.Role)
		if role == "" {
			return nil, apierr.Invalidf("role cannot be empty")
		}
		updates["role"] = role
		member.Role = role
	}
	if in.Position != nil {
		if *in.Position < 0 {
			return nil, apierr.Invalidf("position must not be negative")
		}
		updates["position"] = *in.Position
		member.Position = *in.Position
	}
	if in.IsPrimary != nil {
		updates["is_primary"] = *in.IsPrimary
		member.IsPrimary = *in.IsPrimary
	}
	if len(updates) == 0 {
		return member, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.IsPrimary != nil && *in.IsPrimary {
			if err := clearPrimary(tx, teamID); err != nil {
				return err
			}
		}
		return tx.Model(&models.TeamMember{}).Where("id = ?", memberID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// RemoveMember takes an agent off a team. Removing the primary promotes the
// next member in order.
func (s *Service) RemoveMember(ctx context.Context, userID, teamID, memberID uint) error {
	team, err := s.requireEditable(ctx, userID, teamID)
	if err != nil {
		return err
	}
	member, err := s.findMember(team, memberID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.TeamMember{}, memberID).Error; err != nil {
			return err
		}
		if !member.IsPrimary {
			return nil
		}
		for _, m := range team.Members {
			if m.ID != memberID {
				return tx.Model(&models.TeamMember{}).Where("id = ?", m.ID).Update("is_primary", true).Error
			}
		}
		return nil
	})
}
