// Package groups implements user chat groups. New messages are pushed to
// connected members through the realtime hub.
package groups

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Winger29/FSDP-Assignment2/internal/apierr"
	"github.com/Winger29/FSDP-Assignment2/internal/logging"
	"github.com/Winger29/FSDP-Assignment2/internal/realtime"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

const (
	defaultPageSize  = 50
	maxPageSize      = 200
	maxMessageLength = 4000
)

var ErrAlreadyMember = apierr.New(apierr.ErrConflict, "ALREADY_MEMBER", "user is already a member of this group")

// Publisher delivers realtime events
type Publisher interface {
	Publish(ctx context.Context, env realtime.Envelope) error
}

// Service manages groups, membership and group messages
type Service struct {
	db        *gorm.DB
	publisher Publisher
}

// NewService creates a group service. publisher may be nil.
func NewService(db *gorm.DB, publisher Publisher) *Service {
	return &Service{db: db, publisher: publisher}
}

// Input is the payload for creating or updating a group
type Input struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Create makes a group with the creator as owner
func (s *Service) Create(ctx context.Context, ownerID uint, in Input) (*models.Group, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len([]rune(name)) > 100 {
		return nil, apierr.Invalidf("name must be between 1 and 100 characters")
	}

	group := &models.Group{OwnerID: ownerID, Name: name, Description: in.Description}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return err
		}
		owner := models.GroupMember{GroupID: group.ID, UserID: ownerID, Role: models.GroupRoleOwner}
		if err := tx.Create(&owner).Error; err != nil {
			return err
		}
		group.Members = []models.GroupMember{owner}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// List returns the groups the user belongs to
func (s *Service) List(ctx context.Context, userID uint) ([]models.Group, error) {
	groups := []models.Group{}
	err := s.db.WithContext(ctx).
		Joins(`JOIN group_members ON group_members.group_id = "groups".id`).
		Where("group_members.user_id = ?", userID).
		Order(`"groups".created_at DESC`).
		Find(&groups).Error
	return groups, err
}

func (s *Service) membership(ctx context.Context, groupID, userID uint) (*models.GroupMember, error) {
	var m models.GroupMember
	err := s.db.WithContext(ctx).
		Joins(`JOIN "groups" ON "groups".id = group_members.group_id AND "groups".deleted_at IS NULL`).
		Where("group_members.group_id = ? AND group_members.user_id = ?", groupID, userID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("group")
	}
	return &m, err
}

// IsMember reports whether the user belongs to the group
func (s *Service) IsMember(ctx context.Context, groupID, userID uint) (bool, error) {
	_, err := s.membership(ctx, groupID, userID)
	if errors.Is(err, apierr.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Get returns a group with its members. Non-members get not found.
func (s *Service) Get(ctx context.Context, userID, groupID uint) (*models.Group, error) {
	if _, err := s.membership(ctx, groupID, userID); err != nil {
		return nil, err
	}
	var group models.Group
	err := s.db.WithContext(ctx).
		Preload("Members").
		Preload("Members.User").
		First(&group, groupID).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *Service) requireRole(ctx context.Context, groupID, userID uint, roles ...string) (*models.GroupMember, error) {
	m, err := s.membership(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		if m.Role == r {
			return m, nil
		}
	}
	return nil, apierr.Forbidden("insufficient group role")
}

// Update renames a group. Owner only.
func (s *Service) Update(ctx context.Context, userID, groupID uint, in Input) (*models.Group, error) {
	if _, err := s.requireRole(ctx, groupID, userID, models.GroupRoleOwner); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{"description": in.Description}
	if name := strings.TrimSpace(in.Name); name != "" {
		if len([]rune(name)) > 100 {
			return nil, apierr.Invalidf("name must be between 1 and 100 characters")
		}
		updates["name"] = name
	}
	if err := s.db.WithContext(ctx).Model(&models.Group{}).Where("id = ?", groupID).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.Get(ctx, userID, groupID)
}

// Delete soft-deletes a group. Owner only.
func (s *Service) Delete(ctx context.Context, userID, groupID uint) error {
	if _, err := s.requireRole(ctx, groupID, userID, models.GroupRoleOwner); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(&models.Group{}, groupID).Error
}

// AddMemberInput names the user to add by id or username
type AddMemberInput struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// AddMember adds a user. Owners and admins only; only the owner can add admins.
func (s *Service) AddMember(ctx context.Context, actorID, groupID uint, in AddMemberInput) (*models.GroupMember, error) {
	actor, err := s.requireRole(ctx, groupID, actorID, models.GroupRoleOwner, models.GroupRoleAdmin)
	if err != nil {
		return nil, err
	}

	role := in.Role
	switch role {
	case "":
		role = models.GroupRoleMember
	case models.GroupRoleMember:
	case models.GroupRoleAdmin:
		if actor.Role != models.GroupRoleOwner {
			return nil, apierr.Forbidden("only the owner can add admins")
		}
	default:
		return nil, apierr.Invalidf("role must be member or admin")
	}

	var user models.User
	q := s.db.WithContext(ctx)
	switch {
	case in.UserID != 0:
		err = q.First(&user, in.UserID).Error
	case strings.TrimSpace(in.Username) != "":
		err = q.Where("username = ?", strings.TrimSpace(in.Username)).First(&user).Error
	default:
		return nil, apierr.Invalidf("user_id or username is required")
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("user")
	}
	if err != nil {
		return nil, err
	}

	var count int64
	s.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, user.ID).Count(&count)
	if count > 0 {
		return nil, ErrAlreadyMember
	}

	member := &models.GroupMember{GroupID: groupID, UserID: user.ID, Role: role}
	if err := s.db.WithContext(ctx).Create(member).Error; err != nil {
		return nil, err
	}
	member.User = &user
	s.publish(ctx, realtime.Envelope{
		Type:     realtime.EventUserJoined,
		Room:     realtime.GroupTopic(groupID),
		UserID:   user.ID,
		Username: user.Username,
	})
	return member, nil
}

// RemoveMember removes a user. Members may remove themselves; owners and
// admins may remove others. The owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, actorID, groupID, userID uint) error {
	target, err := s.membership(ctx, groupID, userID)
	if err != nil {
		return apierr.NotFound("group member")
	}
	if target.Role == models.GroupRoleOwner {
		return apierr.Invalidf("the group owner cannot be removed")
	}
	if actorID != userID {
		actor, err := s.requireRole(ctx, groupID, actorID, models.GroupRoleOwner, models.GroupRoleAdmin)
		if err != nil {
			return err
		}
		if actor.Role == models.GroupRoleAdmin && target.Role == models.GroupRoleAdmin {
			return apierr.Forbidden("admins cannot remove other admins")
		}
	}
	return s.db.WithContext(ctx).Delete(&models.GroupMember{}, target.ID).Error
}

// ListMessages returns a page of messages in chronological order. before is
// a message id cursor; 0 means the latest page.
func (s *Service) ListMessages(ctx context.Context, userID, groupID, before uint, limit int) ([]models.GroupMessage, error) {
	if _, err := s.membership(ctx, groupID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	q := s.db.WithContext(ctx).Preload("Sender").Where("group_id = ?", groupID)
	if before > 0 {
		q = q.Where("id < ?", before)
	}
	msgs := []models.GroupMessage{}
	if err := q.Order("id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// PostMessage stores a text message and pushes it to connected members
func (s *Service) PostMessage(ctx context.Context, userID, groupID uint, content string) (*models.GroupMessage, error) {
	if _, err := s.membership(ctx, groupID, userID); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apierr.Invalidf("content is required")
	}
	if len([]rune(content)) > maxMessageLength {
		return nil, apierr.Invalidf("content must be at most %d characters", maxMessageLength)
	}

	msg := &models.GroupMessage{
		GroupID:     groupID,
		SenderID:    userID,
		Content:     content,
		MessageType: models.GroupMessageText,
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, err
	}
	var sender models.User
	if err := s.db.WithContext(ctx).First(&sender, userID).Error; err == nil {
		msg.Sender = &sender
	}

	s.NotifyGroupMessage(ctx, msg)
	return msg, nil
}

// NotifyGroupMessage pushes a stored message to the group's room
func (s *Service) NotifyGroupMessage(ctx context.Context, msg *models.GroupMessage) {
	env := realtime.Envelope{
		Type:   realtime.EventMessage,
		Room:   realtime.GroupTopic(msg.GroupID),
		UserID: msg.SenderID,
		Data:   msg,
	}
	if msg.Sender != nil {
		env.Username = msg.Sender.Username
	}
	s.publish(ctx, env)
}

func (s *Service) publish(ctx context.Context, env realtime.Envelope) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		logging.L().Warn("Failed to publish group event", zap.String("room", env.Room), zap.Error(err))
	}
}
