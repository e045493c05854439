// Package sharing grants other users access to agents, teams and tasks.
// A share starts as a ShareRequest; accepting it creates a ResourceAccess row.
package sharing

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Winger29/FSDP-Assignment2/internal/apierr"
	"github.com/Winger29/FSDP-Assignment2/internal/cache"
	"github.com/Winger29/FSDP-Assignment2/internal/logging"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

// PermissionOwner is returned by Access for the resource owner
const PermissionOwner = "owner"

const (
	accessCacheTTL = time.Minute
	noAccess       = "none"
)

var (
	ErrShareNotPending = apierr.New(apierr.ErrConflict, "SHARE_NOT_PENDING", "share request is no longer pending")
	ErrAlreadyPending  = apierr.New(apierr.ErrConflict, "SHARE_ALREADY_PENDING", "a share request for this resource is already pending")
	ErrShareWithSelf   = apierr.Invalidf("cannot share a resource with yourself")
)

// GroupNotifier posts group messages to connected clients
type GroupNotifier interface {
	NotifyGroupMessage(ctx context.Context, msg *models.GroupMessage)
}

// Service manages share requests and access checks
type Service struct {
	db       *gorm.DB
	cache    *cache.RedisCache
	notifier GroupNotifier
}

// NewService creates a sharing service. notifier may be nil.
func NewService(db *gorm.DB, c *cache.RedisCache, notifier GroupNotifier) *Service {
	return &Service{db: db, cache: c, notifier: notifier}
}

// SetNotifier wires the group notifier after construction
func (s *Service) SetNotifier(n GroupNotifier) {
	s.notifier = n
}

// Access returns the caller's effective permission on a resource: owner,
// use, view, or "" for none. Task access is inherited from the task's team.
func (s *Service) Access(ctx context.Context, userID uint, resourceType string, resourceID uint) (string, error) {
	key := cache.AccessKey(userID, resourceType, resourceID)
	if s.cache != nil {
		if b, err := s.cache.Get(ctx, key); err == nil {
			if perm := string(b); perm != noAccess {
				return perm, nil
			}
			return "", nil
		}
	}

	perm, err := s.resolveAccess(ctx, userID, resourceType, resourceID)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		stored := perm
		if stored == "" {
			stored = noAccess
		}
		_ = s.cache.Set(ctx, key, []byte(stored), accessCacheTTL)
	}
	return perm, nil
}

func (s *Service) resolveAccess(ctx context.Context, userID uint, resourceType string, resourceID uint) (string, error) {
	owner, err := s.ResourceOwner(ctx, resourceType, resourceID)
	if err != nil {
		return "", err
	}
	if owner == userID {
		return PermissionOwner, nil
	}

	perm, err := s.grantedPermission(ctx, userID, resourceType, resourceID)
	if err != nil {
		return "", err
	}

	if resourceType == models.ResourceTask {
		var task models.CollaborativeTask
		if err := s.db.WithContext(ctx).Select("id", "team_id", "created_by").First(&task, resourceID).Error; err != nil {
			return "", err
		}
		if task.CreatedBy == userID {
			return PermissionOwner, nil
		}
		teamPerm, err := s.Access(ctx, userID, models.ResourceTeam, task.TeamID)
		if err != nil {
			return "", err
		}
		perm = strongest(perm, teamPerm)
	}
	return perm, nil
}

func (s *Service) grantedPermission(ctx context.Context, userID uint, resourceType string, resourceID uint) (string, error) {
	var access models.ResourceAccess
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND resource_type = ? AND resource_id = ?", userID, resourceType, resourceID).
		First(&access).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return access.Permission, nil
}

func strongest(a, b string) string {
	rank := map[string]int{"": 0, models.PermissionView: 1, models.PermissionUse: 2, PermissionOwner: 3}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// CanAccess reports whether the user holds at least the required permission
func (s *Service) CanAccess(ctx context.Context, userID uint, resourceType string, resourceID uint, required string) (bool, error) {
	perm, err := s.Access(ctx, userID, resourceType, resourceID)
	if err != nil {
		return false, err
	}
	if perm == PermissionOwner {
		return true, nil
	}
	return perm != "" && models.PermissionAllows(perm, required), nil
}

// Require returns nil when the user holds the required permission. Users with
// no access at all get a not-found error so resource ids do not leak.
func (s *Service) Require(ctx context.Context, userID uint, resourceType string, resourceID uint, required string) error {
	perm, err := s.Access(ctx, userID, resourceType, resourceID)
	if err != nil {
		return err
	}
	switch {
	case perm == PermissionOwner:
		return nil
	case perm == "":
		return apierr.NotFound(resourceType)
	case !models.PermissionAllows(perm, required):
		return apierr.Forbidden("you do not have " + required + " permission on this " + resourceType)
	}
	return nil
}

// RequireOwner returns nil only for the resource owner
func (s *Service) RequireOwner(ctx context.Context, userID uint, resourceType string, resourceID uint) error {
	perm, err := s.Access(ctx, userID, resourceType, resourceID)
	if err != nil {
		return err
	}
	switch perm {
	case PermissionOwner:
		return nil
	case "":
		return apierr.NotFound(resourceType)
	default:
		return apierr.Forbidden("only the owner can do this")
	}
}

// ResourceOwner returns the owning user of a resource. A task is owned by
// the owner of its team.
func (s *Service) ResourceOwner(ctx context.Context, resourceType string, resourceID uint) (uint, error) {
	db := s.db.WithContext(ctx)
	var ownerID uint
	var err error

	switch resourceType {
	case models.ResourceAgent:
		var agent models.Agent
		err = db.Select("id", "owner_id").First(&agent, resourceID).Error
		ownerID = agent.OwnerID
	case models.ResourceTeam:
		var team models.Team
		err = db.Select("id", "owner_id").First(&team, resourceID).Error
		ownerID = team.OwnerID
	case models.ResourceTask:
		var team models.Team
		err = db.Joins("JOIN collaborative_tasks ON collaborative_tasks.team_id = teams.id").
			Where("collaborative_tasks.id = ? AND collaborative_tasks.deleted_at IS NULL", resourceID).
			Select("teams.id", "teams.owner_id").
			First(&team).Error
		ownerID = team.OwnerID
	default:
		return 0, apierr.Invalidf("unknown resource type %q", resourceType)
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apierr.NotFound(resourceType)
	}
	return ownerID, err
}

// AccessibleIDs lists resources of a type shared with the user
func (s *Service) AccessibleIDs(ctx context.Context, userID uint, resourceType string) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.ResourceAccess{}).
		Where("user_id = ? AND resource_type = ?", userID, resourceType).
		Pluck("resource_id", &ids).Error
	return ids, err
}

// ShareInput describes a new share. Exactly one of ToUserID, ToUsername or
// GroupID names the recipient.
type ShareInput struct {
	ResourceType string `json:"resource_type" binding:"required"`
	ResourceID   uint   `json:"resource_id" binding:"required"`
	Permission   string `json:"permission"`
	ToUserID     uint   `json:"to_user_id"`
	ToUsername   string `json:"to_username"`
	GroupID      uint   `json:"group_id"`
	Note         string `json:"note"`
}

// Share creates share requests. Sharing to a group creates one request per
// other member and posts a resource_share message in the group.
func (s *Service) Share(ctx context.Context, fromUserID uint, in ShareInput) ([]models.ShareRequest, error) {
	if !models.ValidResourceType(in.ResourceType) {
		return nil, apierr.Invalidf("resource_type must be agent, team or task")
	}
	if in.Permission == "" {
		in.Permission = models.PermissionView
	}
	if in.Permission != models.PermissionView && in.Permission != models.PermissionUse {
		return nil, apierr.Invalidf("permission must be view or use")
	}

	targets := 0
	for _, set := range []bool{in.ToUserID != 0, strings.TrimSpace(in.ToUsername) != "", in.GroupID != 0} {
		if set {
			targets++
		}
	}
	if targets != 1 {
		return nil, apierr.Invalidf("exactly one of to_user_id, to_username or group_id is required")
	}

	if err := s.RequireOwner(ctx, fromUserID, in.ResourceType, in.ResourceID); err != nil {
		return nil, err
	}

	if in.GroupID != 0 {
		return s.shareWithGroup(ctx, fromUserID, in)
	}

	toUserID := in.ToUserID
	if toUserID == 0 {
		var user models.User
		err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(in.ToUsername)).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound("user")
		}
		if err != nil {
			return nil, err
		}
		toUserID = user.ID
	} else if err := s.db.WithContext(ctx).First(&models.User{}, toUserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound("user")
		}
		return nil, err
	}
	if toUserID == fromUserID {
		return nil, ErrShareWithSelf
	}

	pending, err := s.hasPending(ctx, toUserID, in.ResourceType, in.ResourceID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrAlreadyPending
	}

	req := models.ShareRequest{
		FromUserID:   fromUserID,
		ToUserID:     toUserID,
		ResourceType: in.ResourceType,
		ResourceID:   in.ResourceID,
		Permission:   in.Permission,
		Status:       models.ShareStatusPending,
		Note:         in.Note,
	}
	if err := s.db.WithContext(ctx).Create(&req).Error; err != nil {
		return nil, err
	}
	return []models.ShareRequest{req}, nil
}

func (s *Service) shareWithGroup(ctx context.Context, fromUserID uint, in ShareInput) ([]models.ShareRequest, error) {
	var members []models.GroupMember
	if err := s.db.WithContext(ctx).Where("group_id = ?", in.GroupID).Find(&members).Error; err != nil {
		return nil, err
	}

	isMember := false
	for _, m := range members {
		if m.UserID == fromUserID {
			isMember = true
			break
		}
	}
	if !isMember {
		return nil, apierr.NotFound("group")
	}

	groupID := in.GroupID
	var created []models.ShareRequest
	var msg models.GroupMessage

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range members {
			if m.UserID == fromUserID {
				continue
			}
			var count int64
			if err := tx.Model(&models.ShareRequest{}).
				Where("to_user_id = ? AND resource_type = ? AND resource_id = ? AND status = ?",
					m.UserID, in.ResourceType, in.ResourceID, models.ShareStatusPending).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			req := models.ShareRequest{
				FromUserID:   fromUserID,
				ToUserID:     m.UserID,
				GroupID:      &groupID,
				ResourceType: in.ResourceType,
				ResourceID:   in.ResourceID,
				Permission:   in.Permission,
				Status:       models.ShareStatusPending,
				Note:         in.Note,
			}
			if err := tx.Create(&req).Error; err != nil {
				return err
			}
			created = append(created, req)
		}

		content := in.Note
		if content == "" {
			content = "shared a " + in.ResourceType
		}
		msg = models.GroupMessage{
			GroupID:      groupID,
			SenderID:     fromUserID,
			Content:      content,
			MessageType:  models.GroupMessageResourceShare,
			ResourceType: in.ResourceType,
			ResourceID:   in.ResourceID,
		}
		if len(created) > 0 {
			msg.ShareRequestID = &created[0].ID
		}
		return tx.Create(&msg).Error
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.NotifyGroupMessage(ctx, &msg)
	}
	return created, nil
}

func (s *Service) hasPending(ctx context.Context, toUserID uint, resourceType string, resourceID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ShareRequest{}).
		Where("to_user_id = ? AND resource_type = ? AND resource_id = ? AND status = ?",
			toUserID, resourceType, resourceID, models.ShareStatusPending).
		Count(&count).Error
	return count > 0, err
}

func (s *Service) loadRequest(ctx context.Context, id uint) (*models.ShareRequest, error) {
	var req models.ShareRequest
	err := s.db.WithContext(ctx).First(&req, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("share request")
	}
	return &req, err
}

// Accept grants the recipient access. An existing grant is upgraded, never
// downgraded.
func (s *Service) Accept(ctx context.Context, userID, shareID uint) (*models.ShareRequest, error) {
	req, err := s.loadRequest(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if req.ToUserID != userID {
		return nil, apierr.NotFound("share request")
	}
	if req.Status != models.ShareStatusPending {
		return nil, ErrShareNotPending
	}

	now := time.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ShareRequest{}).
			Where("id = ? AND status = ?", req.ID, models.ShareStatusPending).
			Updates(map[string]interface{}{"status": models.ShareStatusAccepted, "responded_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrShareNotPending
		}

		var existing models.ResourceAccess
		err := tx.Where("user_id = ? AND resource_type = ? AND resource_id = ?", userID, req.ResourceType, req.ResourceID).
			First(&existing).Error
		if err == nil {
			if strongest(existing.Permission, req.Permission) == existing.Permission {
				return nil
			}
			return tx.Model(&existing).Updates(map[string]interface{}{
				"permission":       req.Permission,
				"granted_by":       req.FromUserID,
				"share_request_id": req.ID,
			}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		shareID := req.ID
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ResourceAccess{
			UserID:         userID,
			ResourceType:   req.ResourceType,
			ResourceID:     req.ResourceID,
			Permission:     req.Permission,
			GrantedBy:      req.FromUserID,
			ShareRequestID: &shareID,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID, req.ResourceType, req.ResourceID)
	req.Status = models.ShareStatusAccepted
	req.RespondedAt = &now
	return req, nil
}

// Reject declines a pending request
func (s *Service) Reject(ctx context.Context, userID, shareID uint) (*models.ShareRequest, error) {
	req, err := s.loadRequest(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if req.ToUserID != userID {
		return nil, apierr.NotFound("share request")
	}

	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.ShareRequest{}).
		Where("id = ? AND status = ?", req.ID, models.ShareStatusPending).
		Updates(map[string]interface{}{"status": models.ShareStatusRejected, "responded_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrShareNotPending
	}

	req.Status = models.ShareStatusRejected
	req.RespondedAt = &now
	return req, nil
}

// Revoke withdraws a pending or accepted share and removes the access it
// granted. A revoked agent also leaves the recipient's teams.
func (s *Service) Revoke(ctx context.Context, userID, shareID uint) error {
	req, err := s.loadRequest(ctx, shareID)
	if err != nil {
		return err
	}
	if req.FromUserID != userID {
		return apierr.NotFound("share request")
	}
	if req.Status != models.ShareStatusPending && req.Status != models.ShareStatusAccepted {
		return ErrShareNotPending
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ShareRequest{}).Where("id = ?", req.ID).
			Update("status", models.ShareStatusRevoked).Error; err != nil {
			return err
		}
		if err := tx.Where("share_request_id = ?", req.ID).Delete(&models.ResourceAccess{}).Error; err != nil {
			return err
		}
		if req.ResourceType == models.ResourceAgent && req.Status == models.ShareStatusAccepted {
			return dropRevokedAgent(tx, req.ToUserID, req.ResourceID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, req.ToUserID, req.ResourceType, req.ResourceID)
	return nil
}

// dropRevokedAgent removes an agent from the user's teams once the user no
// longer holds use permission on it
func dropRevokedAgent(tx *gorm.DB, userID, agentID uint) error {
	var remaining int64
	if err := tx.Model(&models.ResourceAccess{}).
		Where("user_id = ? AND resource_type = ? AND resource_id = ? AND permission = ?",
			userID, models.ResourceAgent, agentID, models.PermissionUse).
		Count(&remaining).Error; err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	owned := tx.Unscoped().Model(&models.Team{}).Select("id").Where("owner_id = ?", userID)
	return tx.Where("agent_id = ? AND team_id IN (?)", agentID, owned).Delete(&models.TeamMember{}).Error
}

// invalidate drops cached decisions for the resource and, for tasks inherited
// through a team, everything under that team
func (s *Service) invalidate(ctx context.Context, userID uint, resourceType string, resourceID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeletePattern(ctx, cache.ResourceAccessPattern(resourceType, resourceID)); err != nil {
		logging.L().Warn("Failed to invalidate access cache", zap.Error(err))
	}
	if resourceType == models.ResourceTeam {
		_ = s.cache.DeletePattern(ctx, "access:task:*")
	}
	_ = s.cache.DeletePattern(ctx, cache.UserAgentsPattern(userID))
}

// Incoming lists requests sent to the user, optionally filtered by status
func (s *Service) Incoming(ctx context.Context, userID uint, status string) ([]models.ShareRequest, error) {
	q := s.db.WithContext(ctx).Preload("FromUser").Where("to_user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var reqs []models.ShareRequest
	err := q.Order("created_at DESC").Find(&reqs).Error
	return reqs, err
}

// Outgoing lists requests the user sent
func (s *Service) Outgoing(ctx context.Context, userID uint, status string) ([]models.ShareRequest, error) {
	q := s.db.WithContext(ctx).Where("from_user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var reqs []models.ShareRequest
	err := q.Order("created_at DESC").Find(&reqs).Error
	return reqs, err
}

// SharedResource is one entry of the "shared with me" listing
type SharedResource struct {
	ResourceType string    `json:"resource_type"`
	ResourceID   uint      `json:"resource_id"`
	Name         string    `json:"name"`
	Permission   string    `json:"permission"`
	GrantedBy    uint      `json:"granted_by"`
	GrantedAt    time.Time `json:"granted_at"`
}

// SharedWithMe lists every resource the user has been granted
func (s *Service) SharedWithMe(ctx context.Context, userID uint) ([]SharedResource, error) {
	var grants []models.ResourceAccess
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&grants).Error; err != nil {
		return nil, err
	}

	out := make([]SharedResource, 0, len(grants))
	for _, g := range grants {
		name, err := s.resourceName(ctx, g.ResourceType, g.ResourceID)
		if err != nil {
			continue
		}
		out = append(out, SharedResource{
			ResourceType: g.ResourceType,
			ResourceID:   g.ResourceID,
			Name:         name,
			Permission:   g.Permission,
			GrantedBy:    g.GrantedBy,
			GrantedAt:    g.CreatedAt,
		})
	}
	return out, nil
}

func (s *Service) resourceName(ctx context.Context, resourceType string, id uint) (string, error) {
	db := s.db.WithContext(ctx)
	switch resourceType {
	case models.ResourceAgent:
		var a models.Agent
		err := db.Select("id", "name").First(&a, id).Error
		return a.Name, err
	case models.ResourceTeam:
		var t models.Team
		err := db.Select("id", "name").First(&t, id).Error
		return t.Name, err
	default:
		var t models.CollaborativeTask
		err := db.Select("id", "title").First(&t, id).Error
		return t.Title, err
	}
}

// ExpireStale marks pending requests older than maxAge as expired
func (s *Service) ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.ShareRequest{}).
		Where("status = ? AND created_at < ?", models.ShareStatusPending, time.Now().Add(-maxAge)).
		Update("status", models.ShareStatusExpired)
	return res.RowsAffected, res.Error
}
