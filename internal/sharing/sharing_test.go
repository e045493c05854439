package sharing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Winger29/FSDP-Assignment2/internal/apierr"
	"github.com/Winger29/FSDP-Assignment2/internal/testutil"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

type recordingNotifier struct {
	messages []*models.GroupMessage
}

func (r *recordingNotifier) NotifyGroupMessage(_ context.Context, msg *models.GroupMessage) {
	r.messages = append(r.messages, msg)
}

func TestShareAcceptGrantsAccess(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db, testutil.NewCache(t), nil)

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	agent := testutil.CreateAgent(t, db, alice.ID, "writer")

	perm, err := svc.Access(ctx, bob.ID, models.ResourceAgent, agent.ID)
	require.NoError(t, err)
	assert.Empty(t, perm)

	reqs, err := svc.Share(ctx, alice.ID, ShareInput{
		ResourceType: models.ResourceAgent,
		ResourceID:   agent.ID,
		Permission:   models.PermissionUse,
		ToUsername:   "bob",
	})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, models.ShareStatusPending, reqs[0].Status)

	_, err = svc.Share(ctx, alice.ID, ShareInput{
		ResourceType: models.ResourceAgent,
		ResourceID:   agent.ID,
		ToUserID:     bob.ID,
	})
	assert.ErrorIs(t, err, ErrAlreadyPending)

	accepted, err := svc.Accept(ctx, bob.ID, reqs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShareStatusAccepted, accepted.Status)

	ok, err := svc.CanAccess(ctx, bob.ID, models.ResourceAgent, agent.ID, models.PermissionView)
	require.NoError(t, err)
	assert.True(t, ok, "use implies view")

	_, err = svc.Accept(ctx, bob.ID, reqs[0].ID)
	assert.ErrorIs(t, err, ErrShareNotPending)

	shared, err := svc.SharedWithMe(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, "writer", shared[0].Name)
}

func TestRevokeRemovesAccess(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db, testutil.NewCache(t), nil)

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	agent := testutil.CreateAgent(t, db, alice.ID, "writer")

	reqs, err := svc.Share(ctx, alice.ID, ShareInput{ResourceType: models.ResourceAgent, ResourceID: agent.ID, ToUserID: bob.ID})
	require.NoError(t, err)
	_, err = svc.Accept(ctx, bob.ID, reqs[0].ID)
	require.NoError(t, err)

	require.NoError(t, svc.Require(ctx, bob.ID, models.ResourceAgent, agent.ID, models.PermissionView))
	err = svc.Require(ctx, bob.ID, models.ResourceAgent, agent.ID, models.PermissionUse)
	assert.ErrorIs(t, err, apierr.ErrForbidden)

	assert.ErrorIs(t, svc.Revoke(ctx, bob.ID, reqs[0].ID), apierr.ErrNotFound, "only the sender can revoke")
	require.NoError(t, svc.Revoke(ctx, alice.ID, reqs[0].ID))

	err = svc.Require(ctx, bob.ID, models.ResourceAgent, agent.ID, models.PermissionView)
	assert.ErrorIs(t, err, apierr.ErrNotFound, "cached decision is invalidated on revoke")
}

func TestOnlyOwnerCanShare(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db, nil, nil)

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	agent := testutil.CreateAgent(t, db, alice.ID, "writer")

	_, err := svc.Share(ctx, bob.ID, ShareInput{ResourceType: models.ResourceAgent, ResourceID: agent.ID, ToUserID: alice.ID})
	assert.ErrorIs(t, err, apierr.ErrNotFound)

	_, err = svc.Share(ctx, alice.ID, ShareInput{ResourceType: models.ResourceAgent, ResourceID: agent.ID, ToUserID: alice.ID})
	assert.ErrorIs(t, err, ErrShareWithSelf)

	_, err = svc.Share(ctx, alice.ID, ShareInput{ResourceType: "folder", ResourceID: 1, ToUserID: bob.ID})
	assert.ErrorIs(t, err, apierr.ErrInvalid)

	_, err = svc.Share(ctx, alice.ID, ShareInput{ResourceType: models.ResourceAgent, ResourceID: agent.ID, ToUserID: bob.ID, GroupID: 3})
	assert.ErrorIs(t, err, apierr.ErrInvalid)
}

func TestShareWithGroupCreatesRequestPerMember(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	notifier := &recordingNotifier{}
	svc := NewService(db, nil, notifier)

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	carol := testutil.CreateUser(t, db, "carol")
	team := testutil.CreateTeam(t, db, alice.ID, "research")

	group := &models.Group{OwnerID: alice.ID, Name: "friends"}
	require.NoError(t, db.Create(group).Error)
	for _, u := range []*models.User{alice, bob, carol} {
		require.NoError(t, db.Create(&models.GroupMember{GroupID: group.ID, UserID: u.ID, Role: models.GroupRoleMember}).Error)
	}

	reqs, err := svc.Share(ctx, alice.ID, ShareInput{
		ResourceType: models.ResourceTeam,
		ResourceID:   team.ID,
		GroupID:      group.ID,
		Note:         "check this out",
	})
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	for _, r := range reqs {
		assert.NotEqual(t, alice.ID, r.ToUserID)
		require.NotNil(t, r.GroupID)
		assert.Equal(t, group.ID, *r.GroupID)
	}

	require.Len(t, notifier.messages, 1)
	assert.Equal(t, models.GroupMessageResourceShare, notifier.messages[0].MessageType)

	var count int64
	db.Model(&models.GroupMessage{}).Where("group_id = ?", group.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestShareWithGroupStopsOnLookupError(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	notifier := &recordingNotifier{}
	svc := NewService(db, nil, notifier)

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	team := testutil.CreateTeam(t, db, alice.ID, "research")

	group := &models.Group{OwnerID: alice.ID, Name: "friends"}
	require.NoError(t, db.Create(group).Error)
	for _, u := range []*models.User{alice, bob} {
		require.NoError(t, db.Create(&models.GroupMember{GroupID: group.ID, UserID: u.ID, Role: models.GroupRoleMember}).Error)
	}

	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("fail_share_count", func(d *gorm.DB) {
		if _, ok := d.Statement.Dest.(*int64); ok && d.Statement.Table == "share_requests" {
			d.AddError(errors.New("share lookup failed"))
		}
	}))

	_, err := svc.Share(ctx, alice.ID, ShareInput{
		ResourceType: models.ResourceTeam,
		ResourceID:   team.ID,
		GroupID:      group.ID,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share lookup failed")
	assert.Empty(t, notifier.messages)

	require.NoError(t, db.Callback().Query().Remove("fail_share_count"))
	var count int64
	require.NoError(t, db.Model(&models.ShareRequest{}).Count(&count).Error)
	assert.Zero(t, count, "no request is created when the duplicate check fails")
}

func TestTaskAccessInheritedFromTeam(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db, testutil.NewCache(t), nil)

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	team := testutil.CreateTeam(t, db, alice.ID, "research")
	task := &models.CollaborativeTask{TeamID: team.ID, CreatedBy: alice.ID, Title: "t", Description: "d", Status: models.TaskPending, Version: 1}
	require.NoError(t, db.Create(task).Error)

	perm, err := svc.Access(ctx, alice.ID, models.ResourceTask, task.ID)
	require.NoError(t, err)
	assert.Equal(t, PermissionOwner, perm)

	reqs, err := svc.Share(ctx, alice.ID, ShareInput{ResourceType: models.ResourceTeam, ResourceID: team.ID, ToUserID: bob.ID, Permission: models.PermissionUse})
	require.NoError(t, err)
	_, err = svc.Accept(ctx, bob.ID, reqs[0].ID)
	require.NoError(t, err)

	perm, err = svc.Access(ctx, bob.ID, models.ResourceTask, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PermissionUse, perm)
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db, nil, nil)

	old := &models.ShareRequest{FromUserID: 1, ToUserID: 2, ResourceType: models.ResourceAgent, ResourceID: 1, Permission: models.PermissionView, Status: models.ShareStatusPending}
	fresh := &models.ShareRequest{FromUserID: 1, ToUserID: 3, ResourceType: models.ResourceAgent, ResourceID: 1, Permission: models.PermissionView, Status: models.ShareStatusPending}
	require.NoError(t, db.Create(old).Error)
	require.NoError(t, db.Create(fresh).Error)
	require.NoError(t, db.Model(old).Update("created_at", time.Now().Add(-40*24*time.Hour)).Error)

	n, err := svc.ExpireStale(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var reloaded models.ShareRequest
	require.NoError(t, db.First(&reloaded, old.ID).Error)
	assert.Equal(t, models.ShareStatusExpired, reloaded.Status)
}
