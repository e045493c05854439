package teams

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Winger29/FSDP-Assignment2/internal/agents"
	"github.com/Winger29/FSDP-Assignment2/internal/apierr"
	"github.com/Winger29/FSDP-Assignment2/internal/sharing"
	"github.com/Winger29/FSDP-Assignment2/internal/testutil"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

func newService(t *testing.T) (*Service, *gorm.DB, *sharing.Service) {
	t.Helper()
	db := testutil.NewDB(t)
	c := testutil.NewCache(t)
	sh := sharing.NewService(db, c, nil)
	return NewService(db, sh, agents.NewService(db, c, sh, "gpt-4o")), db, sh
}

func TestDeleteArchivesTeam(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := newService(t)
	alice := testutil.CreateUser(t, db, "alice")
	writer := testutil.CreateAgent(t, db, alice.ID, "writer")

	team, err := svc.Create(ctx, alice.ID, Input{Name: "docs", Members: []MemberInput{{AgentID: writer.ID}}})
	require.NoError(t, err)

	archived, err := svc.Archive(ctx, alice.ID, team.ID)
	require.NoError(t, err)
	assert.True(t, archived.IsArchived)
	require.NotNil(t, archived.ArchivedAt)

	var count int64
	require.NoError(t, db.Unscoped().Model(&models.Team{}).Where("id = ?", team.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count, "row must survive")

	var row models.Team
	require.NoError(t, db.Unscoped().First(&row, team.ID).Error)
	assert.False(t, row.DeletedAt.Valid)

	list, err := svc.List(ctx, alice.ID, false)
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = svc.List(ctx, alice.ID, true)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	other := testutil.CreateAgent(t, db, alice.ID, "editor")
	_, err = svc.AddMember(ctx, alice.ID, team.ID, MemberInput{AgentID: other.ID})
	assert.ErrorIs(t, err, ErrTeamArchived)
	_, err = svc.GetActive(ctx, alice.ID, team.ID, models.PermissionUse)
	assert.ErrorIs(t, err, ErrTeamArchived)

	restored, err := svc.Restore(ctx, alice.ID, team.ID)
	require.NoError(t, err)
	assert.False(t, restored.IsArchived)
	assert.Nil(t, restored.ArchivedAt)
}

func TestSinglePrimaryMember(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := newService(t)
	alice := testutil.CreateUser(t, db, "alice")
	a1 := testutil.CreateAgent(t, db, alice.ID, "researcher")
	a2 := testutil.CreateAgent(t, db, alice.ID, "writer")
	a3 := testutil.CreateAgent(t, db, alice.ID, "critic")

	team, err := svc.Create(ctx, alice.ID, Input{Name: "squad"})
	require.NoError(t, err)

	m1, err := svc.AddMember(ctx, alice.ID, team.ID, MemberInput{AgentID: a1.ID})
	require.NoError(t, err)
	assert.True(t, m1.IsPrimary, "first member is primary")
	assert.Equal(t, "researcher", m1.Role)

	_, err = svc.AddMember(ctx, alice.ID, team.ID, MemberInput{AgentID: a1.ID})
	assert.ErrorIs(t, err, ErrDuplicateAgent)

	m2, err := svc.AddMember(ctx, alice.ID, team.ID, MemberInput{AgentID: a2.ID, Role: "drafts"})
	require.NoError(t, err)
	assert.False(t, m2.IsPrimary)

	m3, err := svc.AddMember(ctx, alice.ID, team.ID, MemberInput{AgentID: a3.ID, IsPrimary: true})
	require.NoError(t, err)
	assert.True(t, m3.IsPrimary)

	members, err := svc.OrderedMembers(ctx, team.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, a3.ID, members[0].AgentID)
	assert.Equal(t, a1.ID, members[1].AgentID)
	assert.Equal(t, a2.ID, members[2].AgentID)
	require.NotNil(t, members[0].Agent)

	primaries := 0
	for _, m := range members {
		if m.IsPrimary {
			primaries++
		}
	}
	assert.Equal(t, 1, primaries)

	require.NoError(t, svc.RemoveMember(ctx, alice.ID, team.ID, m3.ID))
	members, err = svc.OrderedMembers(ctx, team.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.True(t, members[0].IsPrimary)
	assert.Equal(t, a1.ID, members[0].AgentID)

	primary := true
	_, err = svc.UpdateMember(ctx, alice.ID, team.ID, m2.ID, MemberUpdate{IsPrimary: &primary})
	require.NoError(t, err)
	members, err = svc.OrderedMembers(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, a2.ID, members[0].AgentID)
	assert.False(t, members[1].IsPrimary)
}

func TestMembersRequireUsableAgent(t *testing.T) {
	ctx := context.Background()
	svc, db, sh := newService(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	bobsAgent := testutil.CreateAgent(t, db, bob.ID, "private")

	team, err := svc.Create(ctx, alice.ID, Input{Name: "squad"})
	require.NoError(t, err)

	_, err = svc.AddMember(ctx, alice.ID, team.ID, MemberInput{AgentID: bobsAgent.ID})
	assert.ErrorIs(t, err, apierr.ErrNotFound)

	reqs, err := sh.Share(ctx, bob.ID, sharing.ShareInput{
		ResourceType: models.ResourceAgent,
		ResourceID:   bobsAgent.ID,
		Permission:   models.PermissionView,
		ToUserID:     alice.ID,
	})
	require.NoError(t, err)
	_, err = sh.Accept(ctx, alice.ID, reqs[0].ID)
	require.NoError(t, err)

	_, err = svc.AddMember(ctx, alice.ID, team.ID, MemberInput{AgentID: bobsAgent.ID})
	assert.ErrorIs(t, err, apierr.ErrForbidden, "view permission is not enough")

	_, err = svc.AddMember(ctx, bob.ID, team.ID, MemberInput{AgentID: bobsAgent.ID})
	assert.ErrorIs(t, err, apierr.ErrNotFound, "non-members cannot see the team")
}

func TestOrderedMembersSkipsUnusableAgents(t *testing.T) {
	ctx := context.Background()
	svc, db, sh := newService(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	writer := testutil.CreateAgent(t, db, alice.ID, "writer")
	critic := testutil.CreateAgent(t, db, alice.ID, "critic")
	bobsAgent := testutil.CreateAgent(t, db, bob.ID, "borrowed")
	team := testutil.CreateTeam(t, db, alice.ID, "squad", writer, critic, bobsAgent)

	require.NoError(t, db.Model(&models.Agent{}).Where("id = ?", critic.ID).Update("is_active", false).Error)

	members, err := svc.OrderedMembers(ctx, team.ID)
	require.NoError(t, err)
	require.Len(t, members, 1, "inactive and ungranted agents do not run")
	assert.Equal(t, writer.ID, members[0].AgentID)

	reqs, err := sh.Share(ctx, bob.ID, sharing.ShareInput{
		ResourceType: models.ResourceAgent,
		ResourceID:   bobsAgent.ID,
		Permission:   models.PermissionUse,
		ToUserID:     alice.ID,
	})
	require.NoError(t, err)
	_, err = sh.Accept(ctx, alice.ID, reqs[0].ID)
	require.NoError(t, err)

	members, err = svc.OrderedMembers(ctx, team.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, bobsAgent.ID, members[1].AgentID)

	_, err = svc.OrderedMembers(ctx, 9999)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestRevokedAgentLeavesRecipientTeams(t *testing.T) {
	ctx := context.Background()
	svc, db, sh := newService(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	writer := testutil.CreateAgent(t, db, alice.ID, "writer")
	bobsAgent := testutil.CreateAgent(t, db, bob.ID, "borrowed")

	reqs, err := sh.Share(ctx, bob.ID, sharing.ShareInput{
		ResourceType: models.ResourceAgent,
		ResourceID:   bobsAgent.ID,
		Permission:   models.PermissionUse,
		ToUserID:     alice.ID,
	})
	require.NoError(t, err)
	_, err = sh.Accept(ctx, alice.ID, reqs[0].ID)
	require.NoError(t, err)

	team, err := svc.Create(ctx, alice.ID, Input{Name: "squad", Members: []MemberInput{{AgentID: writer.ID}, {AgentID: bobsAgent.ID}}})
	require.NoError(t, err)
	bobsTeam := testutil.CreateTeam(t, db, bob.ID, "own", bobsAgent)

	require.NoError(t, sh.Revoke(ctx, bob.ID, reqs[0].ID))

	got, err := svc.Get(ctx, alice.ID, team.ID)
	require.NoError(t, err)
	require.Len(t, got.Members, 1)
	assert.Equal(t, writer.ID, got.Members[0].AgentID)

	var kept int64
	require.NoError(t, db.Model(&models.TeamMember{}).Where("team_id = ?", bobsTeam.ID).Count(&kept).Error)
	assert.Equal(t, int64(1), kept, "the owner's own teams are untouched")
}
