package dashboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Winger29/FSDP-Assignment2/internal/testutil"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

func TestSummary(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db, nil)

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	busy := testutil.CreateAgent(t, db, alice.ID, "busy")
	idle := testutil.CreateAgent(t, db, alice.ID, "idle")
	testutil.CreateAgent(t, db, bob.ID, "not-mine")
	require.NoError(t, db.Model(busy).Update("interaction_count", 12).Error)

	team := testutil.CreateTeam(t, db, alice.ID, "crew", busy, idle)
	archived := testutil.CreateTeam(t, db, alice.ID, "old")
	require.NoError(t, db.Model(archived).Update("is_archived", true).Error)

	for _, status := range []models.TaskStatus{models.TaskPending, models.TaskPending, models.TaskCompleted} {
		require.NoError(t, db.Create(&models.CollaborativeTask{
			TeamID:      team.ID,
			CreatedBy:   alice.ID,
			Title:       "t",
			Description: "d",
			Status:      status,
			Version:     1,
		}).Error)
	}
	require.NoError(t, db.Create(&models.ShareRequest{
		FromUserID:   bob.ID,
		ToUserID:     alice.ID,
		ResourceType: models.ResourceAgent,
		ResourceID:   1,
		Permission:   models.PermissionView,
		Status:       models.ShareStatusPending,
	}).Error)

	sum, err := svc.Summary(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Agents)
	assert.Equal(t, int64(1), sum.Teams)
	assert.Equal(t, int64(1), sum.ArchivedTeams)
	assert.Equal(t, int64(2), sum.Tasks[models.TaskPending])
	assert.Equal(t, int64(1), sum.Tasks[models.TaskCompleted])
	assert.Equal(t, int64(0), sum.Tasks[models.TaskInProgress])
	assert.Equal(t, int64(1), sum.PendingShares)
	require.Len(t, sum.TopAgents, 2)
	assert.Equal(t, "busy", sum.TopAgents[0].Name)

	other, err := svc.Summary(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.Agents)
	assert.Equal(t, int64(0), other.Tasks[models.TaskPending])
}
