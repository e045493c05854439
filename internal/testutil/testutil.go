// Package testutil holds fixtures shared by service and handler tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Winger29/FSDP-Assignment2/internal/cache"
	"github.com/Winger29/FSDP-Assignment2/internal/db"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

// NewDB returns a migrated in-memory database closed at test cleanup
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.NewTestDatabase()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database.DB
}

// NewCache returns a memory-only cache closed at test cleanup
func NewCache(t *testing.T) *cache.RedisCache {
	t.Helper()
	c := cache.NewRedisCache(nil, nil)
	t.Cleanup(func() { c.Close() })
	return c
}

// CreateUser inserts a user named name
func CreateUser(t *testing.T, gdb *gorm.DB, name string) *models.User {
	t.Helper()
	u := &models.User{
		Username:     name,
		Email:        fmt.Sprintf("%s@example.com", name),
		PasswordHash: "x",
		IsActive:     true,
	}
	require.NoError(t, gdb.Create(u).Error)
	return u
}

// CreateAgent inserts an agent owned by ownerID
func CreateAgent(t *testing.T, gdb *gorm.DB, ownerID uint, name string) *models.Agent {
	t.Helper()
	a := &models.Agent{
		OwnerID:      ownerID,
		Name:         name,
		SystemPrompt: "You are " + name + ".",
		Model:        "gpt-4o",
		Temperature:  0.5,
		MaxTokens:    256,
		Capabilities: []string{},
		IsActive:     true,
	}
	require.NoError(t, gdb.Create(a).Error)
	return a
}

// CreateTeam inserts a team with the given agents as members, the first one primary
func CreateTeam(t *testing.T, gdb *gorm.DB, ownerID uint, name string, agents ...*models.Agent) *models.Team {
	t.Helper()
	team := &models.Team{OwnerID: ownerID, Name: name}
	require.NoError(t, gdb.Create(team).Error)
	for i, a := range agents {
		m := &models.TeamMember{
			TeamID:    team.ID,
			AgentID:   a.ID,
			Role:      fmt.Sprintf("role-%d", i+1),
			IsPrimary: i == 0,
			Position:  i,
		}
		require.NoError(t, gdb.Create(m).Error)
		team.Members = append(team.Members, *m)
	}
	return team
}
