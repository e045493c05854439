package collab

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

func testMembers() []models.TeamMember {
	return []models.TeamMember{
		{ID: 10, AgentID: 1, Role: "researcher", Agent: &models.Agent{ID: 1, Name: "Ada"}},
		{ID: 11, AgentID: 2, Role: "writer", Agent: &models.Agent{ID: 2, Name: "Bo"}},
	}
}

func TestParseDecomposition(t *testing.T) {
	task := &models.CollaborativeTask{Title: "t", Description: "build a thing"}
	members := testMembers()

	tests := []struct {
		name     string
		response string
		parsed   bool
		want     []string
	}{
		{
			name:     "plain json",
			response: `{"subtasks":[{"member_id":11,"subtask":"write"},{"member_id":10,"subtask":"research"}]}`,
			parsed:   true,
			want:     []string{"research", "write"},
		},
		{
			name:     "fenced with prose",
			response: "Here you go:\n```json\n{\"subtasks\":[{\"member_id\":10,\"subtask\":\"research\"}]}\n```",
			parsed:   true,
			want:     []string{"research", defaultSubtask(task, members[1])},
		},
		{
			name:     "agent ids and duplicates",
			response: `{"subtasks":[{"agent_id":2,"subtask":"write"},{"member_id":11,"subtask":"again"}]}`,
			parsed:   true,
			want:     []string{defaultSubtask(task, members[0]), "write"},
		},
		{
			name:     "garbage",
			response: "I cannot do that",
			parsed:   false,
			want:     []string{defaultSubtask(task, members[0]), defaultSubtask(task, members[1])},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, parsed := parseDecomposition(tt.response, task, members)
			assert.Equal(t, tt.parsed, parsed)
			if assert.Len(t, plan, len(members)) {
				for i := range plan {
					assert.Equal(t, members[i].ID, plan[i].Member.ID)
					assert.Equal(t, tt.want[i], plan[i].Subtask)
				}
			}
		})
	}
}

func TestDecomposePromptListsMembers(t *testing.T) {
	prompt := decomposePrompt(&models.CollaborativeTask{Title: "t", Description: "d"}, testMembers())
	assert.Contains(t, prompt, "member_id 10: Ada")
	assert.Contains(t, prompt, "member_id 11: Bo")
	assert.True(t, strings.HasSuffix(prompt, `{"subtasks":[{"member_id":1,"subtask":"..."}]}`))
}

func TestConfidence(t *testing.T) {
	c, ok := LogprobConfidence([]float64{math.Log(0.9), math.Log(0.5)})
	assert.True(t, ok)
	assert.InDelta(t, 0.7, c, 1e-9)

	_, ok = LogprobConfidence(nil)
	assert.False(t, ok)

	assert.InDelta(t, 0.5, HeuristicConfidence("short answer"), 1e-9)
	assert.InDelta(t, 0.6, HeuristicConfidence(strings.Repeat("x", 300)), 1e-9)
	assert.InDelta(t, 0.7, HeuristicConfidence(strings.Repeat("x", 900)), 1e-9)
	assert.InDelta(t, 0.3, HeuristicConfidence("Perhaps this works"), 1e-9)

	for _, text := range []string{"", "maybe", strings.Repeat("I'm not sure ", 200)} {
		score := HeuristicConfidence(text)
		assert.GreaterOrEqual(t, score, 0.1)
		assert.LessOrEqual(t, score, 0.95)
	}

	assert.InDelta(t, 0.7, Confidence("ignored", []float64{math.Log(0.7)}), 1e-9)
	assert.InDelta(t, 0.5, Confidence("plain", nil), 1e-9)
	assert.Equal(t, 0.0, MeanConfidence(nil))
	assert.InDelta(t, 0.5, MeanConfidence([]float64{0.4, 0.6}), 1e-9)
}
