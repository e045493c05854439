package collab

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

const decomposeSystemPrompt = "You are the coordinator of a team of AI agents. " +
	"You split a task into one focused subtask per team member and answer with JSON only."

// plannedSubtask is one member's share of the work before it is persisted
type plannedSubtask struct {
	Member  models.TeamMember
	Subtask string
}

func decomposePrompt(task *models.CollaborativeTask, members []models.TeamMember) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK: %s\n\n%s\n\nTEAM MEMBERS:\n", task.Title, task.Description)
	for _, m := range members {
		name, caps, desc := "", "", ""
		if m.Agent != nil {
			name = m.Agent.Name
			caps = strings.Join(m.Agent.Capabilities, ", ")
			desc = m.Agent.Description
		}
		fmt.Fprintf(&b, "- member_id %d: %s, role %q", m.ID, name, m.Role)
		if caps != "" {
			fmt.Fprintf(&b, ", capabilities: %s", caps)
		}
		if desc != "" {
			fmt.Fprintf(&b, ", %s", desc)
		}
		b.WriteString("\n")
	}
	b.WriteString(`
Give every member exactly one subtask that fits their role. Members run in the
order listed and each sees the work of the members before it.

Output ONLY valid JSON in this exact format (no markdown, no explanation):
{"subtasks":[{"member_id":1,"subtask":"..."}]}`)
	return b.String()
}

// extractJSON strips code fences and surrounding prose from a model answer
func extractJSON(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```json")
		response = strings.TrimPrefix(response, "```")
		response = strings.TrimSuffix(strings.TrimSpace(response), "```")
		response = strings.TrimSpace(response)
	}
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start != -1 && end > start {
		response = response[start : end+1]
	}
	return response
}

func defaultSubtask(task *models.CollaborativeTask, m models.TeamMember) string {
	return fmt.Sprintf("As the team's %s, contribute your part to: %s", m.Role, task.Description)
}

// parseDecomposition maps the model's answer onto the members. The result
// always holds exactly one subtask per member in member order: members the
// model skipped get a default subtask, and unknown or repeated ids are
// ignored. parsed is false when the answer held no usable JSON.
func parseDecomposition(response string, task *models.CollaborativeTask, members []models.TeamMember) (plan []plannedSubtask, parsed bool) {
	byMember := make(map[uint]string, len(members))
	byAgent := make(map[uint]uint, len(members))
	for _, m := range members {
		byAgent[m.AgentID] = m.ID
	}

	body := extractJSON(response)
	if gjson.Valid(body) {
		subtasks := gjson.Get(body, "subtasks")
		parsed = subtasks.IsArray()
		subtasks.ForEach(func(_, item gjson.Result) bool {
			text := strings.TrimSpace(item.Get("subtask").String())
			if text == "" {
				return true
			}
			id := uint(item.Get("member_id").Uint())
			if _, known := indexOf(members, id); !known {
				// some models answer with the agent id instead
				if mid, ok := byAgent[uint(item.Get("agent_id").Uint())]; ok {
					id = mid
				}
			}
			if _, known := indexOf(members, id); !known {
				return true
			}
			if _, dup := byMember[id]; !dup {
				byMember[id] = text
			}
			return true
		})
	}

	plan = make([]plannedSubtask, 0, len(members))
	for _, m := range members {
		text, ok := byMember[m.ID]
		if !ok {
			text = defaultSubtask(task, m)
		}
		plan = append(plan, plannedSubtask{Member: m, Subtask: text})
	}
	return plan, parsed
}

func indexOf(members []models.TeamMember, id uint) (int, bool) {
	for i, m := range members {
		if m.ID == id {
			return i, true
		}
	}
	return -1, false
}

// contributionContext renders the prompt one agent receives: the task, its
// own subtask and everything the agents before it produced
func contributionContext(task *models.CollaborativeTask, role, subtask string, prior []priorContribution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK: %s\n\n%s\n\n", task.Title, task.Description)
	fmt.Fprintf(&b, "YOUR ROLE: %s\nYOUR SUBTASK: %s\n", role, subtask)
	if len(prior) > 0 {
		b.WriteString("\nCONTRIBUTIONS SO FAR:\n")
		for i, p := range prior {
			fmt.Fprintf(&b, "\n[%d] %s (%s):\n%s\n", i+1, p.AgentName, p.Role, p.Content)
		}
		b.WriteString("\nBuild on the contributions so far where they are relevant.")
	}
	b.WriteString("\nRespond with your contribution only.")
	return b.String()
}

type priorContribution struct {
	AgentName string
	Role      string
	Content   string
}

const synthesisSystemPrompt = "You are the coordinator of a team of AI agents. " +
	"Merge the team's contributions into one coherent, complete final answer to the task. " +
	"Resolve contradictions and do not mention the individual agents."

func synthesisPrompt(task *models.CollaborativeTask, prior []priorContribution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK: %s\n\n%s\n\nCONTRIBUTIONS:\n", task.Title, task.Description)
	for i, p := range prior {
		fmt.Fprintf(&b, "\n[%d] %s (%s):\n%s\n", i+1, p.AgentName, p.Role, p.Content)
	}
	b.WriteString("\nWrite the final result.")
	return b.String()
}
