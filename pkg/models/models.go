package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents an account on the platform
type User struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Basic user information
	Username     string `json:"username" gorm:"uniqueIndex;not null"`
	Email        string `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string `json:"-"`
	FullName     string `json:"full_name"`
	AvatarURL    string `json:"avatar_url"`

	// External identity (OAuth logins)
	OAuthProvider string `json:"oauth_provider,omitempty" gorm:"column:oauth_provider;index:idx_users_oauth"`
	OAuthSubject  string `json:"-" gorm:"column:oauth_subject;index:idx_users_oauth"`

	// Account status
	IsActive    bool       `json:"is_active" gorm:"default:true"`
	IsAdmin     bool       `json:"is_admin" gorm:"default:false"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Agent is an LLM persona owned by a user: system prompt, model choice and
// a capability list, plus rolling interaction metrics.
type Agent struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	OwnerID      uint     `json:"owner_id" gorm:"not null;index"`
	Name         string   `json:"name" gorm:"not null;size:100"`
	Description  string   `json:"description"`
	SystemPrompt string   `json:"system_prompt" gorm:"type:text;not null"`
	Model        string   `json:"model" gorm:"not null"`
	Temperature  float64  `json:"temperature" gorm:"default:0.7"`
	MaxTokens    int      `json:"max_tokens" gorm:"default:1024"`
	Capabilities []string `json:"capabilities" gorm:"serializer:json"`
	IsActive     bool     `json:"is_active" gorm:"default:true"`

	// Rolling metrics
	InteractionCount  int64   `json:"interaction_count" gorm:"default:0"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms" gorm:"default:0"`
	SuccessCount      int64   `json:"success_count" gorm:"default:0"`
	FailureCount      int64   `json:"failure_count" gorm:"default:0"`
	SuccessRate       float64 `json:"success_rate" gorm:"default:0"`
	PositiveFeedback  int64   `json:"positive_feedback" gorm:"default:0"`
	NegativeFeedback  int64   `json:"negative_feedback" gorm:"default:0"`

	Owner *User `json:"owner,omitempty" gorm:"foreignKey:OwnerID"`
}

// InteractionUpdates folds one interaction into an agent's rolling metrics as
// column expressions, so concurrent calls never overwrite each other. Every
// expression reads the row as it was before the update.
func InteractionUpdates(duration time.Duration, success bool) map[string]interface{} {
	ms := float64(duration.Milliseconds())
	won := 0
	updates := map[string]interface{}{
		"avg_response_time_ms": gorm.Expr("(avg_response_time_ms * interaction_count + ?) / (interaction_count + 1)", ms),
		"interaction_count":    gorm.Expr("interaction_count + 1"),
	}
	if success {
		won = 1
		updates["success_count"] = gorm.Expr("success_count + 1")
	} else {
		updates["failure_count"] = gorm.Expr("failure_count + 1")
	}
	updates["success_rate"] = gorm.Expr("(success_count + ?) * 1.0 / (success_count + failure_count + 1)", won)
	return updates
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation is an ordered chat history between a user and one agent
type Conversation struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	UserID        uint       `json:"user_id" gorm:"not null;index"`
	AgentID       uint       `json:"agent_id" gorm:"not null;index"`
	Title         string     `json:"title"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`

	Agent    *Agent    `json:"agent,omitempty" gorm:"foreignKey:AgentID"`
	Messages []Message `json:"messages,omitempty" gorm:"foreignKey:ConversationID"`
}

// Message is a single turn in a conversation.
// Feedback is -1 (negative), 0 (none) or 1 (positive).
type Message struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ConversationID uint   `json:"conversation_id" gorm:"not null;index"`
	Role           string `json:"role" gorm:"not null"`
	Content        string `json:"content" gorm:"type:text"`
	Feedback       int    `json:"feedback" gorm:"default:0"`
	Attachments    []uint `json:"attachments" gorm:"serializer:json"`

	Model          string `json:"model,omitempty"`
	TokensUsed     int    `json:"tokens_used,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms,omitempty"`
}

// ValidFeedback reports whether v is an accepted feedback value
func ValidFeedback(v int) bool {
	return v == -1 || v == 0 || v == 1
}

// Upload is a file stored in object storage
type Upload struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	OwnerID     uint   `json:"owner_id" gorm:"not null;index"`
	FileName    string `json:"file_name" gorm:"not null"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	StorageKey  string `json:"-" gorm:"uniqueIndex;not null"`
	TextContent string `json:"-" gorm:"type:text"`
}

// AllModels returns every persisted model, in dependency order
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Agent{},
		&Conversation{},
		&Message{},
		&Upload{},
		&Team{},
		&TeamMember{},
		&CollaborativeTask{},
		&TaskAssignment{},
		&AgentContribution{},
		&Group{},
		&GroupMember{},
		&GroupMessage{},
		&ShareRequest{},
		&ResourceAccess{},
	}
}
