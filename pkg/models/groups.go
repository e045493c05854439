package models

import (
	"time"

	"gorm.io/gorm"
)

// Group roles
const (
	GroupRoleOwner  = "owner"
	GroupRoleAdmin  = "admin"
	GroupRoleMember = "member"
)

// Group is a chat room between users
type Group struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	OwnerID     uint   `json:"owner_id" gorm:"not null;index"`
	Name        string `json:"name" gorm:"not null;size:100"`
	Description string `json:"description"`

	Members []GroupMember `json:"members,omitempty" gorm:"foreignKey:GroupID"`
}

type GroupMember struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`

	GroupID uint   `json:"group_id" gorm:"not null;uniqueIndex:idx_group_user"`
	UserID  uint   `json:"user_id" gorm:"not null;uniqueIndex:idx_group_user"`
	Role    string `json:"role" gorm:"not null;default:'member'"`

	User *User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

// Group message types
const (
	GroupMessageText          = "text"
	GroupMessageResourceShare = "resource_share"
)

type GroupMessage struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`

	GroupID        uint   `json:"group_id" gorm:"not null;index"`
	SenderID       uint   `json:"sender_id" gorm:"not null"`
	Content        string `json:"content" gorm:"type:text"`
	MessageType    string `json:"message_type" gorm:"default:'text'"`
	ResourceType   string `json:"resource_type,omitempty"`
	ResourceID     uint   `json:"resource_id,omitempty"`
	ShareRequestID *uint  `json:"share_request_id,omitempty"`

	Sender *User `json:"sender,omitempty" gorm:"foreignKey:SenderID"`
}

// Shareable resource types
const (
	ResourceAgent = "agent"
	ResourceTeam  = "team"
	ResourceTask  = "task"
)

// ValidResourceType reports whether t names a shareable resource
func ValidResourceType(t string) bool {
	return t == ResourceAgent || t == ResourceTeam || t == ResourceTask
}

// Permissions, ordered: use implies view
const (
	PermissionView = "view"
	PermissionUse  = "use"
)

// PermissionAllows reports whether a granted permission satisfies the required one
func PermissionAllows(granted, required string) bool {
	if granted == required {
		return true
	}
	return granted == PermissionUse && required == PermissionView
}

// Share request states
const (
	ShareStatusPending  = "pending"
	ShareStatusAccepted = "accepted"
	ShareStatusRejected = "rejected"
	ShareStatusRevoked  = "revoked"
	ShareStatusExpired  = "expired"
)

// ShareRequest offers another user access to a resource
type ShareRequest struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	FromUserID   uint       `json:"from_user_id" gorm:"not null;index"`
	ToUserID     uint       `json:"to_user_id" gorm:"not null;index"`
	GroupID      *uint      `json:"group_id,omitempty" gorm:"index"`
	ResourceType string     `json:"resource_type" gorm:"not null"`
	ResourceID   uint       `json:"resource_id" gorm:"not null"`
	Permission   string     `json:"permission" gorm:"not null;default:'view'"`
	Status       string     `json:"status" gorm:"not null;default:'pending';index"`
	Note         string     `json:"note,omitempty"`
	RespondedAt  *time.Time `json:"responded_at,omitempty"`

	FromUser *User `json:"from_user,omitempty" gorm:"foreignKey:FromUserID"`
}

// ResourceAccess grants a user visibility into a resource they do not own
type ResourceAccess struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`

	UserID         uint   `json:"user_id" gorm:"not null;uniqueIndex:idx_access_user_resource"`
	ResourceType   string `json:"resource_type" gorm:"not null;uniqueIndex:idx_access_user_resource"`
	ResourceID     uint   `json:"resource_id" gorm:"not null;uniqueIndex:idx_access_user_resource"`
	Permission     string `json:"permission" gorm:"not null"`
	GrantedBy      uint   `json:"granted_by"`
	ShareRequestID *uint  `json:"share_request_id,omitempty"`
}
