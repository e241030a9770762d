package entity

import (
	"strings"

	"github.com/mbeoliero/convsync/pkg/constant"
)

// ParticipantKind tells humans and agents apart
type ParticipantKind string

const (
	ParticipantUnknown ParticipantKind = ""
	ParticipantUser    ParticipantKind = "user"
	ParticipantAgent   ParticipantKind = "agent"
)

// KindOfUserId derives the participant kind from the IM user id prefix
//
//	"u___42" => user
//	"ag__7"  => agent
func KindOfUserId(userId string) ParticipantKind {
	if len(userId) <= constant.UserIdPrefixLen {
		return ParticipantUnknown
	}
	switch {
	case strings.HasPrefix(userId, constant.UserIdPrefixUser):
		return ParticipantUser
	case strings.HasPrefix(userId, constant.UserIdPrefixAgent):
		return ParticipantAgent
	default:
		return ParticipantUnknown
	}
}

// Participant identifies who the conversation is with
type Participant struct {
	UserId   string          `json:"user_id,omitempty"`
	GroupId  string          `json:"group_id,omitempty"`
	Nickname string          `json:"nickname,omitempty"`
	Avatar   string          `json:"avatar,omitempty"`
	Kind     ParticipantKind `json:"kind,omitempty"`
}

// MessageSnapshot is the latest message shown in a conversation row
type MessageSnapshot struct {
	MessageId string `json:"message_id"`
	SenderId  string `json:"sender_id"`
	Text      string `json:"text"`
	MsgType   int32  `json:"msg_type"`
	CreatedAt int64  `json:"created_at"`
}

// ConversationPreview represents one row of the conversation list
type ConversationPreview struct {
	ConversationId string           `json:"conversation_id"`
	Participant    Participant      `json:"participant"`
	LatestMessage  *MessageSnapshot `json:"latest_message,omitempty"`
	UnreadCount    int64            `json:"unread_count"`
	MaxSeq         int64            `json:"max_seq"`
	ReadSeq        int64            `json:"read_seq"`
	IsFavorite     bool             `json:"is_favorite"`
	IsArchived     bool             `json:"is_archived"`
	UpdatedAt      int64            `json:"updated_at"`
}

// Clone returns a deep copy safe to hand out of the cache
func (p *ConversationPreview) Clone() *ConversationPreview {
	if p == nil {
		return nil
	}
	c := *p
	if p.LatestMessage != nil {
		latest := *p.LatestMessage
		c.LatestMessage = &latest
	}
	return &c
}

// Flag names a boolean conversation flag
type Flag string

const (
	FlagFavorite Flag = "favorite"
	FlagArchived Flag = "archived"
)

// Get returns the value of flag f
func (p *ConversationPreview) Get(f Flag) bool {
	switch f {
	case FlagFavorite:
		return p.IsFavorite
	case FlagArchived:
		return p.IsArchived
	default:
		return false
	}
}

// Set assigns the value of flag f
func (p *ConversationPreview) Set(f Flag, v bool) {
	switch f {
	case FlagFavorite:
		p.IsFavorite = v
	case FlagArchived:
		p.IsArchived = v
	}
}
