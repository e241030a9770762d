package sdk

import "encoding/json"

// Response represents the standard API response
type Response struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UserInfo represents public user info
type UserInfo struct {
	Id        string `json:"id"`
	Nickname  string `json:"nickname"`
	Avatar    string `json:"avatar"`
	CreatedAt int64  `json:"created_at"`
}

// MessageContent represents the content of a message
type MessageContent struct {
	Text   string `json:"text,omitempty"`
	Image  string `json:"image,omitempty"`
	Video  string `json:"video,omitempty"`
	Audio  string `json:"audio,omitempty"`
	File   string `json:"file,omitempty"`
	Custom string `json:"custom,omitempty"`
}

// MessageInfo represents message info
type MessageInfo struct {
	Id             int64          `json:"id"`
	ConversationId string         `json:"conversation_id"`
	Seq            int64          `json:"seq"`
	ClientMsgId    string         `json:"client_msg_id"`
	SenderId       string         `json:"sender_id"`
	ParentId       string         `json:"parent_id,omitempty"`
	SessionType    int32          `json:"session_type"`
	MsgType        int32          `json:"msg_type"`
	Content        MessageContent `json:"content"`
	SendAt         int64          `json:"send_at"`
}

// ConversationInfo represents one row of the conversation list
type ConversationInfo struct {
	ConversationId   string       `json:"conversation_id"`
	ConversationType int32        `json:"conversation_type"`
	PeerUserId       string       `json:"peer_user_id,omitempty"`
	PeerNickname     string       `json:"peer_nickname,omitempty"`
	PeerAvatar       string       `json:"peer_avatar,omitempty"`
	GroupId          string       `json:"group_id,omitempty"`
	IsFavorite       bool         `json:"is_favorite"`
	IsArchived       bool         `json:"is_archived"`
	UnreadCount      int64        `json:"unread_count"`
	MaxSeq           int64        `json:"max_seq"`
	ReadSeq          int64        `json:"read_seq"`
	LatestMessage    *MessageInfo `json:"latest_message,omitempty"`
	UpdatedAt        int64        `json:"updated_at"`
}

// ===== Request types =====

// LoginRequest
type LoginRequest struct {
	UserId     string `json:"user_id"`
	Password   string `json:"password"`
	PlatformId int    `json:"platform_id"`
}

// LoginResponse represents user login response
type LoginResponse struct {
	Token    string    `json:"token"`
	UserInfo *UserInfo `json:"user_info"`
}

// ConversationPageResponse is one page of the conversation list
type ConversationPageResponse struct {
	Conversations []*ConversationInfo `json:"conversations"`
	Page          int                 `json:"page"`
	PageSize      int                 `json:"page_size"`
	HasMore       bool                `json:"has_more"`
}

// SendMessageRequest represents send message request
type SendMessageRequest struct {
	ClientMsgId string         `json:"client_msg_id"`
	RecvId      string         `json:"recv_id,omitempty"`  // For single chat
	GroupId     string         `json:"group_id,omitempty"` // For group chat
	ParentId    string         `json:"parent_id,omitempty"`
	SessionType int32          `json:"session_type"`
	MsgType     int32          `json:"msg_type"`
	Content     MessageContent `json:"content"`
}

// PullMessagesResponse represents pull messages response
type PullMessagesResponse struct {
	Messages []*MessageInfo `json:"messages"`
	MaxSeq   int64          `json:"max_seq"`
}

// UpdateConversationRequest carries the flags to change; nil fields are left as is
type UpdateConversationRequest struct {
	IsFavorite *bool `json:"is_favorite,omitempty"`
	IsArchived *bool `json:"is_archived,omitempty"`
}

// MarkReadRequest represents mark read request
type MarkReadRequest struct {
	ConversationId string `json:"conversation_id"`
	ReadSeq        int64  `json:"read_seq"`
}
