package entity

import (
	"strings"
	"time"

	"github.com/mbeoliero/convsync/pkg/constant"
)

// NowUnixMilli returns current unix timestamp in milliseconds
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// IsSingleConversation checks if conversation Id is for single chat
func IsSingleConversation(conversationId string) bool {
	return strings.HasPrefix(conversationId, constant.SingleConversationPrefix)
}

// IsGroupConversation checks if conversation Id is for group chat
func IsGroupConversation(conversationId string) bool {
	return strings.HasPrefix(conversationId, constant.GroupConversationPrefix)
}

// PeerOf returns the other participant of a single chat conversation.
// Format: si_{min(userA,userB)}:{max(userA,userB)}
func PeerOf(conversationId, selfId string) string {
	if !IsSingleConversation(conversationId) {
		return ""
	}
	pair := strings.TrimPrefix(conversationId, constant.SingleConversationPrefix)
	a, b, ok := strings.Cut(pair, ":")
	if !ok {
		return ""
	}
	if a == selfId {
		return b
	}
	return a
}
