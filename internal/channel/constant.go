package channel

import "time"

// WebSocket protocol identifiers shared with the IM gateway
const (
	// Request identifiers
	WSGetNewestSeq      = 1001 // Get newest seq
	WSPullMsgBySeqList  = 1002 // Pull messages by seq list
	WSSendMsg           = 1003 // Send message
	WSPullMsg           = 1005 // Pull messages
	WSGetConvMaxReadSeq = 1006 // Get conversation max/read seq

	// Push identifiers
	WSPushMsg       = 2001 // Server push message
	WSKickOnlineMsg = 2002 // Kick user offline
	WSPushTyping    = 2003 // Peer typing indicator
	WSPushPresence  = 2004 // Peer online status
	WSDataError     = 3001 // Data error
)

// Query parameter keys
const (
	QueryToken       = "token"
	QuerySendId      = "send_id"
	QueryPlatformId  = "platform_id"
	QueryOperationId = "operation_id"
	QuerySDKType     = "sdk_type"
)

// SDKTypeGo identifies this client to the gateway
const SDKTypeGo = "go"

// Fallbacks for unset or invalid websocket settings
const (
	// WriteWait is time allowed to write a message to the peer
	WriteWait = 10 * time.Second

	// PongWait is time allowed to read the next pong message from the peer
	PongWait = 30 * time.Second

	// MaxMessageSize is maximum message size allowed from peer
	MaxMessageSize = 51200

	// WriteChannelSize is the number of queued outbound frames
	WriteChannelSize = 256
)
