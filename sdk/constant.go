package sdk

// Session types
const (
	SessionTypeSingle = 1 // Single chat
	SessionTypeGroup  = 2 // Group chat
)

// Message types
const (
	MsgTypeText   = 1
	MsgTypeImage  = 2
	MsgTypeVideo  = 3
	MsgTypeAudio  = 4
	MsgTypeFile   = 5
	MsgTypeCustom = 100
)

// Conversation flags accepted by UpdateConversation
const (
	FlagFavorite = "favorite"
	FlagArchived = "archived"
)

// DefaultPageSize is used when a page request carries no size
const DefaultPageSize = 20
