package constant

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

// Platform Ids
const (
	PlatformIdUnknown = 0
	PlatformIdIOS     = 1
	PlatformIdAndroid = 2
	PlatformIdWindows = 3
	PlatformIdMacOS   = 4
	PlatformIdWeb     = 5
)

// PlatformIdToName converts platform Id to name
func PlatformIdToName(platformId int) string {
	switch platformId {
	case PlatformIdIOS:
		return "iOS"
	case PlatformIdAndroid:
		return "Android"
	case PlatformIdWindows:
		return "Windows"
	case PlatformIdMacOS:
		return "macOS"
	case PlatformIdWeb:
		return "Web"
	default:
		return "Unknown"
	}
}

// Conversation Id prefixes
const (
	SingleConversationPrefix = "si_"
	GroupConversationPrefix  = "sg_"
)

// User Id prefixes used by the identity mapping on the server side
const (
	UserIdPrefixUser  = "u___"
	UserIdPrefixAgent = "ag__"
	UserIdPrefixLen   = 4
)

// Temp id prefix for speculative entries
const TempIdPrefix = "tmp_"

// Redis key patterns (without prefix, use RedisKey*() to get full key)
const (
	redisKeyConversations = "snapshot:conv:%s" // snapshot:conv:{user_id}
)

// redisKeyPrefix is the global prefix for all Redis keys
var redisKeyPrefix = "convsync:"

// InitRedisKeyPrefix initializes the Redis key prefix from config
func InitRedisKeyPrefix(prefix string) {
	if prefix != "" {
		redisKeyPrefix = prefix
	}
}

// GetRedisKeyPrefix returns the current Redis key prefix
func GetRedisKeyPrefix() string {
	return redisKeyPrefix
}

// RedisKeyConversations returns the snapshot hash key pattern
func RedisKeyConversations() string { return redisKeyPrefix + redisKeyConversations }
