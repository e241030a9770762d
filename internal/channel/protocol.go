package channel

import (
	"sort"
	"strconv"

	"github.com/mbeoliero/convsync/internal/entity"
	"github.com/mbeoliero/convsync/pkg/constant"
)

// WSRequest represents a WebSocket request message
type WSRequest struct {
	ReqIdentifier int32  `json:"req_identifier"` // Request type
	MsgIncr       string `json:"msg_incr"`       // Client message counter
	OperationId   string `json:"operation_id"`   // Operation Id
	SendId        string `json:"send_id"`        // Sender user Id
	Data          []byte `json:"data"`           // Business data
}

// WSResponse represents a WebSocket response or push message
type WSResponse struct {
	ReqIdentifier int32  `json:"req_identifier"` // Request type (echo back)
	MsgIncr       string `json:"msg_incr"`       // Message counter (echo back), empty on push
	OperationId   string `json:"operation_id"`   // Operation Id (echo back)
	ErrCode       int    `json:"err_code"`       // Error code, 0 = success
	ErrMsg        string `json:"err_msg"`        // Error message
	Data          []byte `json:"data"`           // Response data
}

// Content is the message body on the wire
type Content struct {
	Text   string `json:"text,omitempty"`
	Image  string `json:"image,omitempty"`
	Video  string `json:"video,omitempty"`
	Audio  string `json:"audio,omitempty"`
	File   string `json:"file,omitempty"`
	Custom string `json:"custom,omitempty"`
}

// SendMsgReq represents send message request data
type SendMsgReq struct {
	ClientMsgId string  `json:"client_msg_id"`
	RecvId      string  `json:"recv_id,omitempty"`
	GroupId     string  `json:"group_id,omitempty"`
	ParentId    string  `json:"parent_id,omitempty"`
	SessionType int32   `json:"session_type"`
	MsgType     int32   `json:"msg_type"`
	Content     Content `json:"content"`
}

// SendMsgResp represents send message response data
type SendMsgResp struct {
	ServerMsgId    int64  `json:"server_msg_id"`
	ConversationId string `json:"conversation_id"`
	Seq            int64  `json:"seq"`
	ClientMsgId    string `json:"client_msg_id"`
	SendAt         int64  `json:"send_at"`
}

// PullMsgReq represents pull messages request data
type PullMsgReq struct {
	ConversationId string  `json:"conversation_id"`
	BeginSeq       int64   `json:"begin_seq"`
	EndSeq         int64   `json:"end_seq"`
	Limit          int     `json:"limit"`
	SeqList        []int64 `json:"seq_list,omitempty"` // For WSPullMsgBySeqList
}

// PullMsgResp represents pull messages response data
type PullMsgResp struct {
	Messages []*MessageData `json:"messages"`
	MaxSeq   int64          `json:"max_seq"`
}

// MessageData represents message data in responses and pushes
type MessageData struct {
	ServerMsgId    int64   `json:"server_msg_id"`
	ConversationId string  `json:"conversation_id"`
	Seq            int64   `json:"seq"`
	ClientMsgId    string  `json:"client_msg_id"`
	SenderId       string  `json:"sender_id"`
	RecvId         string  `json:"recv_id,omitempty"`
	GroupId        string  `json:"group_id,omitempty"`
	ParentId       string  `json:"parent_id,omitempty"`
	SessionType    int32   `json:"session_type"`
	MsgType        int32   `json:"msg_type"`
	Content        Content `json:"content"`
	SendAt         int64   `json:"send_at"`
}

// PushMsgData represents push message data
type PushMsgData struct {
	Msgs map[string][]*MessageData `json:"msgs"` // conversation_id -> messages
}

// Typing is a peer typing indicator
type Typing struct {
	ConversationId string `json:"conversation_id"`
	UserId         string `json:"user_id"`
	Typing         bool   `json:"typing"`
}

// Presence is a peer online status change
type Presence struct {
	UserId     string `json:"user_id"`
	Online     bool   `json:"online"`
	PlatformId int    `json:"platform_id"`
}

// ToMessage converts wire data into a confirmed entry
func (d *MessageData) ToMessage() *entity.Message {
	msg := &entity.Message{
		ClientMsgId:    d.ClientMsgId,
		ConversationId: d.ConversationId,
		ParentId:       d.ParentId,
		SenderId:       d.SenderId,
		MsgType:        d.MsgType,
		Text:           d.Content.Text,
		Seq:            d.Seq,
		CreatedAt:      d.SendAt,
	}
	if d.ServerMsgId != 0 {
		msg.Id = strconv.FormatInt(d.ServerMsgId, 10)
	}

	add := func(kind entity.AttachmentKind, url string) {
		if url != "" {
			msg.Attachments = append(msg.Attachments, entity.Attachment{Kind: kind, URL: url})
		}
	}
	add(entity.AttachmentImage, d.Content.Image)
	add(entity.AttachmentVideo, d.Content.Video)
	add(entity.AttachmentAudio, d.Content.Audio)
	add(entity.AttachmentFile, d.Content.File)
	return msg
}

// sendMsgReqOf addresses a speculative entry to its peer or group
func sendMsgReqOf(msg *entity.Message, selfId string) *SendMsgReq {
	req := &SendMsgReq{
		ClientMsgId: msg.TempId,
		ParentId:    msg.ParentId,
		MsgType:     msg.MsgType,
		Content:     Content{Text: msg.Text},
	}
	for _, a := range msg.Attachments {
		switch a.Kind {
		case entity.AttachmentImage:
			req.Content.Image = a.URL
		case entity.AttachmentVideo:
			req.Content.Video = a.URL
		case entity.AttachmentAudio:
			req.Content.Audio = a.URL
		case entity.AttachmentFile:
			req.Content.File = a.URL
		}
	}

	if entity.IsGroupConversation(msg.ConversationId) {
		req.SessionType = constant.SessionTypeGroup
		req.GroupId = msg.ConversationId[len(constant.GroupConversationPrefix):]
	} else {
		req.SessionType = constant.SessionTypeSingle
		req.RecvId = entity.PeerOf(msg.ConversationId, selfId)
	}
	return req
}

// messages flattens a push in conversation id order, seq ascending
func (p *PushMsgData) messages() []*entity.Message {
	ids := make([]string, 0, len(p.Msgs))
	for id := range p.Msgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*entity.Message
	for _, id := range ids {
		batch := p.Msgs[id]
		sort.SliceStable(batch, func(i, j int) bool { return batch[i].Seq < batch[j].Seq })
		for _, d := range batch {
			if d == nil {
				continue
			}
			m := d.ToMessage()
			if m.ConversationId == "" {
				m.ConversationId = id
			}
			out = append(out, m)
		}
	}
	return out
}
