package entity

import "github.com/mbeoliero/convsync/pkg/constant"

// AttachmentKind is the media type of an attachment
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentVideo AttachmentKind = "video"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment references media carried by a message
type Attachment struct {
	Kind AttachmentKind `json:"kind"`
	URL  string         `json:"url"`
}

// Message is a confirmed or speculative message or reply
type Message struct {
	Id             string       `json:"id,omitempty"`
	TempId         string       `json:"temp_id,omitempty"`
	ClientMsgId    string       `json:"client_msg_id,omitempty"`
	ConversationId string       `json:"conversation_id"`
	ParentId       string       `json:"parent_id,omitempty"`
	SenderId       string       `json:"sender_id"`
	MsgType        int32        `json:"msg_type"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Seq            int64        `json:"seq,omitempty"`
	CreatedAt      int64        `json:"created_at"`
	IsOptimistic   bool         `json:"is_optimistic"`
}

// Key returns the server id for confirmed entries and the temp id otherwise
func (m *Message) Key() string {
	if m.Id != "" {
		return m.Id
	}
	return m.TempId
}

// IsReply reports whether the message answers another message
func (m *Message) IsReply() bool {
	return m.ParentId != ""
}

// Clone returns a copy whose attachment slice is not shared
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Attachments != nil {
		c.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return &c
}

// Snapshot builds the conversation row preview of the message
func (m *Message) Snapshot() *MessageSnapshot {
	return &MessageSnapshot{
		MessageId: m.Key(),
		SenderId:  m.SenderId,
		Text:      m.Text,
		MsgType:   m.MsgType,
		CreatedAt: m.CreatedAt,
	}
}

// AudioAttachments returns the attachments that can be played back
func (m *Message) AudioAttachments() []Attachment {
	var out []Attachment
	for _, a := range m.Attachments {
		if a.Kind == AttachmentAudio {
			out = append(out, a)
		}
	}
	return out
}

// MsgTypeOf infers the wire message type from the attachments
func MsgTypeOf(attachments []Attachment) int32 {
	if len(attachments) == 0 {
		return constant.MsgTypeText
	}
	switch attachments[0].Kind {
	case AttachmentImage:
		return constant.MsgTypeImage
	case AttachmentVideo:
		return constant.MsgTypeVideo
	case AttachmentAudio:
		return constant.MsgTypeAudio
	default:
		return constant.MsgTypeFile
	}
}
