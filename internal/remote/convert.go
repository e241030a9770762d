package remote

import (
	"strconv"

	"github.com/mbeoliero/convsync/internal/entity"
	"github.com/mbeoliero/convsync/pkg/constant"
	"github.com/mbeoliero/convsync/sdk"
)

// PreviewFromInfo converts an API conversation row
func PreviewFromInfo(info *sdk.ConversationInfo) *entity.ConversationPreview {
	if info == nil {
		return nil
	}

	p := &entity.ConversationPreview{
		ConversationId: info.ConversationId,
		UnreadCount:    info.UnreadCount,
		MaxSeq:         info.MaxSeq,
		ReadSeq:        info.ReadSeq,
		IsFavorite:     info.IsFavorite,
		IsArchived:     info.IsArchived,
		UpdatedAt:      info.UpdatedAt,
	}

	if info.ConversationType == constant.SessionTypeGroup {
		p.Participant = entity.Participant{GroupId: info.GroupId}
	} else {
		p.Participant = entity.Participant{
			UserId:   info.PeerUserId,
			Nickname: info.PeerNickname,
			Avatar:   info.PeerAvatar,
			Kind:     entity.KindOfUserId(info.PeerUserId),
		}
	}

	if info.LatestMessage != nil {
		p.LatestMessage = MessageFromInfo(info.LatestMessage).Snapshot()
	}
	return p
}

// MessageFromInfo converts an API message into a confirmed entry
func MessageFromInfo(info *sdk.MessageInfo) *entity.Message {
	if info == nil {
		return nil
	}

	msg := &entity.Message{
		ClientMsgId:    info.ClientMsgId,
		ConversationId: info.ConversationId,
		ParentId:       info.ParentId,
		SenderId:       info.SenderId,
		MsgType:        info.MsgType,
		Text:           info.Content.Text,
		Seq:            info.Seq,
		CreatedAt:      info.SendAt,
	}
	if info.Id != 0 {
		msg.Id = strconv.FormatInt(info.Id, 10)
	}
	msg.Attachments = attachmentsOf(info.Content)
	return msg
}

func attachmentsOf(content sdk.MessageContent) []entity.Attachment {
	var out []entity.Attachment
	add := func(kind entity.AttachmentKind, url string) {
		if url != "" {
			out = append(out, entity.Attachment{Kind: kind, URL: url})
		}
	}
	add(entity.AttachmentImage, content.Image)
	add(entity.AttachmentVideo, content.Video)
	add(entity.AttachmentAudio, content.Audio)
	add(entity.AttachmentFile, content.File)
	return out
}

// ContentOf builds the wire content of a speculative entry
func ContentOf(msg *entity.Message) sdk.MessageContent {
	content := sdk.MessageContent{Text: msg.Text}
	for _, a := range msg.Attachments {
		switch a.Kind {
		case entity.AttachmentImage:
			content.Image = a.URL
		case entity.AttachmentVideo:
			content.Video = a.URL
		case entity.AttachmentAudio:
			content.Audio = a.URL
		case entity.AttachmentFile:
			content.File = a.URL
		}
	}
	return content
}

// SendRequestOf builds the send request for a speculative entry. The temp id
// travels as the client message id.
func SendRequestOf(msg *entity.Message, selfId string) *sdk.SendMessageRequest {
	req := &sdk.SendMessageRequest{
		ClientMsgId: msg.TempId,
		ParentId:    msg.ParentId,
		MsgType:     msg.MsgType,
		Content:     ContentOf(msg),
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
