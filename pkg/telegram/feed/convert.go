package feed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"corecu_go/models"

	"github.com/gotd/td/tg"
)

// page — сообщения ответа вместе с пользователями для подстановки username.
type page struct {
	messages []tg.MessageClass
	users    []tg.UserClass
}

func unpack(res tg.MessagesMessagesClass) (page, error) {
	switch m := res.(type) {
	case *tg.MessagesMessages:
		return page{messages: m.Messages, users: m.Users}, nil
	case *tg.MessagesMessagesSlice:
		return page{messages: m.Messages, users: m.Users}, nil
	case *tg.MessagesChannelMessages:
		return page{messages: m.Messages, users: m.Users}, nil
	case *tg.MessagesMessagesNotModified:
		return page{}, nil
	default:
		return page{}, fmt.Errorf("неподдерживаемый тип ответа %T", res)
	}
}

func usernames(users []tg.UserClass) map[int64]string {
	out := make(map[int64]string, len(users))
	for _, u := range users {
		if user, ok := u.(*tg.User); ok && user.Username != "" {
			out[user.ID] = user.Username
		}
	}
	return out
}

// convertPage переводит ответ API в модели. Пустые сообщения без даты
// пропускаются, служебные сохраняются, иначе страница выглядела бы короче.
func convertPage(res tg.MessagesMessagesClass) ([]models.Message, error) {
	p, err := unpack(res)
	if err != nil {
		return nil, err
	}
	names := usernames(p.users)
	out := make([]models.Message, 0, len(p.messages))
	for _, raw := range p.messages {
		msg, ok := convertMessage(raw, names)
		if ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Поля читаются напрямую: у отсутствующих значений нулевые значения,
// а ID сообщений и каналов всегда положительные.
func convertMessage(raw tg.MessageClass, names map[int64]string) (models.Message, bool) {
	switch m := raw.(type) {
	case *tg.Message:
		msg := models.Message{
			ID:           m.ID,
			Author:       authorOf(m.FromID),
			Timestamp:    time.Unix(int64(m.Date), 0).UTC(),
			Forward:      forwardOf(m.FwdFrom),
			Text:         strings.TrimSpace(m.Message),
			Reactions:    reactionsOf(m.Reactions),
			RepliesCount: m.Replies.Replies,
		}
		msg.ParentID, msg.ThreadRootID = replyOf(m.ReplyTo)
		msg.AuthorUsername = usernameOf(msg.Author, names)
		return msg, true
	case *tg.MessageService:
		msg := models.Message{
			ID:        m.ID,
			Author:    authorOf(m.FromID),
			Timestamp: time.Unix(int64(m.Date), 0).UTC(),
		}
		msg.ParentID, msg.ThreadRootID = replyOf(m.ReplyTo)
		msg.AuthorUsername = usernameOf(msg.Author, names)
		return msg, true
	default:
		return models.Message{}, false
	}
}

func replyOf(h tg.MessageReplyHeaderClass) (parent, top int) {
	if r, ok := h.(*tg.MessageReplyHeader); ok {
		return r.ReplyToMsgID, r.ReplyToTopID
	}
	return 0, 0
}

func authorOf(p tg.PeerClass) models.AuthorPeer {
	switch peer := p.(type) {
	case *tg.PeerUser:
		return models.UserPeer{ID: peer.UserID}
	case *tg.PeerChannel:
		return models.ChannelPeer{ID: peer.ChannelID}
	case *tg.PeerChat:
		return models.ChatPeer{ID: peer.ChatID}
	default:
		return nil
	}
}

func usernameOf(a models.AuthorPeer, names map[int64]string) string {
	if u, ok := a.(models.UserPeer); ok {
		return names[u.ID]
	}
	return ""
}

// forwardOf возвращает исходный пост канала. Автопересылка в группу
// обсуждения несёт from_id и channel_post, а saved_from_* — запасной вариант.
func forwardOf(h tg.MessageFwdHeader) *models.ForwardOrigin {
	if ch, ok := h.FromID.(*tg.PeerChannel); ok && h.ChannelPost != 0 {
		return &models.ForwardOrigin{ChannelID: ch.ChannelID, PostID: h.ChannelPost}
	}
	if ch, ok := h.SavedFromPeer.(*tg.PeerChannel); ok && h.SavedFromMsgID != 0 {
		return &models.ForwardOrigin{ChannelID: ch.ChannelID, PostID: h.SavedFromMsgID}
	}
	return nil
}

func reactionsOf(r tg.MessageReactions) *models.Reactions {
	if len(r.Results) == 0 {
		return nil
	}
	out := &models.Reactions{Items: make([]models.ReactionItem, 0, len(r.Results))}
	for _, rc := range r.Results {
		item := models.ReactionItem{Count: rc.Count}
		switch reaction := rc.Reaction.(type) {
		case *tg.ReactionEmoji:
			item.Type = models.ReactionEmoji
			item.Value = reaction.Emoticon
		case *tg.ReactionCustomEmoji:
			item.Type = models.ReactionCustomEmoji
			item.DocumentID = strconv.FormatInt(reaction.DocumentID, 10)
		default:
			item.Type = models.ReactionUnknown
			if rc.Reaction != nil {
				item.Raw = rc.Reaction.TypeName()
			}
		}
		out.Total += rc.Count
		out.Items = append(out.Items, item)
	}
	return out
}
