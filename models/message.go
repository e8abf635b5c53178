package models

import "time"

// AuthorPeer — автор сообщения в обсуждении: пользователь, канал или чат.
// Набор вариантов закрыт: реализовать интерфейс могут только типы этого пакета.
type AuthorPeer interface {
	PeerID() int64
	authorPeer()
}

// UserPeer — сообщение написал обычный пользователь.
type UserPeer struct{ ID int64 }

// ChannelPeer — сообщение отправлено от имени канала (в том числе автопересылка поста).
type ChannelPeer struct{ ID int64 }

// ChatPeer — сообщение отправлено от имени группы.
type ChatPeer struct{ ID int64 }

func (p UserPeer) PeerID() int64    { return p.ID }
func (p ChannelPeer) PeerID() int64 { return p.ID }
func (p ChatPeer) PeerID() int64    { return p.ID }

func (UserPeer) authorPeer()    {}
func (ChannelPeer) authorPeer() {}
func (ChatPeer) authorPeer()    {}

// ForwardOrigin описывает пересланный пост канала: откуда и какой пост.
type ForwardOrigin struct {
	ChannelID int64 `json:"channel_id"`
	PostID    int   `json:"post_id"`
}

// Message — сообщение ленты, уже очищенное от деталей MTProto.
// Нулевые ParentID и ThreadRootID означают отсутствие значения.
type Message struct {
	ID             int            `json:"id"`
	ParentID       int            `json:"parent_id,omitempty"`
	ThreadRootID   int            `json:"thread_root_id,omitempty"`
	Author         AuthorPeer     `json:"-"`
	AuthorUsername string         `json:"author_username,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Forward        *ForwardOrigin `json:"forward,omitempty"`
	Text           string         `json:"text,omitempty"`
	Reactions      *Reactions     `json:"reactions,omitempty"`
	RepliesCount   int            `json:"replies_count,omitempty"`
}

// ForwardedPost возвращает id поста, если сообщение переслано из канала channelID.
func (m Message) ForwardedPost(channelID int64) (int, bool) {
	if m.Forward == nil || m.Forward.ChannelID != channelID || m.Forward.PostID <= 0 {
		return 0, false
	}
	return m.Forward.PostID, true
}

// AuthorID возвращает идентификатор автора или 0, если автор неизвестен.
func (m Message) AuthorID() int64 {
	if m.Author == nil {
		return 0
	}
	return m.Author.PeerID()
}

// Peer — ссылка на канал или супергруппу, достаточная для вызовов API.
type Peer struct {
	ID         int64  `json:"id"`
	AccessHash int64  `json:"-"`
	Username   string `json:"username,omitempty"`
	Title      string `json:"title,omitempty"`
}

// PeerInfo объединяет канал и привязанную к нему группу обсуждения.
type PeerInfo struct {
	Channel    Peer `json:"channel"`
	Discussion Peer `json:"discussion"`
}
