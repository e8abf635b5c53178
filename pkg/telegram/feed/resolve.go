package feed

import (
	"context"
	"fmt"
	"strings"

	"corecu_go/models"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
)

// normalizeIdentifier принимает @name, name или ссылку t.me.
func normalizeIdentifier(identifier string) string {
	s := strings.TrimSpace(identifier)
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/", "@"} {
		s = strings.TrimPrefix(s, prefix)
	}
	if i := strings.IndexAny(s, "/?"); i >= 0 {
		s = s[:i]
	}
	return s
}

// findChannel ищет вещательный канал с нужным ID среди чатов ответа.
func findChannel(chats []tg.ChatClass, id int64) (*tg.Channel, error) {
	for _, raw := range chats {
		ch, ok := raw.(*tg.Channel)
		if !ok || ch.ID != id {
			continue
		}
		if ch.Megagroup || !ch.Broadcast {
			return nil, models.ErrNotBroadcast
		}
		return ch, nil
	}
	return nil, models.ErrPeerNotFound
}

func notFound(err error) bool {
	return tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID", "CHANNEL_PRIVATE", "CHANNEL_INVALID")
}

// ResolvePeer находит публичный канал и привязанную к нему группу обсуждения.
func (f *Feed) ResolvePeer(ctx context.Context, identifier string) (models.PeerInfo, error) {
	username := normalizeIdentifier(identifier)
	if username == "" {
		return models.PeerInfo{}, models.ErrPeerNotFound
	}

	resolved, err := f.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	if err != nil {
		if notFound(err) {
			return models.PeerInfo{}, fmt.Errorf("%s: %w", username, models.ErrPeerNotFound)
		}
		return models.PeerInfo{}, fmt.Errorf("resolve %s: %w", username, classify(err))
	}
	peer, ok := resolved.Peer.(*tg.PeerChannel)
	if !ok {
		return models.PeerInfo{}, fmt.Errorf("%s: %w", username, models.ErrNotBroadcast)
	}
	ch, err := findChannel(resolved.Chats, peer.ChannelID)
	if err != nil {
		return models.PeerInfo{}, fmt.Errorf("%s: %w", username, err)
	}
	if ch.Username == "" {
		return models.PeerInfo{}, fmt.Errorf("%s: %w", username, models.ErrNoUsername)
	}

	full, err := f.api.ChannelsGetFullChannel(ctx, &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash})
	if err != nil {
		if notFound(err) {
			return models.PeerInfo{}, fmt.Errorf("%s: %w", username, models.ErrPeerNotFound)
		}
		return models.PeerInfo{}, fmt.Errorf("full channel %s: %w", username, classify(err))
	}
	fullChat, ok := full.FullChat.(*tg.ChannelFull)
	if !ok {
		return models.PeerInfo{}, fmt.Errorf("%s: %w", username, models.ErrPeerInfoEmpty)
	}
	if fullChat.LinkedChatID == 0 {
		return models.PeerInfo{}, fmt.Errorf("%s: %w", username, models.ErrNoDiscussion)
	}

	var discussion *tg.Channel
	for _, raw := range full.Chats {
		if c, ok := raw.(*tg.Channel); ok && c.ID == fullChat.LinkedChatID {
			discussion = c
			break
		}
	}
	if discussion == nil {
		return models.PeerInfo{}, fmt.Errorf("%s: обсуждение %d: %w", username, fullChat.LinkedChatID, models.ErrPeerInfoEmpty)
	}

	info := models.PeerInfo{
		Channel:    models.Peer{ID: ch.ID, AccessHash: ch.AccessHash, Username: ch.Username, Title: ch.Title},
		Discussion: models.Peer{ID: discussion.ID, AccessHash: discussion.AccessHash, Username: discussion.Username, Title: discussion.Title},
	}
	f.log.Info("канал найден",
		zap.String("username", ch.Username),
		zap.Int64("channel_id", ch.ID),
		zap.Int64("discussion_id", discussion.ID),
	)
	return info, nil
}
