// Package feed привязывает ленту сообщений и разрешение каналов к MTProto API
// через gotd/td.
package feed

import (
	"context"
	"fmt"

	"corecu_go/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
)

// API — подмножество *tg.Client, которым пользуется лента.
type API interface {
	MessagesGetHistory(ctx context.Context, request *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
	ChannelsGetMessages(ctx context.Context, request *tg.ChannelsGetMessagesRequest) (tg.MessagesMessagesClass, error)
	MessagesGetReplies(ctx context.Context, request *tg.MessagesGetRepliesRequest) (tg.MessagesMessagesClass, error)
	ContactsResolveUsername(ctx context.Context, request *tg.ContactsResolveUsernameRequest) (*tg.ContactsResolvedPeer, error)
	ChannelsGetFullChannel(ctx context.Context, channel tg.InputChannelClass) (*tg.MessagesChatFull, error)
}

type Feed struct {
	api API
	log *zap.Logger
}

func New(api API, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{api: api, log: log.Named("feed")}
}

func inputPeer(p models.Peer) *tg.InputPeerChannel {
	return &tg.InputPeerChannel{ChannelID: p.ID, AccessHash: p.AccessHash}
}

func inputChannel(p models.Peer) *tg.InputChannel {
	return &tg.InputChannel{ChannelID: p.ID, AccessHash: p.AccessHash}
}

// FetchMessages возвращает страницу истории от новых к старым с ID ниже cursor.
func (f *Feed) FetchMessages(ctx context.Context, peer models.Peer, cursor, limit int) ([]models.Message, error) {
	res, err := f.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     inputPeer(peer),
		OffsetID: cursor,
		Limit:    limit,
	})
	if err != nil {
		return nil, classify(err)
	}
	return convertPage(res)
}

// FetchMessageByID возвращает сообщение или nil, если оно удалено.
func (f *Feed) FetchMessageByID(ctx context.Context, peer models.Peer, id int) (*models.Message, error) {
	res, err := f.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: inputChannel(peer),
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: id}},
	})
	if err != nil {
		return nil, classify(err)
	}
	msgs, err := convertPage(res)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ID == id {
			return &msgs[i], nil
		}
	}
	return nil, nil
}

// FetchReplies возвращает страницу комментариев к посту канала.
func (f *Feed) FetchReplies(ctx context.Context, peer models.Peer, msgID, cursor, limit int) ([]models.Message, error) {
	res, err := f.api.MessagesGetReplies(ctx, &tg.MessagesGetRepliesRequest{
		Peer:     inputPeer(peer),
		MsgID:    msgID,
		OffsetID: cursor,
		Limit:    limit,
	})
	if err != nil {
		// у поста без обсуждения комментариев просто нет
		if tgerr.Is(err, "MSG_ID_INVALID") {
			f.log.Debug("пост без обсуждения", zap.Int("post_id", msgID))
			return nil, nil
		}
		return nil, classify(err)
	}
	return convertPage(res)
}

// classify помечает ошибки RPC 4xx, кроме ожиданий, как неповторяемые.
func classify(err error) error {
	if _, ok := tgerr.AsFloodWait(err); ok {
		return err
	}
	rpcErr, ok := tgerr.As(err)
	if !ok {
		return err
	}
	if rpcErr.Code >= 400 && rpcErr.Code < 500 && rpcErr.Code != 420 {
		return backoff.Permanent(fmt.Errorf("rpc %d %s: %w", rpcErr.Code, rpcErr.Type, err))
	}
	return err
}
