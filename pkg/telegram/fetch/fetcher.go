// Package fetch оборачивает чтение ленты повторами с учётом FLOOD_WAIT.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"corecu_go/internal/common"
	"corecu_go/models"
	"corecu_go/pkg/metrics"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Feed — внешний источник сообщений. Реализация на gotd лежит в pkg/telegram/feed.
type Feed interface {
	FetchMessages(ctx context.Context, peer models.Peer, cursor, limit int) ([]models.Message, error)
	FetchMessageByID(ctx context.Context, peer models.Peer, id int) (*models.Message, error)
	FetchReplies(ctx context.Context, peer models.Peer, msgID, cursor, limit int) ([]models.Message, error)
	ResolvePeer(ctx context.Context, identifier string) (models.PeerInfo, error)
}

// Sleeper блокирует текущий запуск на время ожидания.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Fetcher не хранит состояние между вызовами: курсор всегда передаёт вызывающий,
// поэтому повторный вызов после ошибки не дублирует уже прочитанное.
type Fetcher struct {
	feed    Feed
	policy  Policy
	sleep   Sleeper
	log     *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Fetcher)

func WithSleeper(s Sleeper) Option { return func(f *Fetcher) { f.sleep = s } }

func WithLogger(l *zap.Logger) Option { return func(f *Fetcher) { f.log = l.Named("fetch") } }

func WithMetrics(m *metrics.Metrics) Option { return func(f *Fetcher) { f.metrics = m } }

func New(feed Feed, policy Policy, opts ...Option) *Fetcher {
	f := &Fetcher{
		feed:   feed,
		policy: policy,
		sleep:  common.ContextSleeper{},
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchPage возвращает страницу сообщений старше cursor. Пустая страница — лента кончилась.
func (f *Fetcher) FetchPage(ctx context.Context, peer models.Peer, cursor, limit int) ([]models.Message, error) {
	var page []models.Message
	err := f.do(ctx, "history", func(ctx context.Context) error {
		var err error
		page, err = f.feed.FetchMessages(ctx, peer, cursor, limit)
		return err
	})
	return page, err
}

// FetchByID возвращает сообщение по ID или nil, если его нет.
func (f *Fetcher) FetchByID(ctx context.Context, peer models.Peer, id int) (*models.Message, error) {
	var msg *models.Message
	err := f.do(ctx, "by_id", func(ctx context.Context) error {
		var err error
		msg, err = f.feed.FetchMessageByID(ctx, peer, id)
		return err
	})
	return msg, err
}

// FetchReplies возвращает страницу ответов на пост канала.
func (f *Fetcher) FetchReplies(ctx context.Context, peer models.Peer, msgID, cursor, limit int) ([]models.Message, error) {
	var page []models.Message
	err := f.do(ctx, "replies", func(ctx context.Context) error {
		var err error
		page, err = f.feed.FetchReplies(ctx, peer, msgID, cursor, limit)
		return err
	})
	return page, err
}

// ResolvePeer находит канал и его группу обсуждения. Ошибки самого канала
// (не найден, не канал, нет обсуждения) возвращаются без повторов.
func (f *Fetcher) ResolvePeer(ctx context.Context, identifier string) (models.PeerInfo, error) {
	var info models.PeerInfo
	err := f.do(ctx, "resolve", func(ctx context.Context) error {
		var err error
		info, err = f.feed.ResolvePeer(ctx, identifier)
		return err
	})
	return info, err
}

func (f *Fetcher) do(ctx context.Context, op string, call func(context.Context) error) error {
	b := f.policy.backOff()
	for attempt := 1; ; attempt++ {
		err := call(ctx)
		if err == nil {
			f.metrics.FetchAttempt(op, "ok")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			f.metrics.FetchAttempt(op, "permanent")
			return fmt.Errorf("%s: %w", op, perm.Err)
		}
		if models.IsPeerError(err) {
			f.metrics.FetchAttempt(op, "permanent")
			return err
		}
		f.metrics.FetchAttempt(op, "error")

		next := b.NextBackOff()
		if next == backoff.Stop {
			f.log.Error("попытки исчерпаны", zap.String("op", op), zap.Int("attempts", attempt), zap.Error(err))
			return &TransientFetchError{Op: op, Attempts: attempt, Err: err}
		}

		delay := next
		if wait, ok := f.policy.parseWait(err); ok {
			delay = wait + time.Second
			f.metrics.FloodWait()
			f.log.Warn("flood wait, ожидание перед повтором",
				zap.String("op", op),
				zap.Duration("wait", wait),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", f.policy.MaxAttempts),
			)
		} else {
			f.log.Warn("ошибка запроса, повтор",
				zap.String("op", op),
				zap.Error(err),
				zap.Duration("delay", delay),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", f.policy.MaxAttempts),
			)
		}

		if err := f.sleep.Sleep(ctx, delay); err != nil {
			return err
		}
		f.metrics.Slept(delay.Seconds())
	}
}
