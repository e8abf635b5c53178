// Package attribution определяет, к какому посту канала относится комментарий
// в группе обсуждения, поднимаясь по цепочке ответов.
package attribution

import (
	"context"

	"corecu_go/models"
	"corecu_go/pkg/metrics"

	"go.uber.org/zap"
)

// DefaultMaxSteps ограничивает подъём по цепочке ответов.
const DefaultMaxSteps = 25

// MessageFetcher получает одно сообщение группы обсуждения по ID.
type MessageFetcher interface {
	FetchByID(ctx context.Context, peer models.Peer, id int) (*models.Message, error)
}

// Resolver создаётся на один запуск вместе со своим кэшем.
type Resolver struct {
	fetcher         MessageFetcher
	discussion      models.Peer
	targetChannelID int64
	maxSteps        int
	cache           *Cache
	log             *zap.Logger
	metrics         *metrics.Metrics
}

type Config struct {
	Discussion      models.Peer
	TargetChannelID int64
	MaxSteps        int
	Cache           *Cache
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
}

func NewResolver(fetcher MessageFetcher, cfg Config) *Resolver {
	r := &Resolver{
		fetcher:         fetcher,
		discussion:      cfg.Discussion,
		targetChannelID: cfg.TargetChannelID,
		maxSteps:        cfg.MaxSteps,
		cache:           cfg.Cache,
		log:             zap.NewNop(),
		metrics:         cfg.Metrics,
	}
	if r.maxSteps <= 0 {
		r.maxSteps = DefaultMaxSteps
	}
	if r.cache == nil {
		r.cache = NewCache()
	}
	if cfg.Logger != nil {
		r.log = cfg.Logger.Named("attribution")
	}
	return r
}

// Cache возвращает кэш запуска.
func (r *Resolver) Cache() *Cache { return r.cache }

// Resolve возвращает ID поста канала, к которому относится сообщение startID.
// Ошибка возвращается только при отмене контекста; ненайденный пост — это (0, false, nil).
// Все пройденные за вызов узлы получают один и тот же итог, поэтому соседние
// комментарии того же треда дальше разрешаются из кэша.
func (r *Resolver) Resolve(ctx context.Context, startID int) (int, bool, error) {
	if startID <= 0 {
		return 0, false, nil
	}

	var visited []int
	seen := make(map[int]struct{})
	finish := func(a Attribution) (int, bool, error) {
		for _, id := range visited {
			r.cache.Set(id, a)
		}
		if a.OK {
			r.metrics.Attribution("resolved")
		} else {
			r.metrics.Attribution("miss")
		}
		return a.PostID, a.OK, nil
	}

	current := startID
	for step := 0; step < r.maxSteps; step++ {
		if cached, ok := r.cache.Get(current); ok {
			if step == 0 {
				r.metrics.Attribution("cached")
				return cached.PostID, cached.OK, nil
			}
			return finish(cached)
		}
		if _, loop := seen[current]; loop {
			r.log.Warn("цикл в цепочке ответов", zap.Int("start", startID), zap.Int("id", current))
			return finish(Attribution{})
		}
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		seen[current] = struct{}{}
		visited = append(visited, current)

		msg, err := r.fetcher.FetchByID(ctx, r.discussion, current)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, false, ctxErr
			}
			r.log.Warn("не удалось получить сообщение цепочки", zap.Int("id", current), zap.Error(err))
			return finish(Attribution{})
		}
		if msg == nil {
			return finish(Attribution{})
		}

		if postID, ok := msg.ForwardedPost(r.targetChannelID); ok {
			return finish(Attribution{PostID: postID, OK: true})
		}

		if msg.ParentID <= 0 {
			return finish(Attribution{})
		}
		current = msg.ParentID
	}

	r.log.Debug("превышен лимит шагов по цепочке", zap.Int("start", startID), zap.Int("max_steps", r.maxSteps))
	return finish(Attribution{})
}
