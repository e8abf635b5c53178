package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"corecu_go/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix  = "corecu"
	defaultLockTTL      = 30 * time.Second
	defaultLockInterval = 50 * time.Millisecond
)

// снимаем блокировку, только если она всё ещё наша
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRunStore хранит запуски в Redis: запись JSON по id и указатель
// на последний запуск пары (actor, scope).
type RedisRunStore struct {
	client    *redis.Client
	prefix    string
	lockTTL   time.Duration
	retention time.Duration
}

type RedisOptions struct {
	Prefix  string
	LockTTL time.Duration
	// Retention — срок хранения записей, 0 — без срока.
	Retention time.Duration
}

func NewRedisRunStore(client *redis.Client, opts RedisOptions) *RedisRunStore {
	if opts.Prefix == "" {
		opts.Prefix = defaultRedisPrefix
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	return &RedisRunStore{client: client, prefix: opts.Prefix, lockTTL: opts.LockTTL, retention: opts.Retention}
}

// ConnRedis подключается к Redis и проверяет PING.
func ConnRedis(ctx context.Context, addr, password string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisRunStore) runKey(id string) string { return s.prefix + ":run:" + id }

func (s *RedisRunStore) latestKey(actorID int64, scopeKey string) string {
	return s.prefix + ":latest:" + lockKey(actorID, scopeKey)
}

func (s *RedisRunStore) lockKey(actorID int64, scopeKey string) string {
	return s.prefix + ":lock:" + lockKey(actorID, scopeKey)
}

// Lock ждёт SET NX с TTL. TTL страхует от упавшего держателя.
func (s *RedisRunStore) Lock(ctx context.Context, actorID int64, scopeKey string) (func(), error) {
	key := s.lockKey(actorID, scopeKey)
	token := uuid.NewString()
	ticker := time.NewTicker(defaultLockInterval)
	defer ticker.Stop()
	for {
		ok, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return func() {
				_ = releaseScript.Run(context.Background(), s.client, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *RedisRunStore) LatestRun(ctx context.Context, actorID int64, scopeKey string) (*models.RunRecord, error) {
	id, err := s.client.Get(ctx, s.latestKey(actorID, scopeKey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run, err := s.get(ctx, s.client, id)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return run, err
}

func (s *RedisRunStore) get(ctx context.Context, c redis.Cmdable, id string) (*models.RunRecord, error) {
	raw, err := c.Get(ctx, s.runKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var run models.RunRecord
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("разбор запуска %s: %w", id, err)
	}
	return &run, nil
}

func (s *RedisRunStore) CreateRun(ctx context.Context, run models.RunRecord) (*models.RunRecord, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.RunRunning
	}
	raw, err := json.Marshal(run)
	if err != nil {
		return nil, err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.runKey(run.ID), raw, s.retention)
		pipe.Set(ctx, s.latestKey(run.ActorID, run.ScopeKey), run.ID, s.retention)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FinishRun обновляет запись под WATCH, чтобы два завершения не перезаписали друг друга.
func (s *RedisRunStore) FinishRun(ctx context.Context, id string, status models.RunStatus, errText *string) error {
	if !status.Terminal() {
		return fmt.Errorf("статус %q не терминальный", status)
	}
	key := s.runKey(id)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		run, err := s.get(ctx, tx, id)
		if errors.Is(err, redis.Nil) {
			return ErrRunNotRunning
		}
		if err != nil {
			return err
		}
		if run.Status != models.RunRunning {
			return ErrRunNotRunning
		}
		run.Status = status
		run.Error = errText
		raw, err := json.Marshal(run)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, redis.KeepTTL)
			return nil
		})
		return err
	}, key)
}
