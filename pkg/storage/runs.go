package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"

	"corecu_go/models"

	"github.com/google/uuid"
)

// Lock берёт advisory-блокировку Postgres на пару (actor, scope).
// Блокировка сессионная, поэтому держим выделенное соединение до unlock.
func (db *DB) Lock(ctx context.Context, actorID int64, scopeKey string) (func(), error) {
	conn, err := db.Conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("соединение для блокировки: %w", err)
	}
	key := lockKey(actorID, scopeKey)
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock(hashtext($1))", key); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pg_advisory_lock %s: %w", key, err)
	}
	return func() {
		// контекст запроса мог уже закончиться, а отпустить блокировку нужно всегда
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock(hashtext($1))", key); err != nil {
			// сессия с невысвобожденной блокировкой не должна вернуться в пул
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}, nil
}

// LatestRun возвращает запуск с максимальным created_at или nil.
func (db *DB) LatestRun(ctx context.Context, actorID int64, scopeKey string) (*models.RunRecord, error) {
	query := `
               SELECT id, actor_id, scope_key, channel_username, period, started_at, created_at, status, error
               FROM engagement_runs
               WHERE actor_id = $1 AND scope_key = $2
               ORDER BY created_at DESC
               LIMIT 1
       `
	var r models.RunRecord
	var status string
	var errText sql.NullString
	err := db.Conn.QueryRowContext(ctx, query, actorID, scopeKey).Scan(
		&r.ID,
		&r.ActorID,
		&r.ScopeKey,
		&r.ChannelUsername,
		&r.Period,
		&r.StartedAt,
		&r.CreatedAt,
		&status,
		&errText,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Status = models.RunStatus(status)
	if errText.Valid {
		r.Error = &errText.String
	}
	return &r, nil
}

func (db *DB) CreateRun(ctx context.Context, run models.RunRecord) (*models.RunRecord, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.RunRunning
	}
	query := `
               INSERT INTO engagement_runs (id, actor_id, scope_key, channel_username, period, started_at, created_at, status)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
       `
	_, err := db.Conn.ExecContext(ctx, query,
		run.ID,
		run.ActorID,
		run.ScopeKey,
		run.ChannelUsername,
		run.Period,
		run.StartedAt,
		run.CreatedAt,
		string(run.Status),
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FinishRun переводит running в терминальный статус. Повторное завершение
// возвращает ErrRunNotRunning.
func (db *DB) FinishRun(ctx context.Context, id string, status models.RunStatus, errText *string) error {
	if !status.Terminal() {
		return fmt.Errorf("статус %q не терминальный", status)
	}
	res, err := db.Conn.ExecContext(ctx,
		"UPDATE engagement_runs SET status = $1, error = $2 WHERE id = $3 AND status = 'running'",
		string(status), errText, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotRunning
	}
	return nil
}

func lockKey(actorID int64, scopeKey string) string {
	return strconv.FormatInt(actorID, 10) + "/" + scopeKey
}
