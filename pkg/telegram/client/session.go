package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gotd/td/session"
)

// DBSessionStorage хранит сессию MTProto в таблице account_session,
// одна запись на аккаунт.
type DBSessionStorage struct {
	DB      *sql.DB
	Account string
}

func (s *DBSessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	if s == nil || s.DB == nil {
		return nil, session.ErrNotFound
	}
	var data string
	err := s.DB.QueryRowContext(ctx, "SELECT data_json FROM account_session WHERE account = $1", s.Account).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("чтение сессии %s: %w", s.Account, err)
	}
	return []byte(data), nil
}

func (s *DBSessionStorage) StoreSession(ctx context.Context, data []byte) error {
	if s == nil || s.DB == nil {
		return session.ErrNotFound
	}
	_, err := s.DB.ExecContext(
		ctx,
		"INSERT INTO account_session (account, data_json) VALUES ($1, $2) "+
			"ON CONFLICT (account) DO UPDATE SET data_json = EXCLUDED.data_json, date_time = NOW()",
		s.Account,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("сохранение сессии %s: %w", s.Account, err)
	}
	return nil
}
