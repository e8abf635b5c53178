package models

import "errors"

// Ошибки разрешения канала. Их возвращает привязка к Telegram,
// а менеджер запусков превращает в понятные пользователю сообщения.
var (
	ErrPeerNotFound  = errors.New("канал не найден или нет доступа")
	ErrNotBroadcast  = errors.New("это не канал")
	ErrNoUsername    = errors.New("у канала нет username")
	ErrNoDiscussion  = errors.New("у канала нет группы обсуждения")
	ErrPeerInfoEmpty = errors.New("не удалось получить данные канала")
)

// IsPeerError сообщает, что канал не подходит. Повтор запроса тут не поможет.
func IsPeerError(err error) bool {
	return errors.Is(err, ErrPeerNotFound) ||
		errors.Is(err, ErrNotBroadcast) ||
		errors.Is(err, ErrNoUsername) ||
		errors.Is(err, ErrNoDiscussion) ||
		errors.Is(err, ErrPeerInfoEmpty)
}
