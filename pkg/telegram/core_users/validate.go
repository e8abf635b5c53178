package core_users

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"corecu_go/models"
)

// ErrResolve — канал не удалось проверить из-за Telegram (сеть, ожидания),
// а не из-за самого канала.
var ErrResolve = errors.New("не удалось проверить канал через Telegram")

// ValidationError возвращается до создания запуска: лимит не расходуется.
// Message предназначено для пользователя.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

var periodPattern = regexp.MustCompile(`^(\d{1,3})d$`)

// ParsePeriod разбирает период вида "14d" в число суток.
func ParsePeriod(period string, maxDays int) (int, error) {
	m := periodPattern.FindStringSubmatch(strings.TrimSpace(period))
	if m == nil {
		return 0, &ValidationError{Message: "⚠️ Неизвестный период. Доступны, например, 14d и 90d."}
	}
	days, _ := strconv.Atoi(m[1])
	if days < 1 || (maxDays > 0 && days > maxDays) {
		return 0, &ValidationError{Message: fmt.Sprintf("⚠️ Период должен быть от 1 до %d дней.", maxDays)}
	}
	return days, nil
}

// PeriodKey — каноническая запись периода: "014d" и " 14d" дают "14d".
func PeriodKey(days int) string {
	return strconv.Itoa(days) + "d"
}

// NormalizeChannel проверяет формат @channel_name.
func NormalizeChannel(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 2 || !strings.HasPrefix(raw, "@") {
		return "", &ValidationError{Message: "⚠️ Пожалуйста, отправьте @channel_name (например: @my_channel)."}
	}
	if strings.ContainsAny(raw, " /") {
		return "", &ValidationError{Message: "⚠️ Некорректный формат. Отправьте именно @channel_name (без ссылок и пробелов)."}
	}
	return raw, nil
}

// resolveError превращает ошибку разрешения канала в ValidationError.
// Прочие ошибки (сеть, flood) возвращаются как есть: запуск всё равно не создаётся.
func resolveError(channel string, err error) error {
	switch {
	case errors.Is(err, models.ErrPeerNotFound):
		return &ValidationError{Err: err, Message: fmt.Sprintf("❌ Не удалось найти %s или нет доступа.\n\nУбедитесь, что это публичный канал с @username, и попробуйте снова.", channel)}
	case errors.Is(err, models.ErrNotBroadcast):
		return &ValidationError{Err: err, Message: fmt.Sprintf("⚠️ %s — это не канал (похоже на группу).\n\nПожалуйста, отправьте @username именно публичного канала.", channel)}
	case errors.Is(err, models.ErrNoUsername):
		return &ValidationError{Err: err, Message: "⚠️ Канал найден, но у него нет @username.\n\nПоддерживаются только публичные каналы с @username. Попробуйте другой канал."}
	case errors.Is(err, models.ErrNoDiscussion):
		return &ValidationError{Err: err, Message: fmt.Sprintf("⚠️ У канала %s нет подключённой дискуссионной группы.\n\nВключите комментарии (discussion group) в настройках канала и попробуйте снова.", channel)}
	case errors.Is(err, models.ErrPeerInfoEmpty):
		return &ValidationError{Err: err, Message: fmt.Sprintf("❌ Не удалось получить расширенную информацию о канале %s. Попробуйте позже.", channel)}
	default:
		return fmt.Errorf("%w %s: %w", ErrResolve, channel, err)
	}
}

// FormatWait форматирует оставшееся время как "2ч 5м", минимум одна минута.
func FormatWait(d time.Duration) string {
	totalMinutes := int(math.Ceil(d.Minutes()))
	if totalMinutes < 1 {
		totalMinutes = 1
	}
	h, m := totalMinutes/60, totalMinutes%60
	switch {
	case h <= 0:
		return fmt.Sprintf("%dм", m)
	case m == 0:
		return fmt.Sprintf("%dч", h)
	default:
		return fmt.Sprintf("%dч %dм", h, m)
	}
}

// truncateError обрезает текст ошибки до limit символов.
func truncateError(err error, limit int) string {
	text := "unknown error"
	if err != nil && err.Error() != "" {
		text = err.Error()
	}
	r := []rune(text)
	if limit > 0 && len(r) > limit {
		r = r[:limit]
	}
	return string(r)
}
