package fetch

import (
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gotd/td/tgerr"
)

// Policy задаёт правила повторов при обращении к ленте.
type Policy struct {
	// MaxAttempts — общее число попыток, включая первую.
	MaxAttempts int
	// BaseDelay умножается на номер попытки, пока не упрётся в MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// ParseWait извлекает из ошибки явное время ожидания от сервера.
	ParseWait func(error) (time.Duration, bool)
}

// DefaultPolicy — 10 попыток, 800мс * попытка, не больше 10с.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 10,
		BaseDelay:   800 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		ParseWait:   ParseFloodWait,
	}
}

func (p Policy) backOff() backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(&linearBackOff{base: p.BaseDelay, max: p.MaxDelay}, uint64(attempts-1))
}

func (p Policy) parseWait(err error) (time.Duration, bool) {
	if p.ParseWait == nil {
		return 0, false
	}
	return p.ParseWait(err)
}

// linearBackOff растёт как base*attempt и ограничен сверху max.
type linearBackOff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	d := l.base * time.Duration(l.attempt)
	if l.max > 0 && d > l.max {
		d = l.max
	}
	return d
}

func (l *linearBackOff) Reset() { l.attempt = 0 }

var waitPattern = regexp.MustCompile(`(?i)(?:FLOOD_(?:PREMIUM_)?WAIT|SLOWMODE_WAIT)[_ ]\(?(\d+)|retry[ -]after:?\s*(\d+)`)

// ParseFloodWait распознаёт FLOOD_WAIT из RPC-ошибки gotd, а если её нет —
// ищет число секунд в тексте ошибки (FLOOD_WAIT_30, "retry after 30").
func ParseFloodWait(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return d, true
	}
	m := waitPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	n, convErr := strconv.Atoi(raw)
	if convErr != nil {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
