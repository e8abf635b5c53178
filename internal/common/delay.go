package common

import (
	"context"
	"time"
)

// Sleep ждёт указанное время, но прерывается при отмене контекста.
// Возвращает ошибку контекста, чтобы вызывающая сторона прекратила работу.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ContextSleeper — обёртка над Sleep для мест, где ожидание внедряется как зависимость.
type ContextSleeper struct{}

func (ContextSleeper) Sleep(ctx context.Context, d time.Duration) error { return Sleep(ctx, d) }
