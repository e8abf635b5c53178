// Package scanner листает ленту страницами от новых сообщений к старым
// и останавливается, как только выходит за начало окна.
package scanner

import (
	"context"
	"time"

	"corecu_go/models"
	"corecu_go/pkg/metrics"

	"go.uber.org/zap"
)

const (
	DefaultPageSize   = 100
	DefaultMaxScanned = 50_000
)

// StopReason — причина завершения сканирования.
type StopReason string

const (
	// StopExhausted — лента закончилась (страница короче запрошенной).
	StopExhausted StopReason = "exhausted"
	// StopWindow — встречено сообщение старше начала окна.
	StopWindow StopReason = "window"
	// StopSafetyCap — превышен предохранитель по числу просмотренных сообщений.
	// Это не ошибка: отчёт строится по уже просмотренной части.
	StopSafetyCap StopReason = "safety_cap"
	// StopStalled — страница не сдвинула курсор.
	StopStalled StopReason = "stalled"
)

// Window — закрытый интервал времени [From, To].
type Window struct {
	From time.Time
	To   time.Time
}

// LastDays возвращает окно последних days суток до now.
func LastDays(now time.Time, days int) Window {
	return Window{From: now.Add(-time.Duration(days) * 24 * time.Hour), To: now}
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

type Options struct {
	PageSize   int
	MaxScanned int
}

// PageFetcher читает страницу ленты старше cursor.
type PageFetcher interface {
	FetchPage(ctx context.Context, peer models.Peer, cursor, limit int) ([]models.Message, error)
}

// Result описывает, сколько было просмотрено и почему сканирование остановилось.
type Result struct {
	Scanned int
	Visited int
	Pages   int
	Stop    StopReason
}

type Scanner struct {
	fetcher PageFetcher
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(fetcher PageFetcher, opts Options, log *zap.Logger, m *metrics.Metrics) *Scanner {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxScanned <= 0 {
		opts.MaxScanned = DefaultMaxScanned
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{fetcher: fetcher, opts: opts, log: log.Named("scanner"), metrics: m}
}

// Scan вызывает visit для каждого сообщения окна ровно один раз в порядке ленты.
// Лента должна быть невозрастающей по времени: первое сообщение старше
// window.From завершает сканирование вместе с остатком страницы.
// Ошибка visit прерывает сканирование и возвращается как есть.
func (s *Scanner) Scan(ctx context.Context, peer models.Peer, window Window, visit func(models.Message) error) (Result, error) {
	var res Result
	cursor := 0
	defer func() {
		s.metrics.Scanned(res.Scanned)
		if res.Stop != "" {
			s.metrics.ScanStop(string(res.Stop))
		}
	}()

	for {
		page, err := s.fetcher.FetchPage(ctx, peer, cursor, s.opts.PageSize)
		if err != nil {
			return res, err
		}
		res.Pages++
		if len(page) == 0 {
			res.Stop = StopExhausted
			return res, nil
		}

		next := cursor
		for _, m := range page {
			if cursor > 0 && m.ID >= cursor {
				// Дубликат с предыдущей страницы.
				continue
			}
			if res.Scanned >= s.opts.MaxScanned {
				s.log.Warn("сработал предохранитель по числу сообщений",
					zap.Int64("peer", peer.ID), zap.Int("max_scanned", s.opts.MaxScanned))
				res.Stop = StopSafetyCap
				return res, nil
			}
			res.Scanned++
			if m.Timestamp.Before(window.From) {
				res.Stop = StopWindow
				return res, nil
			}
			if next == 0 || m.ID < next {
				next = m.ID
			}
			if m.Timestamp.After(window.To) {
				continue
			}
			if err := visit(m); err != nil {
				return res, err
			}
			res.Visited++
		}

		if len(page) < s.opts.PageSize {
			res.Stop = StopExhausted
			return res, nil
		}
		if next == cursor {
			s.log.Warn("страница не сдвинула курсор", zap.Int64("peer", peer.ID), zap.Int("cursor", cursor))
			res.Stop = StopStalled
			return res, nil
		}
		cursor = next
	}
}
