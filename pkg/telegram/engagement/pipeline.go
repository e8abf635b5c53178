package engagement

import (
	"context"
	"fmt"

	"corecu_go/models"
	"corecu_go/pkg/metrics"
	"corecu_go/pkg/telegram/attribution"
	"corecu_go/pkg/telegram/scanner"

	"go.uber.org/zap"
)

// Fetcher — всё, что конвейеру нужно от ленты: страницы и сообщения по ID.
type Fetcher interface {
	scanner.PageFetcher
	attribution.MessageFetcher
}

type Options struct {
	Scan     scanner.Options
	MaxSteps int
	TopN     int
}

// Pipeline связывает сканер, резолвер и агрегатор. Кэш и накопители
// создаются заново на каждый вызов Run.
type Pipeline struct {
	fetcher Fetcher
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewPipeline(fetcher Fetcher, opts Options, log *zap.Logger, m *metrics.Metrics) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{fetcher: fetcher, opts: opts, log: log, metrics: m}
}

// Run сканирует группу обсуждения за окно и возвращает рейтинг авторов.
func (p *Pipeline) Run(ctx context.Context, target models.PeerInfo, window scanner.Window) (models.EngagementReport, error) {
	resolver := attribution.NewResolver(p.fetcher, attribution.Config{
		Discussion:      target.Discussion,
		TargetChannelID: target.Channel.ID,
		MaxSteps:        p.opts.MaxSteps,
		Cache:           attribution.NewCache(),
		Logger:          p.log,
		Metrics:         p.metrics,
	})
	collector := NewCollector(resolver)
	sc := scanner.New(p.fetcher, p.opts.Scan, p.log, p.metrics)

	res, err := sc.Scan(ctx, target.Discussion, window, func(m models.Message) error {
		return collector.Add(ctx, m)
	})
	if err != nil {
		return models.EngagementReport{}, fmt.Errorf("сканирование обсуждения %d: %w", target.Discussion.ID, err)
	}

	report := collector.Report(window, p.opts.TopN)
	report.Scanned = res.Scanned
	report.Partial = res.Stop == scanner.StopSafetyCap

	p.log.Info("отчёт построен",
		zap.String("channel", target.Channel.Username),
		zap.Int("scanned", res.Scanned),
		zap.Int("visited", res.Visited),
		zap.String("stop", string(res.Stop)),
		zap.Int("authors", len(report.Items)),
		zap.Int("unattributed", collector.Unattributed),
		zap.Int("skipped_authors", collector.SkippedAuthors),
		zap.Int("cache", resolver.Cache().Len()),
	)
	return report, nil
}
