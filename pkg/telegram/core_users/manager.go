// Package core_users управляет запусками отчёта «ядро пользователей канала»:
// проверка входа, лимит раз в сутки на пользователя и область, запись
// результата запуска.
package core_users

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"corecu_go/models"
	"corecu_go/pkg/metrics"
	"corecu_go/pkg/telegram/scanner"

	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeLimited        Outcome = "limited"
	OutcomeAlreadyRunning Outcome = "already-running"
	OutcomeFailed         Outcome = "failed"
)

const (
	DefaultRateLimitWindow = 24 * time.Hour
	DefaultFreshWindow     = 20 * time.Minute
	DefaultErrorLimit      = 2000
	DefaultMaxPeriodDays   = 365
)

// PeerResolver находит канал и его группу обсуждения по @username.
type PeerResolver interface {
	ResolvePeer(ctx context.Context, identifier string) (models.PeerInfo, error)
}

// ReportPipeline строит отчёт по уже проверенному каналу.
type ReportPipeline interface {
	Run(ctx context.Context, target models.PeerInfo, window scanner.Window) (models.EngagementReport, error)
}

// RunStore хранит записи о запусках. Lock сериализует проверку лимита и
// создание записи для одной пары (actor, scope).
type RunStore interface {
	Lock(ctx context.Context, actorID int64, scopeKey string) (unlock func(), err error)
	LatestRun(ctx context.Context, actorID int64, scopeKey string) (*models.RunRecord, error)
	CreateRun(ctx context.Context, run models.RunRecord) (*models.RunRecord, error)
	FinishRun(ctx context.Context, id string, status models.RunStatus, errText *string) error
}

type Config struct {
	RateLimitWindow time.Duration
	FreshWindow     time.Duration
	ErrorLimit      int
	MaxPeriodDays   int
	FinishTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		RateLimitWindow: DefaultRateLimitWindow,
		FreshWindow:     DefaultFreshWindow,
		ErrorLimit:      DefaultErrorLimit,
		MaxPeriodDays:   DefaultMaxPeriodDays,
		FinishTimeout:   10 * time.Second,
	}
}

type StartRequest struct {
	ActorID int64
	Channel string
	Period  string
}

type StartResult struct {
	Outcome       Outcome
	Message       string
	RunID         string
	NextAllowedAt *time.Time
	Report        *models.EngagementReport
}

type Manager struct {
	resolver PeerResolver
	pipeline ReportPipeline
	store    RunStore
	cfg      Config
	log      *zap.Logger
	metrics  *metrics.Metrics

	// Now подменяется в тестах.
	Now func() time.Time
}

func NewManager(resolver PeerResolver, pipeline ReportPipeline, store RunStore, cfg Config, log *zap.Logger, m *metrics.Metrics) *Manager {
	def := DefaultConfig()
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = def.RateLimitWindow
	}
	if cfg.FreshWindow <= 0 {
		cfg.FreshWindow = def.FreshWindow
	}
	if cfg.ErrorLimit <= 0 {
		cfg.ErrorLimit = def.ErrorLimit
	}
	if cfg.MaxPeriodDays <= 0 {
		cfg.MaxPeriodDays = def.MaxPeriodDays
	}
	if cfg.FinishTimeout <= 0 {
		cfg.FinishTimeout = def.FinishTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		resolver: resolver,
		pipeline: pipeline,
		store:    store,
		cfg:      cfg,
		log:      log.Named("core_users"),
		metrics:  m,
		Now:      time.Now,
	}
}

// ScopeKey — область лимита: канал и период.
func ScopeKey(channelID int64, period string) string {
	return strconv.FormatInt(channelID, 10) + ":" + period
}

type target struct {
	info   models.PeerInfo
	days   int
	period string
	scope  string
}

// validate проверяет период, формат канала и сам канал в Telegram.
// Ничего не пишет в хранилище.
func (m *Manager) validate(ctx context.Context, req StartRequest) (target, error) {
	days, err := ParsePeriod(req.Period, m.cfg.MaxPeriodDays)
	if err != nil {
		return target{}, err
	}
	channel, err := NormalizeChannel(req.Channel)
	if err != nil {
		return target{}, err
	}
	info, err := m.resolver.ResolvePeer(ctx, channel)
	if err != nil {
		return target{}, resolveError(channel, err)
	}
	period := PeriodKey(days)
	return target{info: info, days: days, period: period, scope: ScopeKey(info.Channel.ID, period)}, nil
}

// Start проверяет запрос, применяет лимит и синхронно строит отчёт.
// ValidationError и ошибки хранилища до создания запуска возвращаются
// с пустым результатом: квота не расходуется.
func (m *Manager) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	t, err := m.validate(ctx, req)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			m.metrics.RunRejected("validation")
		}
		return StartResult{}, err
	}

	run, rejected, err := m.reserve(ctx, req, t)
	if err != nil {
		return StartResult{}, err
	}
	if rejected != nil {
		m.metrics.RunRejected(string(rejected.Outcome))
		return *rejected, nil
	}

	log := m.log.With(zap.String("run_id", run.ID), zap.Int64("actor_id", req.ActorID), zap.String("scope", t.scope))
	log.Info("запуск отчёта", zap.String("channel", t.info.Channel.Username), zap.Int("days", t.days))

	window := scanner.LastDays(m.Now(), t.days)
	report, runErr := m.execute(ctx, t.info, window)

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.FinishTimeout)
	defer cancel()

	if runErr != nil {
		text := truncateError(runErr, m.cfg.ErrorLimit)
		if err := m.store.FinishRun(finishCtx, run.ID, models.RunFailed, &text); err != nil {
			log.Error("не удалось записать статус failed", zap.Error(err))
		}
		m.metrics.RunFinished(string(models.RunFailed))
		log.Warn("запуск завершился ошибкой", zap.Error(runErr))
		return StartResult{
			Outcome: OutcomeFailed,
			RunID:   run.ID,
			Message: "❌ Не удалось сформировать отчёт. Попробуйте позже.",
		}, runErr
	}

	if err := m.store.FinishRun(finishCtx, run.ID, models.RunSuccess, nil); err != nil {
		// отчёт уже построен, отдаём его, но без записи success лимит считается по running
		log.Error("не удалось записать статус success", zap.Error(err))
	}
	m.metrics.RunFinished(string(models.RunSuccess))
	log.Info("запуск завершён", zap.Int("items", len(report.Items)), zap.Bool("partial", report.Partial))

	return StartResult{Outcome: OutcomeSuccess, RunID: run.ID, Report: &report}, nil
}

// reserve под блокировкой проверяет последний запуск и создаёт новый.
// Возвращает либо созданную запись, либо готовый отказ.
func (m *Manager) reserve(ctx context.Context, req StartRequest, t target) (*models.RunRecord, *StartResult, error) {
	unlock, err := m.store.Lock(ctx, req.ActorID, t.scope)
	if err != nil {
		return nil, nil, fmt.Errorf("блокировка %d/%s: %w", req.ActorID, t.scope, err)
	}
	defer unlock()

	last, err := m.store.LatestRun(ctx, req.ActorID, t.scope)
	if err != nil {
		return nil, nil, fmt.Errorf("последний запуск %d/%s: %w", req.ActorID, t.scope, err)
	}
	now := m.Now()
	if res := m.checkLimit(last, now); res != nil {
		return nil, res, nil
	}

	run, err := m.store.CreateRun(ctx, models.RunRecord{
		ActorID:         req.ActorID,
		ScopeKey:        t.scope,
		ChannelUsername: t.info.Channel.Username,
		Period:          t.period,
		StartedAt:       now,
		CreatedAt:       now,
		Status:          models.RunRunning,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("создание запуска %d/%s: %w", req.ActorID, t.scope, err)
	}
	return run, nil, nil
}

func (m *Manager) checkLimit(last *models.RunRecord, now time.Time) *StartResult {
	if last == nil || last.CreatedAt.IsZero() {
		return nil
	}
	if last.Status == models.RunRunning && now.Sub(last.CreatedAt) < m.cfg.FreshWindow {
		return &StartResult{
			Outcome: OutcomeAlreadyRunning,
			RunID:   last.ID,
			Message: "⏳ Отчёт уже формируется. Подождите немного и попробуйте снова.",
		}
	}
	next := last.CreatedAt.Add(m.cfg.RateLimitWindow)
	if now.Before(next) && last.Status != models.RunFailed {
		return &StartResult{
			Outcome:       OutcomeLimited,
			RunID:         last.ID,
			NextAllowedAt: &next,
			Message: fmt.Sprintf("⚠️ Отчёт по этому каналу за этот период можно генерировать только 1 раз в %s.\n\nПопробуйте снова через %s.",
				FormatWait(m.cfg.RateLimitWindow), FormatWait(next.Sub(now))),
		}
	}
	return nil
}

// execute запускает конвейер; паника превращается в ошибку запуска.
func (m *Manager) execute(ctx context.Context, info models.PeerInfo, window scanner.Window) (report models.EngagementReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника при построении отчёта: %v", r)
		}
	}()
	return m.pipeline.Run(ctx, info, window)
}

// Latest возвращает последний запуск пользователя для канала и периода.
// nil без ошибки, если запусков не было.
func (m *Manager) Latest(ctx context.Context, actorID int64, channel, period string) (*models.RunRecord, error) {
	t, err := m.validate(ctx, StartRequest{ActorID: actorID, Channel: channel, Period: period})
	if err != nil {
		return nil, err
	}
	return m.store.LatestRun(ctx, actorID, t.scope)
}
