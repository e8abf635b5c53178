package core_users

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"corecu_go/internal/httputil"
	"corecu_go/models"
	core "corecu_go/pkg/telegram/core_users"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Runner — то, что обработчику нужно от менеджера запусков.
type Runner interface {
	Start(ctx context.Context, req core.StartRequest) (core.StartResult, error)
	Latest(ctx context.Context, actorID int64, channel, period string) (*models.RunRecord, error)
}

type Handler struct {
	Runner Runner
	log    *zap.Logger
}

func NewHandler(runner Runner, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Runner: runner, log: log.Named("core_users_handler")}
}

type runRequest struct {
	ActorID int64  `json:"actor_id" binding:"required"`
	Channel string `json:"channel" binding:"required"`
	Period  string `json:"period"`
}

// Run синхронно строит отчёт. Статус ответа отражает исход запуска.
func (h *Handler) Run(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("неверный формат запроса", zap.Error(err))
		httputil.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.Period == "" {
		req.Period = "14d"
	}

	res, err := h.Runner.Start(c.Request.Context(), core.StartRequest{
		ActorID: req.ActorID,
		Channel: req.Channel,
		Period:  req.Period,
	})
	if err != nil {
		h.respondStartError(c, res, err)
		return
	}

	switch res.Outcome {
	case core.OutcomeLimited:
		httputil.RespondErrorWith(c, http.StatusTooManyRequests, res.Message, gin.H{
			"outcome":         res.Outcome,
			"next_allowed_at": res.NextAllowedAt,
		})
	case core.OutcomeAlreadyRunning:
		httputil.RespondErrorWith(c, http.StatusConflict, res.Message, gin.H{
			"outcome": res.Outcome,
			"run_id":  res.RunID,
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"outcome": res.Outcome,
			"run_id":  res.RunID,
			"report":  res.Report,
		})
	}
}

func (h *Handler) respondStartError(c *gin.Context, res core.StartResult, err error) {
	var vErr *core.ValidationError
	switch {
	case errors.As(err, &vErr):
		httputil.RespondError(c, http.StatusBadRequest, vErr.Message)
	case res.Outcome == core.OutcomeFailed:
		h.log.Error("запуск завершился ошибкой", zap.String("run_id", res.RunID), zap.Error(err))
		httputil.RespondErrorWith(c, http.StatusBadGateway, res.Message, gin.H{
			"outcome": res.Outcome,
			"run_id":  res.RunID,
		})
	case errors.Is(err, core.ErrResolve):
		h.log.Error("проверка канала не удалась", zap.Error(err))
		httputil.RespondError(c, http.StatusBadGateway, "❌ Не удалось проверить канал через Telegram. Попробуйте позже.")
	default:
		h.log.Error("ошибка запуска", zap.Error(err))
		httputil.RespondError(c, http.StatusInternalServerError, "Internal error")
	}
}

// LatestRun возвращает последний запуск пользователя для канала и периода.
func (h *Handler) LatestRun(c *gin.Context) {
	actorID, err := strconv.ParseInt(c.Query("actor_id"), 10, 64)
	if err != nil || actorID == 0 {
		httputil.RespondError(c, http.StatusBadRequest, "actor_id is required")
		return
	}
	period := c.DefaultQuery("period", "14d")

	run, err := h.Runner.Latest(c.Request.Context(), actorID, c.Query("channel"), period)
	if err != nil {
		h.respondStartError(c, core.StartResult{}, err)
		return
	}
	if run == nil {
		httputil.RespondError(c, http.StatusNotFound, "run not found")
		return
	}
	c.JSON(http.StatusOK, run)
}
