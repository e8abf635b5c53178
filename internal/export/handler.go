package export

import (
	"context"
	"errors"
	"net/http"

	"corecu_go/internal/httputil"
	"corecu_go/models"
	"corecu_go/pkg/telegram/scanner"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultDays = 90
	maxDays     = 365
)

type PeerResolver interface {
	ResolvePeer(ctx context.Context, identifier string) (models.PeerInfo, error)
}

type Exporter interface {
	Export(ctx context.Context, target models.PeerInfo, window scanner.Window) (*models.ChannelExport, error)
}

type Handler struct {
	Resolver PeerResolver
	Exporter Exporter
	log      *zap.Logger
}

func NewHandler(resolver PeerResolver, exporter Exporter, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Resolver: resolver, Exporter: exporter, log: log.Named("export_handler")}
}

// Comments выгружает посты канала за последние days дней с деревьями комментариев.
func (h *Handler) Comments(c *gin.Context) {
	var req struct {
		Channel string `json:"channel" binding:"required"`
		Days    int    `json:"days"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.Days == 0 {
		req.Days = defaultDays
	}
	if req.Days < 1 || req.Days > maxDays {
		httputil.RespondError(c, http.StatusBadRequest, "days must be between 1 and 365")
		return
	}

	ctx := c.Request.Context()
	info, err := h.Resolver.ResolvePeer(ctx, req.Channel)
	if err != nil {
		if isPeerError(err) {
			httputil.RespondError(c, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("проверка канала не удалась", zap.String("channel", req.Channel), zap.Error(err))
		httputil.RespondError(c, http.StatusBadGateway, "Failed to resolve channel")
		return
	}

	exp, err := h.Exporter.Export(ctx, info, scanner.LastDays(timeNow(), req.Days))
	if err != nil {
		h.log.Error("выгрузка не удалась", zap.String("channel", info.Channel.Username), zap.Error(err))
		httputil.RespondError(c, http.StatusBadGateway, "Export failed")
		return
	}
	c.JSON(http.StatusOK, exp)
}

func isPeerError(err error) bool {
	for _, target := range []error{
		models.ErrPeerNotFound,
		models.ErrNotBroadcast,
		models.ErrNoUsername,
		models.ErrNoDiscussion,
		models.ErrPeerInfoEmpty,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
