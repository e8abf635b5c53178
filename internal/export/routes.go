package export

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var timeNow = time.Now

func SetupRoutes(r *gin.RouterGroup, resolver PeerResolver, exporter Exporter, log *zap.Logger) {
	handler := NewHandler(resolver, exporter, log)
	r.POST("/comments", handler.Comments)
}
